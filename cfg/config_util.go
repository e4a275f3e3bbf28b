// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// fmtSscanOctal parses s as a base-8 unsigned integer, rejecting anything
// Sscanf would otherwise silently coerce.
func fmtSscanOctal(s string, out *uint32) (int, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("cfg: %q is not a valid octal mode: %w", s, err)
	}
	*out = uint32(v)
	return 1, nil
}

// resolvePathText expands ~, makes the path absolute against the working
// directory, and resolves symlinks.
func resolvePathText(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	expanded := raw
	if raw == "~" || (len(raw) > 1 && raw[:2] == "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cfg: resolve %q: %w", raw, err)
		}
		if raw == "~" {
			expanded = home
		} else {
			expanded = filepath.Join(home, raw[2:])
		}
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("cfg: resolve %q: %w", raw, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			// Not-yet-created paths (e.g. a mount point about to be
			// created) resolve to their absolute form unchanged.
			return abs, nil
		}
		return "", fmt.Errorf("cfg: resolve %q: %w", raw, err)
	}
	return resolved, nil
}
