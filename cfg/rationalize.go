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

import "runtime"

// Rationalize adjusts interdependent fields after flags/file/env are all
// merged, reconciling settings that depend on each other or on the host
// platform.
func (c *Config) Rationalize() {
	if c.Protocol == ProtocolProjection && runtime.GOOS != "windows" {
		// Projection only exists on Windows; fall back to the
		// platform's native channel rather than handing Validate a
		// combination it could only ever reject.
		c.Protocol = ProtocolFUSE
	}

	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		// Default to case-insensitive on platforms whose native
		// filesystems are case-insensitive, unless the operator set
		// case-sensitive explicitly (recorded by Decode through
		// SetCaseSensitive).
		if !c.caseSensitiveSet {
			c.CaseSensitive = false
		}
	}

	if c.OverlayType == OverlayNone && c.Protocol == ProtocolNFS {
		// NFS re-issues LOOKUPs aggressively on cache miss; an
		// overlay is required to avoid refetching trees on every
		// lookup storm.
		c.OverlayType = OverlayMemory
	}
}
