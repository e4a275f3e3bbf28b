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

import "fmt"

// String renders a Config for startup logs ahead of a mount attempt.
func (c Config) String() string {
	return fmt.Sprintf(
		"mount=%s client=%s protocol=%s overlay=%s case_sensitive=%t require_utf8=%t threads=%d max_inflight=%d",
		c.MountPath, c.ClientDir, c.Protocol, c.OverlayType, c.CaseSensitive, c.RequireUTF8,
		c.ChannelThreadCount, c.MaxInflightRequests,
	)
}
