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

import "time"

// setDefaults fills zero-valued fields with the same conservative
// defaults BindFlags registers, so a Config built directly in tests
// without going through viper still behaves sanely.
func setDefaults(c *Config) {
	if c.OverlayType == "" {
		c.OverlayType = OverlayMemory
	}
	if c.Protocol == "" {
		c.Protocol = ProtocolFUSE
	}
	if c.DirMode == 0 {
		c.DirMode = 0755
	}
	if c.FileMode == 0 {
		c.FileMode = 0644
	}
	if c.KernelRequestTimeout == 0 {
		c.KernelRequestTimeout = 60 * time.Second
	}
	if c.ChannelThreadCount == 0 {
		c.ChannelThreadCount = 16
	}
	if c.MaxInflightRequests == 0 {
		c.MaxInflightRequests = 256
	}
	if c.PrefetchConcurrency == 0 {
		c.PrefetchConcurrency = 8
	}
	if c.ParentLockTimeout == 0 {
		c.ParentLockTimeout = 500 * time.Millisecond
	}
	if c.Logging.Severity == "" {
		c.Logging.Severity = SeverityInfo
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.LogRotate.MaxFileSizeMB == 0 {
		c.Logging.LogRotate.MaxFileSizeMB = 10
	}
	if c.Logging.LogRotate.BackupFileCount == 0 {
		c.Logging.LogRotate.BackupFileCount = 2
	}
}
