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

// Validate checks a decoded Config for internally inconsistent settings
// that BindFlags/viper decoding cannot catch on its own, mirroring the
// teacher's Config.Validate pass.
func (c *Config) Validate() error {
	if c.MountPath == "" {
		return fmt.Errorf("cfg: mount-path is required")
	}
	if c.ClientDir == "" {
		return fmt.Errorf("cfg: client-dir is required")
	}
	if string(c.MountPath) == string(c.ClientDir) {
		return fmt.Errorf("cfg: mount-path and client-dir must differ")
	}

	switch c.Protocol {
	case ProtocolFUSE, ProtocolNFS, ProtocolProjection:
	default:
		return &InvalidValueError{Field: "protocol", Value: string(c.Protocol)}
	}

	switch c.OverlayType {
	case OverlayMemory, OverlayBbolt, OverlayNone:
	default:
		return &InvalidValueError{Field: "overlay-type", Value: string(c.OverlayType)}
	}

	if c.ChannelThreadCount <= 0 {
		return fmt.Errorf("cfg: channel-thread-count must be positive, got %d", c.ChannelThreadCount)
	}
	if c.MaxInflightRequests <= 0 {
		return fmt.Errorf("cfg: max-inflight-requests must be positive, got %d", c.MaxInflightRequests)
	}
	if c.PrefetchConcurrency <= 0 {
		return fmt.Errorf("cfg: prefetch-concurrency must be positive, got %d", c.PrefetchConcurrency)
	}
	if c.KernelRequestTimeout <= 0 {
		return fmt.Errorf("cfg: kernel-request-timeout must be positive, got %s", c.KernelRequestTimeout)
	}
	if c.ParentLockTimeout <= 0 {
		return fmt.Errorf("cfg: parent-lock-timeout must be positive, got %s", c.ParentLockTimeout)
	}

	if _, ok := severityRank[c.Logging.Severity]; !ok {
		return &InvalidValueError{Field: "logging.severity", Value: string(c.Logging.Severity)}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return &InvalidValueError{Field: "logging.format", Value: c.Logging.Format}
	}

	for _, b := range c.FaultInjectionBlocks {
		switch b.Gate {
		case "mount", "checkout", "inodeCheckout":
		default:
			return &InvalidValueError{Field: "fault-injection-blocks.gate", Value: b.Gate}
		}
	}

	return nil
}
