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

// Package cfg holds the resolved, validated configuration for a mount
// process: flags, environment, and config file values merged through
// viper and decoded onto typed structs.
package cfg

import "time"

// Protocol names the kernel-facing channel a mount attaches through.
type Protocol string

const (
	ProtocolFUSE       Protocol = "fuse"
	ProtocolNFS        Protocol = "nfs"
	ProtocolProjection Protocol = "projection"
)

func (p *Protocol) UnmarshalText(text []byte) error {
	v := Protocol(text)
	switch v {
	case ProtocolFUSE, ProtocolNFS, ProtocolProjection:
		*p = v
		return nil
	default:
		return &InvalidValueError{Field: "protocol", Value: string(text)}
	}
}

// OverlayType names the overlay backend a mount persists directory
// materializations to.
type OverlayType string

const (
	OverlayMemory OverlayType = "memory"
	OverlayBbolt  OverlayType = "bbolt"
	OverlayNone   OverlayType = "none"
)

func (o *OverlayType) UnmarshalText(text []byte) error {
	v := OverlayType(text)
	switch v {
	case OverlayMemory, OverlayBbolt, OverlayNone:
		*o = v
		return nil
	default:
		return &InvalidValueError{Field: "overlay_type", Value: string(text)}
	}
}

// LogSeverity ranks the package-level severities accepted by
// --logging.severity, used to gate the program's slog.LevelVar.
type LogSeverity string

const (
	SeverityTrace LogSeverity = "trace"
	SeverityDebug LogSeverity = "debug"
	SeverityInfo  LogSeverity = "info"
	SeverityWarn  LogSeverity = "warn"
	SeverityError LogSeverity = "error"
	SeverityOff   LogSeverity = "off"
)

var severityRank = map[LogSeverity]int{
	SeverityTrace: 0,
	SeverityDebug: 1,
	SeverityInfo:  2,
	SeverityWarn:  3,
	SeverityError: 4,
	SeverityOff:   5,
}

func (s *LogSeverity) UnmarshalText(text []byte) error {
	v := LogSeverity(text)
	if _, ok := severityRank[v]; !ok {
		return &InvalidValueError{Field: "log_severity", Value: string(text)}
	}
	*s = v
	return nil
}

// IsAtLeast reports whether s is at least as severe as other.
func (s LogSeverity) IsAtLeast(other LogSeverity) bool {
	return severityRank[s] >= severityRank[other]
}

// Octal parses file-mode flags given in base-8 textual form (e.g. "755"),
// as used by --dir-mode/--file-mode.
type Octal uint32

func (o *Octal) UnmarshalText(text []byte) error {
	var v uint32
	if _, err := fmtSscanOctal(string(text), &v); err != nil {
		return err
	}
	*o = Octal(v)
	return nil
}

// ResolvedPath is an absolute, symlink-resolved filesystem path, decoded
// through a local resolver.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	resolved, err := resolvePathText(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(resolved)
	return nil
}

// InvalidValueError reports a config field that failed to decode or
// validate.
type InvalidValueError struct {
	Field string
	Value string
}

func (e *InvalidValueError) Error() string {
	return "cfg: invalid value " + e.Value + " for " + e.Field
}

// LoggingConfig configures the process-wide logger. Referenced by defaults.go/rationalize.go/validate.go and by
// internal/logger.InitLogFile.
type LoggingConfig struct {
	Severity   LogSeverity         `yaml:"severity,omitempty"`
	Format     string              `yaml:"format,omitempty"` // "text" or "json"
	FilePath   ResolvedPath        `yaml:"file-path,omitempty"`
	LogRotate  LogRotateLoggingConfig `yaml:"log-rotate,omitempty"`
}

// LogRotateLoggingConfig exposes lumberjack.Logger's rotation knobs as
// config so operators can tune log retention per mount.
type LogRotateLoggingConfig struct {
	MaxFileSizeMB  int  `yaml:"max-file-size-mb,omitempty"`
	BackupFileCount int `yaml:"backup-file-count,omitempty"`
	Compress        bool `yaml:"compress,omitempty"`
}

// FaultBlockSpec names one (gate, path) fault-injection block, matching
// the Block/Release surface in internal/faultinjection.
type FaultBlockSpec struct {
	Gate string `yaml:"gate,omitempty"`
	Path string `yaml:"path,omitempty"`
}

// Config is the fully resolved configuration for one mount process.
type Config struct {
	MountPath     ResolvedPath `yaml:"mount-path,omitempty"`
	ClientDir     ResolvedPath `yaml:"client-dir,omitempty"`
	CaseSensitive bool         `yaml:"case-sensitive,omitempty"`
	RequireUTF8   bool         `yaml:"require-utf8,omitempty"`
	OverlayType   OverlayType  `yaml:"overlay-type,omitempty"`
	Protocol      Protocol     `yaml:"protocol,omitempty"`
	DirMode       Octal        `yaml:"dir-mode,omitempty"`
	FileMode      Octal        `yaml:"file-mode,omitempty"`

	KernelRequestTimeout  time.Duration `yaml:"kernel-request-timeout,omitempty"`
	ChannelThreadCount    int           `yaml:"channel-thread-count,omitempty"`
	MaxInflightRequests   int           `yaml:"max-inflight-requests,omitempty"`
	PrefetchConcurrency   int           `yaml:"prefetch-concurrency,omitempty"`
	ParentLockTimeout     time.Duration `yaml:"parent-lock-timeout,omitempty"`

	FaultInjectionBlocks []FaultBlockSpec `yaml:"fault-injection-blocks,omitempty"`

	Logging LoggingConfig `yaml:"logging,omitempty"`

	caseSensitiveSet bool
}

// SetCaseSensitive records an explicit operator choice, exempting it from
// Rationalize's platform-default override.
func (c *Config) SetCaseSensitive(v bool) {
	c.CaseSensitive = v
	c.caseSensitiveSet = true
}
