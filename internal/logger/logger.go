// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package logger provides the process-wide structured logger used
// throughout a mount process: a slog.Logger configured for either text
// or JSON output, at a configured severity. Changing the format or the
// log destination rebuilds the handler rather than adjusting it in place.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/googlecloudplatform/scmfuse/cfg"
)

// Severity names accepted by setLoggingLevel/InitLogFile, preserved as
// the plain uppercase strings the legacy --log-severity flag always
// used, now decoupled from any bucket-mount-specific config package.
const (
	LevelNameTrace   = "TRACE"
	LevelNameDebug   = "DEBUG"
	LevelNameInfo    = "INFO"
	LevelNameWarning = "WARNING"
	LevelNameError   = "ERROR"
	LevelNameOff     = "OFF"
)

// slog.Level constants spanning below Debug (Trace) and above Error
// (Off), extending slog's builtin four levels to six.
const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelOff   slog.Level = slog.LevelError + 4
)

var levelNameToSlog = map[string]slog.Level{
	LevelNameTrace:   LevelTrace,
	LevelNameDebug:   LevelDebug,
	LevelNameInfo:    LevelInfo,
	LevelNameWarning: LevelWarn,
	LevelNameError:   LevelError,
	LevelNameOff:     LevelOff,
}

// LegacyLogRotateConfig mirrors the pre-cfg flag-era log-rotation
// knobs, accepted by InitLogFile alongside the new cfg.LoggingConfig
// during the migration window.
type LegacyLogRotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

// LegacyLogConfig mirrors the pre-cfg flag-era log config, accepted by
// InitLogFile as a first argument alongside the resolved cfg.LoggingConfig.
type LegacyLogConfig struct {
	LogRotateConfig LegacyLogRotateConfig
}

// loggerFactory holds the live destination and formatting state that
// createJsonOrTextHandler and InitLogFile mutate; defaultLoggerFactory
// is the single process-wide instance package functions operate on.
type loggerFactory struct {
	file            *os.File
	sysWriter       io.Writer
	format          string
	level           string
	logRotateConfig cfg.LogRotateLoggingConfig
}

var defaultLoggerFactory = &loggerFactory{
	level:  LevelNameInfo,
	format: "text",
}

var defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, new(slog.LevelVar), ""))

// createJsonOrTextHandler builds a slog.Handler writing to w at the
// severity tracked by programLevel, in either "json" or "text" form,
// every record's level name rewritten to the package's severity names
// (WARNING instead of slog's WARN, for parity with the legacy format).
func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	// Anything other than an explicit "text" defaults to JSON: a
	// fail-open choice for an unset --logging.format flag.
	json := f.format != "text"

	replace := func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey:
			t, _ := a.Value.Any().(time.Time)
			if json {
				a.Key = "timestamp"
				a.Value = slog.GroupValue(
					slog.Int64("seconds", t.Unix()),
					slog.Int64("nanos", int64(t.Nanosecond())),
				)
			} else {
				a.Value = slog.StringValue(t.Format("2006/01/02 15:04:05.000000"))
			}
		case slog.LevelKey:
			lvl, _ := a.Value.Any().(slog.Level)
			a.Key = "severity"
			a.Value = slog.StringValue(severityLabel(lvl))
		case slog.MessageKey:
			a.Key = "message"
			if prefix != "" {
				a.Value = slog.StringValue(prefix + a.Value.String())
			}
		}
		return a
	}

	opts := &slog.HandlerOptions{Level: programLevel, ReplaceAttr: replace}

	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func severityLabel(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	case l < LevelOff:
		return "ERROR"
	default:
		return "OFF"
	}
}

// setLoggingLevel maps a severity name onto programLevel, gating every
// handler built against it.
func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	lvl, ok := levelNameToSlog[level]
	if !ok {
		lvl = LevelInfo
	}
	programLevel.Set(lvl)
}

// SetLogFormat switches the process-wide logger between "text" and
// "json" output, rebuilding defaultLogger in place so already-obtained
// references to package-level Infof/... keep working.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	rebuildDefaultLogger()
}

func rebuildDefaultLogger() {
	programLevel := new(slog.LevelVar)
	setLoggingLevel(defaultLoggerFactory.level, programLevel)

	var w io.Writer = os.Stderr
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	} else if defaultLoggerFactory.sysWriter != nil {
		w = defaultLoggerFactory.sysWriter
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
}

// InitLogFile opens the configured log destination and rebuilds the
// process-wide logger against it, merging the legacy log-rotation
// config with the resolved cfg.LoggingConfig so both sources stay
// reconciled during the transition to the generated cfg package.
func InitLogFile(legacy LegacyLogConfig, newCfg cfg.LoggingConfig) error {
	rotate := cfg.LogRotateLoggingConfig{
		MaxFileSizeMB:   legacy.LogRotateConfig.MaxFileSizeMB,
		BackupFileCount: legacy.LogRotateConfig.BackupFileCount,
		Compress:        legacy.LogRotateConfig.Compress,
	}
	if newCfg.LogRotate.MaxFileSizeMB != 0 {
		rotate = newCfg.LogRotate
	}

	defaultLoggerFactory.logRotateConfig = rotate
	level := string(newCfg.Severity)
	if name, ok := map[cfg.LogSeverity]string{
		cfg.SeverityTrace: LevelNameTrace, cfg.SeverityDebug: LevelNameDebug,
		cfg.SeverityInfo: LevelNameInfo, cfg.SeverityWarn: LevelNameWarning,
		cfg.SeverityError: LevelNameError, cfg.SeverityOff: LevelNameOff,
	}[newCfg.Severity]; ok {
		level = name
	}
	defaultLoggerFactory.level = level
	if defaultLoggerFactory.format = newCfg.Format; defaultLoggerFactory.format == "" {
		defaultLoggerFactory.format = "text"
	}

	if newCfg.FilePath != "" {
		// Opened directly rather than through lumberjack so
		// defaultLoggerFactory.file stays a plain *os.File; callers
		// wanting rotation wrap a lumberjack.Logger with NewAsyncLogger
		// themselves and pass it as sysWriter.
		f, err := os.OpenFile(string(newCfg.FilePath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("logger: open log file %q: %w", newCfg.FilePath, err)
		}
		defaultLoggerFactory.file = f
		defaultLoggerFactory.sysWriter = nil
	}

	rebuildDefaultLogger()
	return nil
}

// Tracef logs at trace severity, the package's most verbose level.
func Tracef(format string, args ...any) { log(LevelTrace, format, args...) }

// Debugf logs at debug severity.
func Debugf(format string, args ...any) { log(LevelDebug, format, args...) }

// Infof logs at info severity.
func Infof(format string, args ...any) { log(LevelInfo, format, args...) }

// Warnf logs at warning severity.
func Warnf(format string, args ...any) { log(LevelWarn, format, args...) }

// Errorf logs at error severity.
func Errorf(format string, args ...any) { log(LevelError, format, args...) }

func log(level slog.Level, format string, args ...any) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}
