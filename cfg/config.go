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
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindFlags registers every Config field as a flag on fs, the way the
// teacher's generated cfg.BindFlags wires --implicit-dirs-style options
// onto the cobra command. Flag names use the config's own yaml-ish
// kebab-case so viper's automatic env/flag binding lines up without an
// explicit key map.
func BindFlags(fs *pflag.FlagSet) error {
	fs.String("mount-path", "", "directory to mount the checkout at")
	fs.String("client-dir", "", "private directory for the .eden control socket and metadata")
	fs.Bool("case-sensitive", true, "whether path lookups are case sensitive")
	fs.Bool("require-utf8", true, "reject non-UTF-8 paths during checkout")
	fs.String("overlay-type", string(OverlayMemory), "overlay backend: memory, bbolt, or none")
	fs.String("protocol", string(ProtocolFUSE), "kernel channel protocol: fuse, nfs, or projection")
	fs.String("dir-mode", "0755", "octal mode applied to synthesized directories")
	fs.String("file-mode", "0644", "octal mode applied to synthesized files")
	fs.Duration("kernel-request-timeout", 60*time.Second, "timeout applied to individual kernel requests")
	fs.Int("channel-thread-count", 16, "number of goroutines serving the kernel channel")
	fs.Int("max-inflight-requests", 256, "maximum number of kernel requests served concurrently")
	fs.Int("prefetch-concurrency", 8, "maximum number of concurrent background prefetches")
	fs.Duration("parent-lock-timeout", 500*time.Millisecond, "timeout for acquiring the parent-commit lock during checkout")
	fs.String("logging.severity", string(SeverityInfo), "minimum log severity: trace, debug, info, warn, error, off")
	fs.String("logging.format", "text", "log output format: text or json")
	fs.String("logging.file-path", "", "file to write logs to; empty logs to stderr")
	return nil
}

// BindViper binds every flag in fs into v under its own name; callers run
// this right after registering flags on the cobra command.
func BindViper(v *viper.Viper, fs *pflag.FlagSet) error {
	return v.BindPFlags(fs)
}

// Decode converts v's fully merged settings (flags, env, config file, in
// that priority order) into a validated, rationalized Config.
func Decode(v *viper.Viper) (*Config, error) {
	var c Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       DecodeHook(),
		WeaklyTypedInput: true,
		Result:           &c,
		TagName:          "yaml",
	})
	if err != nil {
		return nil, decodeErr(err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, decodeErr(err)
	}
	if v.IsSet("case-sensitive") {
		c.SetCaseSensitive(c.CaseSensitive)
	}

	setDefaults(&c)
	c.Rationalize()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("cfg: %w", err)
	}
	return &c, nil
}
