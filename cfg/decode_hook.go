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
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// hookFunc decodes the package's custom UnmarshalText-based types that
// mapstructure.TextUnmarshallerHookFunc does not reach on its own
// (pointer-vs-value receiver mismatches, or types needing a pre-pass),
// dispatching by reflect.Type.
func hookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		s, _ := data.(string)

		switch to {
		case reflect.TypeOf(Octal(0)):
			var o Octal
			if err := o.UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return o, nil
		case reflect.TypeOf(LogSeverity("")):
			var sev LogSeverity
			if err := sev.UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return sev, nil
		case reflect.TypeOf(Protocol("")):
			var p Protocol
			if err := p.UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return p, nil
		case reflect.TypeOf(OverlayType("")):
			var o OverlayType
			if err := o.UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return o, nil
		case reflect.TypeOf(ResolvedPath("")):
			var p ResolvedPath
			if err := p.UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return p, nil
		default:
			return data, nil
		}
	}
}

// DecodeHook composes the full mapstructure decode pipeline used to turn
// viper's merged settings map into a Config.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		hookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// decodeErr wraps a mapstructure decode failure with the cfg package's
// own error prefix for consistency with Validate's error shape.
func decodeErr(err error) error {
	return fmt.Errorf("cfg: decode: %w", err)
}
