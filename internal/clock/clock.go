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

// Package clock gives the mount lifecycle a testable notion of time: the
// last-checkout timestamp, lock-acquire timeouts, and channel request
// timeouts are all read through a clock rather than time.Now directly.
package clock

import "time"

// Clock is satisfied by both RealClock and SimulatedClock. Its shape
// mirrors github.com/jacobsa/timeutil.Clock plus After(); no package in
// this module imports timeutil itself.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock reports wall-clock time.
type RealClock struct{}

func NewRealClock() RealClock { return RealClock{} }

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
