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

package clock

import "time"

// FakeClock reports real wall-clock time from Now but fires After after a
// fixed WaitTime regardless of the requested duration, useful for tests
// that want to exercise real concurrency without waiting out a long
// configured timeout.
type FakeClock struct {
	WaitTime time.Duration
}

func (c *FakeClock) Now() time.Time { return time.Now() }

func (c *FakeClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time)
	go func() {
		time.Sleep(c.WaitTime)
		ch <- time.Now()
	}()
	return ch
}
