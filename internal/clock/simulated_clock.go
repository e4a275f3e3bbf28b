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

import (
	"sync"
	"time"
)

// SimulatedClock lets tests drive checkout timeouts, last-checkout-time
// updates, and lock-acquire timeouts deterministically without sleeping.
type SimulatedClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []pendingTimer
}

type pendingTimer struct {
	fireAt time.Time
	ch     chan time.Time
}

var _ Clock = (*SimulatedClock)(nil)

// NewSimulatedClock returns a clock initially reporting t.
func NewSimulatedClock(t time.Time) *SimulatedClock {
	return &SimulatedClock{now: t}
}

func (sc *SimulatedClock) Now() time.Time {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.now
}

// SetTime sets the clock to t and fires any timers whose deadline has
// passed.
func (sc *SimulatedClock) SetTime(t time.Time) {
	sc.mu.Lock()
	sc.now = t
	sc.fireExpiredLocked()
	sc.mu.Unlock()
}

// AdvanceTime moves the clock forward (or backward, for negative d) by d.
func (sc *SimulatedClock) AdvanceTime(d time.Duration) {
	sc.mu.Lock()
	sc.now = sc.now.Add(d)
	sc.fireExpiredLocked()
	sc.mu.Unlock()
}

// After returns a channel that receives its deadline now+d once the
// simulated time reaches or passes it. A non-positive d fires immediately
// with the current time.
func (sc *SimulatedClock) After(d time.Duration) <-chan time.Time {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	ch := make(chan time.Time, 1)
	fireAt := sc.now.Add(d)
	if d <= 0 || !fireAt.After(sc.now) {
		ch <- sc.now
		return ch
	}

	sc.pending = append(sc.pending, pendingTimer{fireAt: fireAt, ch: ch})
	return ch
}

// fireExpiredLocked must be called with sc.mu held.
func (sc *SimulatedClock) fireExpiredLocked() {
	remaining := sc.pending[:0]
	for _, p := range sc.pending {
		if !p.fireAt.After(sc.now) {
			p.ch <- p.fireAt
		} else {
			remaining = append(remaining, p)
		}
	}
	sc.pending = remaining
}
