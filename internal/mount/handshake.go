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

package mount

import "sync"

// broadcastPromise is fulfilled exactly once; every Wait() call after
// that observes the same (err) outcome. Once set, it is never cleared or
// replaced; promises are self-synchronising.
type broadcastPromise struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newBroadcastPromise() *broadcastPromise {
	return &broadcastPromise{done: make(chan struct{})}
}

func (p *broadcastPromise) fulfill(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *broadcastPromise) wait() error {
	<-p.done
	return p.err
}

func (p *broadcastPromise) isSet() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// MountingHandshake tracks the mount-start and unmount-start promises
// used for cancellation between start_channel and unmount.
type MountingHandshake struct {
	mu sync.Mutex

	mountPromise   *broadcastPromise // fulfilled once kernel attach succeeds or fails
	unmountPromise *broadcastPromise // fulfilled once detach completes

	unmountStarted bool
}

func NewMountingHandshake() *MountingHandshake {
	return &MountingHandshake{}
}

// BeginMount installs a fresh mount promise. Called once, at the start of
// start_channel. Returns the promise so the caller can fulfill it when
// attach succeeds or fails.
func (h *MountingHandshake) BeginMount() *mountPromiseHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mountPromise = newBroadcastPromise()
	return &mountPromiseHandle{p: h.mountPromise}
}

type mountPromiseHandle struct{ p *broadcastPromise }

func (h *mountPromiseHandle) Fulfill(err error) { h.p.fulfill(err) }

// WaitForMountStarted blocks until the mount promise is fulfilled (or
// returns immediately with "not started" if one was never begun).
func (h *MountingHandshake) WaitForMountStarted() (started bool, err error) {
	h.mu.Lock()
	p := h.mountPromise
	h.mu.Unlock()
	if p == nil {
		return false, nil
	}
	return true, p.wait()
}

// BeginUnmount returns the existing unmount promise if unmount() was
// already called, or installs a new one and
// marks unmountStarted so an in-flight channel attach observes
// ChannelUnmountStarted() and aborts. If no mount was ever begun, the new
// promise is already resolved with a nil error.
func (h *MountingHandshake) BeginUnmount() (promise *unmountPromiseHandle, alreadyStarted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unmountPromise != nil {
		return &unmountPromiseHandle{p: h.unmountPromise}, true
	}
	h.unmountPromise = newBroadcastPromise()
	h.unmountStarted = true
	if h.mountPromise == nil {
		h.unmountPromise.fulfill(nil)
	}
	return &unmountPromiseHandle{p: h.unmountPromise}, false
}

type unmountPromiseHandle struct{ p *broadcastPromise }

func (h *unmountPromiseHandle) Fulfill(err error) { h.p.fulfill(err) }
func (h *unmountPromiseHandle) Wait() error       { return h.p.wait() }

// ChannelUnmountStarted reports whether unmount() has been called,
// regardless of whether it has completed. ChannelAttach polls this to
// decide whether to abort an in-flight attach.
func (h *MountingHandshake) ChannelUnmountStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unmountStarted
}

// MountEverStarted reports whether start_channel was ever invoked. Used
// by unmount() to resolve immediately when no mount ever started.
func (h *MountingHandshake) MountEverStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mountPromise != nil
}
