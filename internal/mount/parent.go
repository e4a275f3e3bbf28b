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

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
)

// DefaultLockTimeout is the 500ms bound placed on ParentCommit lock
// acquisition for checkout and parent-enforcing diff.
const DefaultLockTimeout = 500 * time.Millisecond

// ErrLockTimeout is returned by AcquireWriter/AcquireReader when the
// timeout elapses before the lock is available.
var ErrLockTimeout = errors.New("mount: parent commit lock acquire timed out")

// ParentCommit is the reader/writer-locked holder of the mount's current
// commit root id. It exposes timed lock acquisition because
// the core never blocks indefinitely on this lock.
type ParentCommit struct {
	mu sync.RWMutex
	id objectstore.RootID
}

func NewParentCommit() *ParentCommit { return &ParentCommit{} }

// Get returns the current root id. Safe to call without holding a guard;
// readers observe either the old or the new value, never a torn one.
func (p *ParentCommit) Get() objectstore.RootID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

// WriterGuard is held for the duration of a checkout transaction.
type WriterGuard struct {
	p   *ParentCommit
	set bool
}

// AcquireWriter blocks up to timeout for exclusive access. A checkout
// issued while another checkout holds the parent lock fails within
// >=500ms with CheckoutInProgress — callers translate ErrLockTimeout to
// that domain error.
func (p *ParentCommit) AcquireWriter(ctx context.Context, timeout time.Duration) (*WriterGuard, error) {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		close(done)
	}()

	select {
	case <-done:
		return &WriterGuard{p: p}, nil
	case <-time.After(timeout):
		// The goroutine above is still trying to acquire mu, and no
		// WriterGuard was handed out that could unlock it. To avoid
		// leaking that lock forever, a releaser goroutine waits for the
		// Lock() to land and unlocks it at once.
		go func() {
			<-done
			p.mu.Unlock()
		}()
		return nil, ErrLockTimeout
	case <-ctx.Done():
		go func() {
			<-done
			p.mu.Unlock()
		}()
		return nil, ctx.Err()
	}
}

// Finish persists the new parent and releases the writer guard exactly
// once: phase 9 persists target_root_id as the new parent via checkout
// context finish, releasing the rename lock. (The rename lock itself
// lives in checkout.Engine; Finish here only covers the parent-commit
// writer guard.)
func (g *WriterGuard) Finish(id objectstore.RootID) {
	if g.set {
		return
	}
	g.set = true
	g.p.id = id
	g.p.mu.Unlock()
}

// Release drops the writer guard without changing the stored id — used
// on a failed checkout, which must leave the parent commit unchanged.
func (g *WriterGuard) Release() {
	if g.set {
		return
	}
	g.set = true
	g.p.mu.Unlock()
}

// AcquireReader blocks up to timeout for shared access, used by diff's
// optional parent-enforcement mode.
func (p *ParentCommit) AcquireReader(ctx context.Context, timeout time.Duration) (func(), error) {
	done := make(chan struct{})
	go func() {
		p.mu.RLock()
		close(done)
	}()

	select {
	case <-done:
		return p.mu.RUnlock, nil
	case <-time.After(timeout):
		go func() {
			<-done
			p.mu.RUnlock()
		}()
		return nil, ErrLockTimeout
	case <-ctx.Done():
		go func() {
			<-done
			p.mu.RUnlock()
		}()
		return nil, ctx.Err()
	}
}

// Reset unconditionally sets the parent id without going through a
// checkout transaction, used by the core's reset_parent operation.
// Callers are responsible for also appending the corresponding
// hash-update journal entry.
func (p *ParentCommit) Reset(id objectstore.RootID) (old objectstore.RootID) {
	p.mu.Lock()
	old = p.id
	p.id = id
	p.mu.Unlock()
	return old
}
