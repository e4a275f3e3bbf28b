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

// Package faultinjection implements the ("mount"|"checkout"|"inodeCheckout",
// path) gates that initialize() and the checkout phases pass through.
// Tests install blocks/errors on specific keys to exercise cancellation
// and failure paths deterministically.
package faultinjection

import (
	"context"
	"fmt"
	"sync"
)

// Key identifies a single gate, e.g. {"checkout", "/mnt/repo"}.
type Key struct {
	Class string
	Path  string
}

// Injector gates operations by (class, path) key. The zero value is a
// fully-open gate (every Wait call returns immediately with no error),
// matching production behavior when no fault injection is configured.
type Injector struct {
	mu    sync.Mutex
	block map[Key]chan struct{}
	err   map[Key]error
}

func New() *Injector {
	return &Injector{
		block: make(map[Key]chan struct{}),
		err:   make(map[Key]error),
	}
}

// Block makes the given key wait until Release(key) is called, letting a test pause a mount/checkout mid-flight.
func (i *Injector) Block(key Key) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.block[key] = make(chan struct{})
}

// Release lets a previously-blocked key proceed.
func (i *Injector) Release(key Key) {
	i.mu.Lock()
	ch, ok := i.block[key]
	delete(i.block, key)
	i.mu.Unlock()
	if ok {
		close(ch)
	}
}

// FailWith makes the given key return err every time it is waited on,
// until another FailWith call replaces it.
func (i *Injector) FailWith(key Key, err error) {
	i.mu.Lock()
	i.err[key] = err
	i.mu.Unlock()
}

// Wait passes the gate for key, blocking if the key is currently blocked
// and returning an injected error if one is configured.
func (i *Injector) Wait(ctx context.Context, key Key) error {
	i.mu.Lock()
	ch := i.block[key]
	err := i.err[key]
	i.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("faultinjection: %s %s: %w", key.Class, key.Path, ctx.Err())
		}
	}
	return err
}
