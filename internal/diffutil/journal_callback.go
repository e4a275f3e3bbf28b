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

package diffutil

import (
	"sync"

	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
)

// JournalDiffCallback accumulates the paths a checkout changed or found
// locally modified ("unclean"), to be folded into a single
// KindUncleanPaths journal entry at the end of the transaction.
type JournalDiffCallback struct {
	mu      sync.Mutex
	unclean map[string]struct{}
	errs    map[string]error
}

func NewJournalDiffCallback() *JournalDiffCallback {
	return &JournalDiffCallback{unclean: make(map[string]struct{})}
}

var _ Callback = (*JournalDiffCallback)(nil)

func (c *JournalDiffCallback) IgnoredFile(string) {}

// AddedFile does not mark p unclean: a newly added path was never locally
// modified relative to the old parent, so it has nothing to report as
// unclean even though it is a real difference from the prior commit.
func (c *JournalDiffCallback) AddedFile(string, objectstore.TreeEntry) {}

func (c *JournalDiffCallback) RemovedFile(p string, _ objectstore.TreeEntry) {
	c.mark(p)
}

func (c *JournalDiffCallback) ModifiedFile(p string, _, _ objectstore.TreeEntry) {
	c.mark(p)
}

func (c *JournalDiffCallback) DiffError(p string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errs == nil {
		c.errs = make(map[string]error)
	}
	c.errs[p] = err
}

func (c *JournalDiffCallback) mark(p string) {
	c.mu.Lock()
	c.unclean[p] = struct{}{}
	c.mu.Unlock()
}

// StealUncleanPaths returns the accumulated path set and resets it: a
// "steal" (take-and-clear) so a callback instance can be reused across
// checkouts without carrying stale entries forward.
func (c *JournalDiffCallback) StealUncleanPaths() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.unclean
	c.unclean = make(map[string]struct{})
	return out
}

// Errors returns a snapshot of every per-path diff error observed.
func (c *JournalDiffCallback) Errors() map[string]error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]error, len(c.errs))
	for k, v := range c.errs {
		out[k] = v
	}
	return out
}
