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

// Package journal is the append-only log of mount-visible changes
// consumed by the core. Two entry shapes matter here: hash
// updates and unclean-paths entries.
package journal

import (
	"sync"

	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
)

// EntryKind distinguishes the two journal entry shapes the core appends.
type EntryKind int

const (
	KindHashUpdate EntryKind = iota
	KindUncleanPaths
)

// Entry is a single journal record.
type Entry struct {
	Kind  EntryKind
	Old   objectstore.RootID // empty for the very first hash-update ("from nothing")
	New   objectstore.RootID
	Paths map[string]struct{} // KindUncleanPaths only
}

// Journal is the in-memory implementation of the append-only log that
// records a mount's parent-commit hash updates and unclean-path markers.
// A production deployment would back this with a durable, mount-local
// log; this module owns no on-disk format.
type Journal struct {
	mu      sync.Mutex
	entries []Entry

	subMu       sync.Mutex
	subscribers map[int]chan Entry
	nextSub     int
	cancelled   bool
}

func New() *Journal {
	return &Journal{subscribers: make(map[int]chan Entry)}
}

// RecordHashUpdate appends a hash-update entry: initialize()'s initial
// "nothing -> parent" record, reset_parent's "old -> new" record, or the
// record of a checkout whose diff found no unclean paths.
func (j *Journal) RecordHashUpdate(old, new objectstore.RootID) {
	j.append(Entry{Kind: KindHashUpdate, Old: old, New: new})
}

// RecordUncleanPaths appends the unclean-paths entry a non-dry-run
// checkout produces when its diff found unclean paths.
func (j *Journal) RecordUncleanPaths(old, new objectstore.RootID, paths map[string]struct{}) {
	cp := make(map[string]struct{}, len(paths))
	for p := range paths {
		cp[p] = struct{}{}
	}
	j.append(Entry{Kind: KindUncleanPaths, Old: old, New: new, Paths: cp})
}

func (j *Journal) append(e Entry) {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()

	j.subMu.Lock()
	for _, ch := range j.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
	j.subMu.Unlock()
}

// Entries returns a snapshot of everything recorded so far, oldest first.
// Tests use this to assert that a given operation appended exactly the
// entries it should and no more.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Subscribe registers a channel that receives every entry appended after
// this call.
func (j *Journal) Subscribe() (id int, ch <-chan Entry) {
	j.subMu.Lock()
	defer j.subMu.Unlock()
	id = j.nextSub
	j.nextSub++
	c := make(chan Entry, 16)
	j.subscribers[id] = c
	return id, c
}

// CancelAllSubscribers tears down every live subscription, as shutdown()
// does.
func (j *Journal) CancelAllSubscribers() {
	j.subMu.Lock()
	defer j.subMu.Unlock()
	for id, ch := range j.subscribers {
		close(ch)
		delete(j.subscribers, id)
	}
	j.cancelled = true
}
