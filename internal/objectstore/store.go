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

// Package objectstore is the content-addressed blob/tree fetcher consumed
// by the checkout and diff engines. It is deliberately not backed by any
// particular wire protocol: root ids are opaque byte strings.
package objectstore

import (
	"context"
	"fmt"
	"sync"
)

// RootID identifies an immutable source-control tree. Opaque to this
// package; callers typically derive it from a commit hash.
type RootID string

// EntryType is one of the four tree entry kinds named in the glossary.
type EntryType int

const (
	EntryTree EntryType = iota
	EntryRegularFile
	EntryExecutableFile
	EntrySymlink
)

func (t EntryType) String() string {
	switch t {
	case EntryTree:
		return "TREE"
	case EntryRegularFile:
		return "REGULAR_FILE"
	case EntryExecutableFile:
		return "EXECUTABLE_FILE"
	case EntrySymlink:
		return "SYMLINK"
	default:
		return "UNKNOWN"
	}
}

// TreeEntry is one child of a Tree.
type TreeEntry struct {
	Name string
	Type EntryType
	// ID is the child's root id (for TREE) or blob id (otherwise).
	ID RootID
}

// Tree is the fetched, decoded representation of a root id of type TREE.
type Tree struct {
	RootID  RootID
	Entries []TreeEntry
}

// Lookup returns the entry with the given basename, if any.
func (t *Tree) Lookup(basename string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == basename {
			return e, true
		}
	}
	return TreeEntry{}, false
}

var ErrNotFound = fmt.Errorf("objectstore: not found")

// Store is the tree/blob fetcher a Mount is wired to.
type Store interface {
	GetRootTree(ctx context.Context, root RootID, fctx *FetchContext) (*Tree, error)
	GetTreeEntryForRootID(ctx context.Context, root RootID, t EntryType, basename string, fctx *FetchContext) (TreeEntry, error)
	// GetBlob returns the byte contents addressed by a blob id (REGULAR_FILE,
	// EXECUTABLE_FILE or SYMLINK entry id).
	GetBlob(ctx context.Context, id RootID, fctx *FetchContext) ([]byte, error)
}

// FetchContext aggregates per-request fetch statistics, merged into the
// CheckoutTimes/telemetry at the end of a checkout or diff.
type FetchContext struct {
	mu           sync.Mutex
	TreesFetched int
	BlobsFetched int
}

func NewFetchContext() *FetchContext { return &FetchContext{} }

func (f *FetchContext) recordTree() {
	f.mu.Lock()
	f.TreesFetched++
	f.mu.Unlock()
}

func (f *FetchContext) recordBlob() {
	f.mu.Lock()
	f.BlobsFetched++
	f.mu.Unlock()
}

// Merge adds other's counters into f. Used to fold a diff's fetch context
// into the owning checkout's fetch context.
func (f *FetchContext) Merge(other *FetchContext) {
	if other == nil {
		return
	}
	other.mu.Lock()
	trees, blobs := other.TreesFetched, other.BlobsFetched
	other.mu.Unlock()

	f.mu.Lock()
	f.TreesFetched += trees
	f.BlobsFetched += blobs
	f.mu.Unlock()
}

// Snapshot returns a stable copy of the counters for telemetry emission.
func (f *FetchContext) Snapshot() (trees, blobs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.TreesFetched, f.BlobsFetched
}

// MemStore is a deterministic in-memory Store, used by tests and by the
// end-to-end scenarios exercised against a full lifecycle. It is not a
// production backend: no wire protocol is owned by this module.
type MemStore struct {
	mu    sync.RWMutex
	trees map[RootID]*Tree
	blobs map[RootID][]byte
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		trees: make(map[RootID]*Tree),
		blobs: make(map[RootID][]byte),
	}
}

// PutTree registers a tree under its root id, for test setup.
func (s *MemStore) PutTree(t *Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees[t.RootID] = t
}

// PutBlob registers blob content under an id, for test setup.
func (s *MemStore) PutBlob(id RootID, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = content
}

func (s *MemStore) GetRootTree(_ context.Context, root RootID, fctx *FetchContext) (*Tree, error) {
	s.mu.RLock()
	t, ok := s.trees[root]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("objectstore: root %q: %w", root, ErrNotFound)
	}
	if fctx != nil {
		fctx.recordTree()
	}
	return t, nil
}

func (s *MemStore) GetTreeEntryForRootID(ctx context.Context, root RootID, entryType EntryType, basename string, fctx *FetchContext) (TreeEntry, error) {
	t, err := s.GetRootTree(ctx, root, fctx)
	if err != nil {
		return TreeEntry{}, err
	}
	e, ok := t.Lookup(basename)
	if !ok || e.Type != entryType {
		return TreeEntry{}, fmt.Errorf("objectstore: %q in %q: %w", basename, root, ErrNotFound)
	}
	return e, nil
}

func (s *MemStore) GetBlob(_ context.Context, id RootID, fctx *FetchContext) ([]byte, error) {
	s.mu.RLock()
	b, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("objectstore: blob %q: %w", id, ErrNotFound)
	}
	if fctx != nil {
		fctx.recordBlob()
	}
	return b, nil
}
