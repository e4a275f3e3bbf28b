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

// Package diffutil implements DiffEngine: a parallel,
// case-sensitivity-aware recursive comparison between two source-control
// trees, reported through a Callback. JournalDiffCallback
// is the concrete callback the checkout engine drives it with.
package diffutil

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/googlecloudplatform/scmfuse/internal/mount"
	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
	"github.com/googlecloudplatform/scmfuse/internal/workerpool"
)

// ErrOutOfDateParent is returned by Run when parent enforcement is
// enabled and the live ParentCommit no longer matches the root the diff
// was started against.
var ErrOutOfDateParent = errors.New("diffutil: parent commit changed during diff")

// Callback receives every comparison outcome DiffEngine produces for one
// path, across four methods covering the add/remove/modify/ignore cases.
type Callback interface {
	IgnoredFile(p string)
	AddedFile(p string, entry objectstore.TreeEntry)
	RemovedFile(p string, entry objectstore.TreeEntry)
	ModifiedFile(p string, oldEntry, newEntry objectstore.TreeEntry)
	DiffError(p string, err error)
}

// IgnoreMatcher reports whether a path is excluded from the diff by a
// gitignore-style stack, threaded top-down as the walk descends
// directories.
type IgnoreMatcher interface {
	// Matches reports whether relPath (relative to the tree root) is
	// ignored, and returns the matcher to use for relPath's children
	// (gitignore rules nest: a subdirectory may add its own .gitignore).
	Matches(relPath string, isDir bool) (ignored bool, child IgnoreMatcher)
}

// noopMatcher never ignores anything, used when the caller has no
// gitignore stack to apply.
type noopMatcher struct{}

func (noopMatcher) Matches(string, bool) (bool, IgnoreMatcher) { return false, noopMatcher{} }

// Context bundles the per-run settings DiffEngine.Run needs: whether ignored paths are still reported to the
// callback, case sensitivity, the object store, and an optional parent
// guard enforcing the parent commit didn't move mid-diff.
type Context struct {
	Store         objectstore.Store
	Fetch         *objectstore.FetchContext
	CaseSensitive bool
	ListIgnored   bool
	Ignore        IgnoreMatcher

	// Parent and ExpectedParent, when both set, make Run enforce that
	// Parent.Get() == ExpectedParent for the duration of the walk.
	Parent         *mount.ParentCommit
	ExpectedParent objectstore.RootID

	// Concurrency bounds how many directory subtrees are compared in
	// parallel when Pool is nil; <=0 means unbounded (limited only by the
	// object store's own concurrency).
	Concurrency int

	// Pool, when set, dispatches subtree comparisons onto the shared
	// server thread pool instead of each
	// spawning its own goroutine bounded only by a local semaphore.
	Pool *workerpool.StaticWorkerPool
}

// Engine runs recursive tree comparisons.
type Engine struct{}

func New() *Engine { return &Engine{} }

// Run compares oldRoot against newRoot, reporting every difference to cb.
// It returns ErrOutOfDateParent (wrapped) if parent enforcement is
// configured and the parent moved during the walk. Fetch failures,
// including those of the two root trees, are not returned: they are
// reported via cb.DiffError and end only the affected subtree.
func (e *Engine) Run(ctx context.Context, oldRoot, newRoot objectstore.RootID, c Context, cb Callback) error {
	if c.Ignore == nil {
		c.Ignore = noopMatcher{}
	}

	dispatch := newDispatcher(c.Pool, c.Concurrency)
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex
	recordErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	var walk func(relPath string, oldID, newID objectstore.RootID, ignore IgnoreMatcher)
	walk = func(relPath string, oldID, newID objectstore.RootID, ignore IgnoreMatcher) {
		defer wg.Done()

		if c.Parent != nil {
			if live := c.Parent.Get(); live != c.ExpectedParent {
				recordErr(fmt.Errorf("diffutil: %w", ErrOutOfDateParent))
				return
			}
		}

		oldTree, oldErr := e.fetchTree(ctx, c, oldID)
		newTree, newErr := e.fetchTree(ctx, c, newID)
		if oldErr != nil {
			cb.DiffError(relPath, oldErr)
			return
		}
		if newErr != nil {
			cb.DiffError(relPath, newErr)
			return
		}

		byName := make(map[string]struct{ old, new *objectstore.TreeEntry })
		for i := range oldTree.Entries {
			en := oldTree.Entries[i]
			e := byName[en.Name]
			e.old = &oldTree.Entries[i]
			byName[en.Name] = e
		}
		for i := range newTree.Entries {
			en := newTree.Entries[i]
			e := byName[en.Name]
			e.new = &newTree.Entries[i]
			byName[en.Name] = e
		}

		for name, pair := range byName {
			childPath := path.Join(relPath, name)
			isDir := (pair.old != nil && pair.old.Type == objectstore.EntryTree) ||
				(pair.new != nil && pair.new.Type == objectstore.EntryTree)

			ignored, childIgnore := ignore.Matches(childPath, isDir)
			if ignored {
				if c.ListIgnored {
					cb.IgnoredFile(childPath)
				}
				continue
			}

			switch {
			case pair.old == nil:
				cb.AddedFile(childPath, *pair.new)
				if pair.new.Type == objectstore.EntryTree {
					wg.Add(1)
					dispatch(func() { walk(childPath, "", pair.new.ID, childIgnore) })
				}
			case pair.new == nil:
				cb.RemovedFile(childPath, *pair.old)
			case pair.old.Type != pair.new.Type || pair.old.ID != pair.new.ID:
				cb.ModifiedFile(childPath, *pair.old, *pair.new)
				if pair.old.Type == objectstore.EntryTree && pair.new.Type == objectstore.EntryTree {
					wg.Add(1)
					dispatch(func() { walk(childPath, pair.old.ID, pair.new.ID, childIgnore) })
				}
			}
		}
	}

	wg.Add(1)
	dispatch(func() { walk("", oldRoot, newRoot, c.Ignore) })
	wg.Wait()

	return firstErr
}

func (e *Engine) fetchTree(ctx context.Context, c Context, id objectstore.RootID) (*objectstore.Tree, error) {
	if id == "" {
		return &objectstore.Tree{}, nil
	}
	t, err := c.Store.GetRootTree(ctx, id, c.Fetch)
	if err != nil {
		return nil, err
	}
	if !c.CaseSensitive {
		return foldCase(t), nil
	}
	return t, nil
}

// foldCase lower-cases entry names for comparison purposes on
// case-insensitive mounts, folding names before matching the way any
// case-insensitive path lookup must.
func foldCase(t *objectstore.Tree) *objectstore.Tree {
	folded := &objectstore.Tree{RootID: t.RootID, Entries: make([]objectstore.TreeEntry, len(t.Entries))}
	for i, e := range t.Entries {
		e.Name = foldName(e.Name)
		folded.Entries[i] = e
	}
	return folded
}

func foldName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}

// newDispatcher returns the function walk() uses to run a subtree
// comparison. When pool is set, tasks run on the shared server thread
// pool; otherwise it falls back to a local semaphore of
// goroutines bounded by concurrency (<=0 means unbounded).
func newDispatcher(pool *workerpool.StaticWorkerPool, concurrency int) func(func()) {
	if pool != nil {
		return func(f func()) { pool.Schedule(f) }
	}
	sem := newSemaphore(concurrency)
	return sem.run
}

// semaphore bounds concurrent walk() goroutines; a zero-value semaphore
// (Concurrency<=0) runs every task inline in its own goroutine. Used as
// the fallback dispatcher when no shared workerpool.StaticWorkerPool is
// configured.
type semaphore struct {
	tokens chan struct{}
}

func newSemaphore(n int) *semaphore {
	if n <= 0 {
		return &semaphore{}
	}
	return &semaphore{tokens: make(chan struct{}, n)}
}

func (s *semaphore) run(f func()) {
	if s.tokens == nil {
		go f()
		return
	}
	go func() {
		s.tokens <- struct{}{}
		defer func() { <-s.tokens }()
		f()
	}()
}
