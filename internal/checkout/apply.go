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

package checkout

import (
	"context"
	"path"
	"sync"

	"github.com/googlecloudplatform/scmfuse/internal/diffutil"
	"github.com/googlecloudplatform/scmfuse/internal/inodemap"
	"github.com/googlecloudplatform/scmfuse/internal/logger"
	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
)

// applyCallback mutates the inode tree as the diff walk discovers each
// difference. It runs alongside diffutil.JournalDiffCallback over the
// same walk via multiCallback.
type applyCallback struct {
	inodes *inodemap.Map
	store  objectstore.Store
	fctx   *objectstore.FetchContext
	mode   Mode

	mu        sync.Mutex
	conflicts []Conflict
}

var _ diffutil.Callback = (*applyCallback)(nil)

func (a *applyCallback) IgnoredFile(string) {}

func (a *applyCallback) AddedFile(p string, entry objectstore.TreeEntry) {
	if a.mode == ModeDryRun {
		return
	}
	parent, name, ok := a.resolveParent(p)
	if !ok {
		a.reportConflict(p, "parent directory missing during apply")
		return
	}
	if _, exists := parent.Lookup(name); exists {
		// Another concurrent creator (or a stale walk) got here first;
		// treat as already applied rather than double-creating.
		return
	}
	a.create(parent, name, entry)
}

func (a *applyCallback) RemovedFile(p string, _ objectstore.TreeEntry) {
	parent, name, ok := a.resolveParent(p)
	if !ok {
		return
	}
	if dirty, reason := a.isDirty(parent, name); dirty {
		if a.mode != ModeForce {
			a.reportConflict(p, reason)
			return
		}
	}
	if a.mode == ModeDryRun {
		return
	}
	a.inodes.Remove(parent, name)
}

func (a *applyCallback) ModifiedFile(p string, oldEntry, newEntry objectstore.TreeEntry) {
	parent, name, ok := a.resolveParent(p)
	if !ok {
		a.reportConflict(p, "parent directory missing during apply")
		return
	}

	if dirty, reason := a.isDirty(parent, name); dirty {
		if a.mode != ModeForce {
			a.reportConflict(p, reason)
			return
		}
	}

	if a.mode == ModeDryRun {
		return
	}

	// Directory-to-directory changes (a tree whose id moved) need no
	// inode-level mutation beyond recording the new backing tree id;
	// its children are handled by the walk's own recursion.
	if oldEntry.Type == objectstore.EntryTree && newEntry.Type == objectstore.EntryTree {
		num, ok := parent.Lookup(name)
		if !ok {
			return
		}
		n, ok := a.inodes.Get(num)
		if !ok {
			return
		}
		n.SetTreeID(newEntry.ID)
		return
	}

	// A type change, or a leaf whose content moved: drop and recreate.
	a.inodes.Remove(parent, name)
	a.create(parent, name, newEntry)
}

func (a *applyCallback) DiffError(p string, err error) {
	logger.Warnf("checkout: diff error at %q: %v", p, err)
}

func (a *applyCallback) create(parent *inodemap.Inode, name string, entry objectstore.TreeEntry) {
	switch entry.Type {
	case objectstore.EntryTree:
		child := a.inodes.CreateDir(parent, name)
		child.SetTreeID(entry.ID)
	case objectstore.EntryRegularFile, objectstore.EntryExecutableFile:
		kind := inodemap.KindFile
		if entry.Type == objectstore.EntryExecutableFile {
			kind = inodemap.KindExecutable
		}
		a.inodes.CreateLeaf(parent, name, kind, entry.ID)
	case objectstore.EntrySymlink:
		child := a.inodes.CreateLeaf(parent, name, inodemap.KindSymlink, entry.ID)
		content, err := a.store.GetBlob(context.Background(), entry.ID, a.fctx)
		if err != nil {
			logger.Warnf("checkout: fetch symlink target for %q: %v", name, err)
			return
		}
		child.SetSymlinkTarget(string(content))
	}
}

// isDirty reports whether the existing child at parent/name has
// locally-overridden content, the checkout-time definition of "modified
// locally".
func (a *applyCallback) isDirty(parent *inodemap.Inode, name string) (bool, string) {
	num, ok := parent.Lookup(name)
	if !ok {
		return false, ""
	}
	n, ok := a.inodes.Get(num)
	if !ok {
		return false, ""
	}
	if n.Kind().IsDir() {
		return false, ""
	}
	_, overridden, _ := n.Content()
	if overridden {
		return true, "locally modified"
	}
	return false, ""
}

func (a *applyCallback) resolveParent(p string) (*inodemap.Inode, string, bool) {
	dir, name := path.Dir(p), path.Base(p)
	if dir == "." {
		dir = ""
	}
	parent, ok := a.inodes.LookupPath(dir)
	if !ok {
		return nil, "", false
	}
	return parent, name, true
}

func (a *applyCallback) reportConflict(p, reason string) {
	a.mu.Lock()
	a.conflicts = append(a.conflicts, Conflict{Path: p, Reason: reason})
	a.mu.Unlock()
}
