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

// Package inodemap is the bidirectional inode-number <-> inode-object
// registry, plus the concrete inode tree that the checkout and diff
// engines mutate. It is out of the core's primary scope but a concrete,
// minimal implementation is required to exercise checkout/diff/pathutil
// end to end.
package inodemap

import (
	"fmt"
	"sync"

	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
)

// Number is an inode number. Zero is never a valid allocated number.
type Number uint64

// Kind distinguishes the tree-entry types an inode can represent.
type Kind int

const (
	KindDir Kind = iota
	KindFile
	KindExecutable
	KindSymlink
)

func (k Kind) IsDir() bool { return k == KindDir }

// Inode is a single node of the working tree. Directories hold a name ->
// Number map of children; files and symlinks hold either materialized
// local content (Overridden==true) or a reference to the backing blob in
// the object store.
type Inode struct {
	mu sync.RWMutex

	number Number
	kind   Kind
	name   string
	parent Number // 0 only for the root

	children map[string]Number // KindDir only

	blobID       objectstore.RootID // backing id, valid when !overridden
	content      []byte             // materialized content, valid when overridden
	overridden   bool               // true once local content diverges from blobID
	symlinkDest  string             // KindSymlink only, valid when overridden or no blobID
	childrenTree objectstore.RootID // backing tree id for a KindDir, empty if materialized-only
}

func newDir(number, parent Number, name string, treeID objectstore.RootID) *Inode {
	return &Inode{
		number:       number,
		kind:         KindDir,
		name:         name,
		parent:       parent,
		children:     make(map[string]Number),
		childrenTree: treeID,
	}
}

func newLeaf(number, parent Number, name string, kind Kind, blobID objectstore.RootID) *Inode {
	return &Inode{
		number: number,
		kind:   kind,
		name:   name,
		parent: parent,
		blobID: blobID,
	}
}

func (n *Inode) Number() Number { return n.number }
func (n *Inode) Kind() Kind {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.kind
}
func (n *Inode) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}
func (n *Inode) Parent() Number {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parent
}

// IsSymlink reports whether this inode is a symlink, matching the
// SymlinkResolver's "resolve(inode) -> inode" no-op contract for
// non-symlinks.
func (n *Inode) IsSymlink() bool { return n.Kind() == KindSymlink }

// SymlinkTarget returns the raw (unresolved) link text. Only valid for
// symlinks.
func (n *Inode) SymlinkTarget() (string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.kind != KindSymlink {
		return "", fmt.Errorf("inodemap: inode %d is not a symlink", n.number)
	}
	return n.symlinkDest, nil
}

// Children returns a snapshot of the name->number map. Only valid for
// directories.
func (n *Inode) Children() map[string]Number {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]Number, len(n.children))
	for k, v := range n.children {
		out[k] = v
	}
	return out
}

// Lookup finds a child by basename. Only valid for directories.
func (n *Inode) Lookup(basename string) (Number, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	num, ok := n.children[basename]
	return num, ok
}

func (n *Inode) addChild(basename string, num Number) {
	n.mu.Lock()
	n.children[basename] = num
	n.mu.Unlock()
}

func (n *Inode) removeChild(basename string) {
	n.mu.Lock()
	delete(n.children, basename)
	n.mu.Unlock()
}

// TreeID returns the backing tree id for a directory inode, or "" if the
// directory was materialized locally (created by DirectoryEnsurer or by
// checkout) rather than fetched from a tree. Only valid for directories.
func (n *Inode) TreeID() objectstore.RootID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.childrenTree
}

// SetTreeID records the backing tree id a directory was just fetched
// from, used by the checkout engine's apply phase when descending into
// an unmodified subtree.
func (n *Inode) SetTreeID(id objectstore.RootID) {
	n.mu.Lock()
	n.childrenTree = id
	n.mu.Unlock()
}

// Content returns the current bytes of a file/symlink-backing leaf and
// whether it is locally overridden.
func (n *Inode) Content() (content []byte, overridden bool, blobID objectstore.RootID) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.content, n.overridden, n.blobID
}

// SetContent materializes local content on a leaf inode, marking it
// overridden so a subsequent diff reports it unclean.
func (n *Inode) SetContent(content []byte) {
	n.mu.Lock()
	n.content = content
	n.overridden = true
	n.mu.Unlock()
}

// SetSymlinkTarget materializes a symlink's target text, used both by
// CreateSymlink and by checkout's apply phase when fetching a
// tree-backed symlink's blob content for the first time.
func (n *Inode) SetSymlinkTarget(target string) {
	n.mu.Lock()
	n.symlinkDest = target
	n.overridden = true
	n.mu.Unlock()
}
