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

package inodemap

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
)

const RootNumber Number = 1

// SerializedMap is the shape handed across a takeover: the payload
// shutdown(do_takeover) returns for a successor process to load. It's a
// flat list so it survives a process handoff without pointer rewriting.
type SerializedMap struct {
	Entries []SerializedEntry
}

type SerializedEntry struct {
	Number      Number
	Kind        Kind
	Name        string
	Parent      Number
	BlobID      objectstore.RootID
	Content     []byte
	Overridden  bool
	SymlinkDest string
	Children    map[string]Number
}

// Map is the inode-number <-> inode-object registry. Safe for concurrent
// use; every accessor takes the map lock only long enough to find the
// node, then releases it, leaving per-node synchronization to Inode's own
// fine-grained per-inode mutex.
type Map struct {
	mu        sync.RWMutex
	byNumber  map[Number]*Inode
	nextNum   atomic.Uint64
	unmounted atomic.Bool
}

// NewFromTree seeds a fresh inode map from the root tree of the parent
// commit, as initialize() does when there is no persisted overlay root
// directory.
func NewFromTree(root *objectstore.Tree) *Map {
	m := &Map{byNumber: make(map[Number]*Inode)}
	m.nextNum.Store(uint64(RootNumber) - 1)
	rootInode := newDir(m.alloc(), 0, "", root.RootID)
	m.insert(rootInode)
	return m
}

// NewMaterializedRoot seeds a fresh inode map whose root is a plain
// materialized directory with no backing tree hash, as initialize() does
// when the overlay already has a persisted root directory.
func NewMaterializedRoot() *Map {
	m := &Map{byNumber: make(map[Number]*Inode)}
	m.nextNum.Store(uint64(RootNumber) - 1)
	rootInode := newDir(m.alloc(), 0, "", "")
	m.insert(rootInode)
	return m
}

// NewFromSerialized reconstructs a map from a takeover snapshot,
// preserving every inode number.
func NewFromSerialized(s SerializedMap) *Map {
	m := &Map{byNumber: make(map[Number]*Inode)}
	var maxNum Number
	for _, e := range s.Entries {
		n := &Inode{
			number:      e.Number,
			kind:        e.Kind,
			name:        e.Name,
			parent:      e.Parent,
			blobID:      e.BlobID,
			content:     e.Content,
			overridden:  e.Overridden,
			symlinkDest: e.SymlinkDest,
		}
		if e.Kind == KindDir {
			n.children = make(map[string]Number, len(e.Children))
			for k, v := range e.Children {
				n.children[k] = v
			}
		}
		m.insert(n)
		if e.Number > maxNum {
			maxNum = e.Number
		}
	}
	m.nextNum.Store(uint64(maxNum))
	return m
}

func (m *Map) insert(n *Inode) {
	m.mu.Lock()
	m.byNumber[n.number] = n
	m.mu.Unlock()
}

func (m *Map) alloc() Number {
	return Number(m.nextNum.Add(1))
}

// Alloc reserves the next inode number for a newly created node.
func (m *Map) Alloc() Number { return m.alloc() }

// Get returns the inode for a number, or false if unknown.
func (m *Map) Get(num Number) (*Inode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byNumber[num]
	return n, ok
}

// GetRootInode returns the root directory inode.
func (m *Map) GetRootInode() *Inode {
	n, ok := m.Get(RootNumber)
	if !ok {
		panic("inodemap: root inode missing, programmer error")
	}
	return n
}

// GetReferencedInodes returns every inode currently tracked by the map.
// In a production driver this would be filtered to inodes the kernel
// still holds a reference to; this module has no kernel connection of
// its own; see DESIGN.md.
func (m *Map) GetReferencedInodes() []*Inode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Inode, 0, len(m.byNumber))
	for _, n := range m.byNumber {
		out = append(out, n)
	}
	return out
}

// CreateDir adds a new materialized directory under parent, used by
// DirectoryEnsurer and by checkout's apply phase for newly
// added directories.
func (m *Map) CreateDir(parent *Inode, name string) *Inode {
	child := newDir(m.alloc(), parent.Number(), name, "")
	m.insert(child)
	parent.addChild(name, child.Number())
	return child
}

// CreateLeaf adds a new file/executable/symlink inode under parent,
// backed by blobID (unmaterialized) — used by checkout's apply phase when
// adding a new entry.
func (m *Map) CreateLeaf(parent *Inode, name string, kind Kind, blobID objectstore.RootID) *Inode {
	child := newLeaf(m.alloc(), parent.Number(), name, kind, blobID)
	m.insert(child)
	parent.addChild(name, child.Number())
	return child
}

// CreateSymlink adds a new materialized symlink inode, used directly by
// tests and by DotEdenSetup.
func (m *Map) CreateSymlink(parent *Inode, name, target string) *Inode {
	child := newLeaf(m.alloc(), parent.Number(), name, KindSymlink, "")
	child.SetSymlinkTarget(target)
	m.insert(child)
	parent.addChild(name, child.Number())
	return child
}

// Remove detaches name from parent and drops the child inode from the
// map entirely (used when checkout replaces a removed path).
func (m *Map) Remove(parent *Inode, name string) {
	num, ok := parent.Lookup(name)
	if !ok {
		return
	}
	parent.removeChild(name)
	m.mu.Lock()
	delete(m.byNumber, num)
	m.mu.Unlock()
}

// PathOf reconstructs the mount-root-relative path of an inode by walking
// parent pointers. Returns false if the inode (or an ancestor) is no
// longer tracked, which SymlinkResolver surfaces as ENOENT.
func (m *Map) PathOf(num Number) (string, bool) {
	var parts []string
	cur := num
	for {
		n, ok := m.Get(cur)
		if !ok {
			return "", false
		}
		if cur == RootNumber {
			break
		}
		parts = append(parts, n.Name())
		cur = n.Parent()
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/"), true
}

// LookupPath resolves a "/"-separated path from the root, returning the
// final inode. Used by SymlinkResolver and by tests that assert on
// post-checkout file contents.
func (m *Map) LookupPath(path string) (*Inode, bool) {
	cur := m.GetRootInode()
	if path == "" || path == "." {
		return cur, true
	}
	for _, comp := range strings.Split(path, "/") {
		if comp == "" || comp == "." {
			continue
		}
		num, ok := cur.Lookup(comp)
		if !ok {
			return nil, false
		}
		n, ok := m.Get(num)
		if !ok {
			return nil, false
		}
		cur = n
	}
	return cur, true
}

// SetUnmounted marks the map as belonging to a mount whose kernel side has
// gone away.
func (m *Map) SetUnmounted() { m.unmounted.Store(true) }

func (m *Map) IsUnmounted() bool { return m.unmounted.Load() }

// Shutdown tears the map down, optionally producing a takeover snapshot
// for a successor process to load.
func (m *Map) Shutdown(doTakeover bool) (*SerializedMap, error) {
	if !doTakeover {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &SerializedMap{Entries: make([]SerializedEntry, 0, len(m.byNumber))}
	for _, n := range m.byNumber {
		n.mu.RLock()
		e := SerializedEntry{
			Number:      n.number,
			Kind:        n.kind,
			Name:        n.name,
			Parent:      n.parent,
			BlobID:      n.blobID,
			Content:     n.content,
			Overridden:  n.overridden,
			SymlinkDest: n.symlinkDest,
		}
		if n.children != nil {
			e.Children = make(map[string]Number, len(n.children))
			for k, v := range n.children {
				e.Children[k] = v
			}
		}
		n.mu.RUnlock()
		s.Entries = append(s.Entries, e)
	}
	return s, nil
}

// ErrNotADirectory is returned when a path component that must be a
// directory (DirectoryEnsurer, LookupPath-for-mkdir) is not one.
var ErrNotADirectory = fmt.Errorf("inodemap: not a directory")
