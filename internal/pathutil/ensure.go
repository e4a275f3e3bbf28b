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

package pathutil

import (
	"strings"
	"sync"

	"github.com/googlecloudplatform/scmfuse/internal/inodemap"
)

// DirectoryEnsurer implements a race-tolerant "mkdir -p" against the inode
// tree. Concurrent callers racing to create the same
// component must all succeed and observe the same final inode.
type DirectoryEnsurer struct {
	inodes *inodemap.Map

	// mkdirMu serializes the create-or-restart step across all parents
	// and names (one mutex for the whole ensurer) so
	// that "mkdir failed with EEXIST, restart" never busy-loops under
	// heavy contention. This is coarser than strictly necessary but
	// matches the spec's "race-tolerant by design" framing rather than
	// promising wait-free progress.
	mkdirMu sync.Mutex
}

func NewDirectoryEnsurer(inodes *inodemap.Map) *DirectoryEnsurer {
	return &DirectoryEnsurer{inodes: inodes}
}

// Ensure guarantees every component of path exists as a directory under
// the root, returning the final directory inode.
func (e *DirectoryEnsurer) Ensure(path string) (*inodemap.Inode, error) {
	cur := e.inodes.GetRootInode()
	for _, comp := range splitPath(path) {
		next, err := e.ensureComponent(cur, comp)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (e *DirectoryEnsurer) ensureComponent(parent *inodemap.Inode, name string) (*inodemap.Inode, error) {
	for {
		if num, ok := parent.Lookup(name); ok {
			child, ok := e.inodes.Get(num)
			if !ok {
				// Concurrent remove raced us; restart.
				continue
			}
			if !child.Kind().IsDir() {
				return nil, ErrExists
			}
			return child, nil
		}

		// Not present. Create it, tolerating a concurrent creator
		// winning the race.
		e.mkdirMu.Lock()
		if num, ok := parent.Lookup(name); ok {
			e.mkdirMu.Unlock()
			child, ok := e.inodes.Get(num)
			if !ok {
				continue
			}
			if !child.Kind().IsDir() {
				return nil, ErrExists
			}
			return child, nil
		}
		child := e.inodes.CreateDir(parent, name)
		e.mkdirMu.Unlock()
		return child, nil
	}
}

func splitPath(p string) []string {
	var out []string
	for _, comp := range strings.Split(p, "/") {
		if comp == "" || comp == "." {
			continue
		}
		out = append(out, comp)
	}
	return out
}
