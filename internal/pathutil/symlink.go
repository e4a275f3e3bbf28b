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
	"fmt"
	"path"
	"strings"

	"github.com/googlecloudplatform/scmfuse/internal/inodemap"
)

// MaxSymlinkDepth bounds chain resolution.
const MaxSymlinkDepth = 40

// SymlinkResolver resolves symlink chains against an inode map rooted at
// the mount root.
type SymlinkResolver struct {
	inodes *inodemap.Map
}

func NewSymlinkResolver(inodes *inodemap.Map) *SymlinkResolver {
	return &SymlinkResolver{inodes: inodes}
}

// Resolve returns n unchanged if it is not a symlink. Otherwise it reads
// the link target, joins it against the parent directory, normalizes the
// result, looks it up from the mount root, and recurses — failing with
// ErrLoop past MaxSymlinkDepth, ErrNotFound if any inode along the way has
// no reconstructable path or the target doesn't exist.
func (r *SymlinkResolver) Resolve(n *inodemap.Inode) (*inodemap.Inode, error) {
	return r.resolve(n, 0)
}

func (r *SymlinkResolver) resolve(n *inodemap.Inode, depth int) (*inodemap.Inode, error) {
	if !n.IsSymlink() {
		return n, nil
	}
	if depth >= MaxSymlinkDepth {
		return nil, ErrLoop
	}

	target, err := n.SymlinkTarget()
	if err != nil {
		return nil, err
	}

	parentPath, ok := r.inodes.PathOf(n.Parent())
	if !ok {
		return nil, fmt.Errorf("pathutil: resolving %q: %w", n.Name(), ErrNotFound)
	}

	joined := path.Join(parentPath, target)
	normalized, err := normalize(joined)
	if err != nil {
		return nil, err
	}

	next, ok := r.inodes.LookupPath(normalized)
	if !ok {
		return nil, fmt.Errorf("pathutil: %q: %w", normalized, ErrNotFound)
	}

	return r.resolve(next, depth+1)
}

// normalize collapses "." and ".." components without touching the
// filesystem, rejecting any path that would climb above the mount root.
func normalize(p string) (string, error) {
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("pathutil: %q escapes mount root", p)
	}
	clean = strings.TrimPrefix(clean, "/")
	if clean == "." {
		clean = ""
	}
	return clean, nil
}
