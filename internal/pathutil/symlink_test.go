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

package pathutil_test

import (
	"sync"
	"testing"

	"github.com/googlecloudplatform/scmfuse/internal/inodemap"
	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
	"github.com/googlecloudplatform/scmfuse/internal/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmptyMap() *inodemap.Map {
	return inodemap.NewFromTree(&objectstore.Tree{RootID: "root"})
}

func TestSymlinkResolver_NonSymlinkPassesThrough(t *testing.T) {
	t.Parallel()
	inodes := newEmptyMap()
	root := inodes.GetRootInode()
	file := inodes.CreateLeaf(root, "file.txt", inodemap.KindFile, "blob-1")

	r := pathutil.NewSymlinkResolver(inodes)
	got, err := r.Resolve(file)
	require.NoError(t, err)
	assert.Equal(t, file, got)
}

func TestSymlinkResolver_ResolvesRelativeTarget(t *testing.T) {
	t.Parallel()
	inodes := newEmptyMap()
	root := inodes.GetRootInode()
	dir := inodes.CreateDir(root, "dir")
	target := inodes.CreateLeaf(dir, "real.txt", inodemap.KindFile, "blob-1")
	link := inodes.CreateSymlink(dir, "link.txt", "real.txt")

	r := pathutil.NewSymlinkResolver(inodes)
	got, err := r.Resolve(link)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestSymlinkResolver_ChainOfSymlinks(t *testing.T) {
	t.Parallel()
	inodes := newEmptyMap()
	root := inodes.GetRootInode()
	target := inodes.CreateLeaf(root, "real.txt", inodemap.KindFile, "blob-1")
	inodes.CreateSymlink(root, "a.txt", "real.txt")
	b := inodes.CreateSymlink(root, "b.txt", "a.txt")

	r := pathutil.NewSymlinkResolver(inodes)
	got, err := r.Resolve(b)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestSymlinkResolver_SelfLoopFailsWithErrLoop(t *testing.T) {
	t.Parallel()
	inodes := newEmptyMap()
	root := inodes.GetRootInode()
	inodes.CreateSymlink(root, "loop.txt", "loop.txt")
	loop, _ := root.Lookup("loop.txt")
	loopInode, _ := inodes.Get(loop)

	r := pathutil.NewSymlinkResolver(inodes)
	_, err := r.Resolve(loopInode)
	assert.ErrorIs(t, err, pathutil.ErrLoop)
}

func TestSymlinkResolver_DanglingTargetFailsWithErrNotFound(t *testing.T) {
	t.Parallel()
	inodes := newEmptyMap()
	root := inodes.GetRootInode()
	dangling := inodes.CreateSymlink(root, "dangling.txt", "nowhere.txt")

	r := pathutil.NewSymlinkResolver(inodes)
	_, err := r.Resolve(dangling)
	assert.ErrorIs(t, err, pathutil.ErrNotFound)
}

func TestSymlinkResolver_TargetEscapingRootFails(t *testing.T) {
	t.Parallel()
	inodes := newEmptyMap()
	root := inodes.GetRootInode()
	escaping := inodes.CreateSymlink(root, "escape.txt", "../../etc/passwd")

	r := pathutil.NewSymlinkResolver(inodes)
	_, err := r.Resolve(escaping)
	require.Error(t, err)
}

func TestDirectoryEnsurer_CreatesEveryComponent(t *testing.T) {
	t.Parallel()
	inodes := newEmptyMap()
	e := pathutil.NewDirectoryEnsurer(inodes)

	leaf, err := e.Ensure("a/b/c")
	require.NoError(t, err)
	assert.True(t, leaf.Kind().IsDir())

	path, ok := inodes.PathOf(leaf.Number())
	require.True(t, ok)
	assert.Equal(t, "a/b/c", path)
}

func TestDirectoryEnsurer_IsIdempotent(t *testing.T) {
	t.Parallel()
	inodes := newEmptyMap()
	e := pathutil.NewDirectoryEnsurer(inodes)

	first, err := e.Ensure("a/b")
	require.NoError(t, err)
	second, err := e.Ensure("a/b")
	require.NoError(t, err)
	assert.Equal(t, first.Number(), second.Number())
}

func TestDirectoryEnsurer_FailsWhenComponentIsAFile(t *testing.T) {
	t.Parallel()
	inodes := newEmptyMap()
	root := inodes.GetRootInode()
	inodes.CreateLeaf(root, "a", inodemap.KindFile, "blob-1")

	e := pathutil.NewDirectoryEnsurer(inodes)
	_, err := e.Ensure("a/b")
	assert.ErrorIs(t, err, pathutil.ErrExists)
}

func TestDirectoryEnsurer_ConcurrentEnsureConverges(t *testing.T) {
	t.Parallel()
	inodes := newEmptyMap()
	e := pathutil.NewDirectoryEnsurer(inodes)

	const n = 16
	results := make([]*inodemap.Inode, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			inode, err := e.Ensure("shared/dir")
			assert.NoError(t, err)
			results[i] = inode
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.NotNil(t, results[i])
		assert.Equal(t, results[0].Number(), results[i].Number(), "every racing caller must observe the same final inode")
	}
}
