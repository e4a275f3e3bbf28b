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

// This file drives full end-to-end scenarios directly against a real
// Mount, checkout.Engine, and lifecycle.Orchestrator wired to in-memory
// collaborators (objectstore.MemStore, overlaydb.MemOverlay, and a
// fakeHelper standing in for the privileged mount helper).
package mount_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/googlecloudplatform/scmfuse/internal/channel"
	"github.com/googlecloudplatform/scmfuse/internal/checkout"
	"github.com/googlecloudplatform/scmfuse/internal/clock"
	"github.com/googlecloudplatform/scmfuse/internal/faultinjection"
	"github.com/googlecloudplatform/scmfuse/internal/inodemap"
	"github.com/googlecloudplatform/scmfuse/internal/journal"
	"github.com/googlecloudplatform/scmfuse/internal/lifecycle"
	"github.com/googlecloudplatform/scmfuse/internal/mount"
	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
	"github.com/googlecloudplatform/scmfuse/internal/overlaydb"
	"github.com/googlecloudplatform/scmfuse/internal/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	r0 = objectstore.RootID("R0")
	r1 = objectstore.RootID("R1")
)

func buildScenarioStore() *objectstore.MemStore {
	store := objectstore.NewMemStore()
	store.PutBlob("blob-a1", []byte("1"))
	store.PutBlob("blob-b2", []byte("2"))
	store.PutBlob("blob-b3", []byte("3"))
	store.PutBlob("blob-c4", []byte("4"))

	store.PutTree(&objectstore.Tree{RootID: r0, Entries: []objectstore.TreeEntry{
		{Name: "a", Type: objectstore.EntryRegularFile, ID: "blob-a1"},
		{Name: "b", Type: objectstore.EntryRegularFile, ID: "blob-b2"},
	}})
	store.PutTree(&objectstore.Tree{RootID: r1, Entries: []objectstore.TreeEntry{
		{Name: "a", Type: objectstore.EntryRegularFile, ID: "blob-a1"},
		{Name: "b", Type: objectstore.EntryRegularFile, ID: "blob-b3"},
		{Name: "c", Type: objectstore.EntryRegularFile, ID: "blob-c4"},
	}})
	return store
}

func newScenarioOrchestrator(t *testing.T, store *objectstore.MemStore, protocol mount.ChannelVariant, helper fakeHelper) (*lifecycle.Orchestrator, *mount.Mount) {
	t.Helper()
	cfg := mount.Config{
		MountPath:       t.TempDir(),
		ClientDir:       t.TempDir(),
		CaseSensitive:   true,
		ChannelProtocol: protocol,
		ParentRootID:    r0,
	}
	collab := mount.Collaborators{
		Store:   store,
		Overlay: overlaydb.NewMemOverlay(),
		Helper:  helper,
		Clock:   clock.NewRealClock(),
	}
	m := mount.New(cfg, collab, 1000, 1000)
	ccfg := lifecycle.ChannelConfig{
		Dispatcher: channel.NoopDispatcher{},
		NFS:        channel.NFSConfig{ClientDir: m.Config.ClientDir, EventLoop: channel.LoopbackEventLoop{}},
	}
	return lifecycle.New(m, ccfg, nil, nil), m
}

// An initialized mount checking out a second commit updates the inode
// tree's content in place, advances the parent pointer, and journals
// one entry for the checkout: the set of paths that changed upstream,
// next to initialize's hash-update.
func TestEndToEnd_InitThenCheckout(t *testing.T) {
	t.Parallel()
	store := buildScenarioStore()
	orch, m := newScenarioOrchestrator(t, store, mount.ChannelNFS, fakeHelper{})
	ctx := context.Background()

	require.NoError(t, orch.Initialize(ctx, nil, nil))
	require.Equal(t, r0, m.Parent.Get())

	result, err := orch.Checkout().Run(ctx, r1, checkout.Context{Mode: checkout.ModeNormal})
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, r1, m.Parent.Get())

	b, ok := m.Inodes.LookupPath("b")
	require.True(t, ok)
	_, _, bBlob := b.Content()
	content, err := store.GetBlob(ctx, bBlob, nil)
	require.NoError(t, err)
	assert.Equal(t, "3", string(content))

	c, ok := m.Inodes.LookupPath("c")
	require.True(t, ok)
	_, _, cBlob := c.Content()
	content, err = store.GetBlob(ctx, cBlob, nil)
	require.NoError(t, err)
	assert.Equal(t, "4", string(content))

	var sawUnclean, sawHash bool
	for _, e := range m.Journal.Entries() {
		switch e.Kind {
		case journal.KindUncleanPaths:
			sawUnclean = true
			_, hasB := e.Paths["b"]
			_, hasC := e.Paths["c"]
			assert.True(t, hasB, "b changed upstream so it is unclean")
			assert.False(t, hasC, "c was added, not unclean")
		case journal.KindHashUpdate:
			if e.New == r0 {
				sawHash = true
			}
		}
	}
	assert.True(t, sawUnclean)
	assert.True(t, sawHash)
}

// A dry-run checkout reports what would change without moving the
// parent pointer, mutating the inode tree, or appending to the journal.
func TestEndToEnd_DryRunCheckout(t *testing.T) {
	t.Parallel()
	store := buildScenarioStore()
	orch, m := newScenarioOrchestrator(t, store, mount.ChannelNFS, fakeHelper{})
	ctx := context.Background()

	require.NoError(t, orch.Initialize(ctx, nil, nil))
	entriesBefore := len(m.Journal.Entries())

	result, err := orch.Checkout().Run(ctx, r1, checkout.Context{Mode: checkout.ModeDryRun})
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, r0, m.Parent.Get())
	assert.Len(t, m.Journal.Entries(), entriesBefore)

	_, hasC := m.Inodes.LookupPath("c")
	assert.False(t, hasC, "dry run must not materialize new entries")
}

// Two concurrent checkouts against the same mount serialize on the
// parent-commit writer guard: the loser fails fast with
// ErrCheckoutInProgress instead of blocking indefinitely. The first
// checkout is held mid-transaction by the "checkout" fault gate so the
// second deterministically observes the parent lock held.
func TestEndToEnd_ConcurrentCheckouts(t *testing.T) {
	t.Parallel()
	store := buildScenarioStore()
	orch, m := newScenarioOrchestrator(t, store, mount.ChannelNFS, fakeHelper{})
	ctx := context.Background()
	require.NoError(t, orch.Initialize(ctx, nil, nil))

	gateKey := faultinjection.Key{Class: "checkout", Path: m.Config.MountPath}
	m.Faults.Block(gateKey)

	type outcome struct {
		res checkout.Result
		err error
	}
	winnerCh := make(chan outcome, 1)
	go func() {
		res, err := orch.Checkout().Run(ctx, r1, checkout.Context{Mode: checkout.ModeNormal})
		winnerCh <- outcome{res, err}
	}()

	// Poll until the writer guard is observably held by the blocked
	// goroutine above (phase 1 of Run acquires it before phase 3 blocks
	// on the fault gate).
	require.Eventually(t, func() bool {
		_, err := m.Parent.AcquireReader(ctx, time.Millisecond)
		return errors.Is(err, mount.ErrLockTimeout)
	}, time.Second, time.Millisecond)

	_, loserErr := orch.Checkout().Run(ctx, r0, checkout.Context{Mode: checkout.ModeNormal, LockTimeout: 20 * time.Millisecond})
	assert.ErrorIs(t, loserErr, checkout.ErrCheckoutInProgress)

	m.Faults.Release(gateKey)
	winner := <-winnerCh
	require.NoError(t, winner.err)
	assert.Equal(t, r1, m.Parent.Get(), "final parent must equal the winner's target")
}

// A mutual pair of symlinks (a -> b, b -> a) fails resolution with
// ErrLoop instead of recursing forever.
func TestEndToEnd_SymlinkLoop(t *testing.T) {
	t.Parallel()
	inodes := inodemap.NewFromTree(&objectstore.Tree{RootID: "root"})
	root := inodes.GetRootInode()
	inodes.CreateSymlink(root, "a", "b")
	inodes.CreateSymlink(root, "b", "a")

	r := pathutil.NewSymlinkResolver(inodes)
	a, _ := inodes.LookupPath("a")
	b, _ := inodes.LookupPath("b")

	_, errA := r.Resolve(a)
	assert.ErrorIs(t, errA, pathutil.ErrLoop)
	_, errB := r.Resolve(b)
	assert.ErrorIs(t, errB, pathutil.ErrLoop)
}

// An unmount that races ahead of a still-in-flight channel attach wins:
// the attach observes ChannelUnmountStarted(), tears down the device it
// just obtained, and fails with ErrDeviceUnmountedDuringInitialization
// while the unmount itself resolves successfully. FuseMount blocks until
// the test has already called Unmount, forcing that ordering
// deterministically.
func TestEndToEnd_UnmountDuringInit(t *testing.T) {
	t.Parallel()
	store := buildScenarioStore()
	entered := make(chan struct{})
	proceed := make(chan struct{})
	helper := fakeHelper{slowEntered: entered, slowProceed: proceed}
	orch, m := newScenarioOrchestrator(t, store, mount.ChannelFUSE, helper)
	ctx := context.Background()
	require.NoError(t, orch.Initialize(ctx, nil, nil))

	startErrCh := make(chan error, 1)
	go func() { startErrCh <- orch.StartChannel(ctx, false) }()

	<-entered // StartChannel has called into FuseMount and is blocked.

	unmountErrCh := make(chan error, 1)
	go func() {
		time.Sleep(20 * time.Millisecond) // let Unmount register before release
		unmountErrCh <- orch.Unmount(ctx)
	}()
	time.Sleep(40 * time.Millisecond)
	close(proceed)

	startErr := <-startErrCh
	require.Error(t, startErr)
	assert.ErrorIs(t, startErr, channel.ErrDeviceUnmountedDuringInitialization)
	assert.Equal(t, mount.FuseError, m.State.Load())

	require.NoError(t, <-unmountErrCh)
}

// Many goroutines racing DirectoryEnsurer.Ensure on the same nested path
// converge on exactly one inode per path component, never duplicates.
// Fuller coverage of this property lives in
// internal/pathutil/symlink_test.go's
// TestDirectoryEnsurer_ConcurrentEnsureConverges; this exercises the same
// property against the inode map owned by a real Mount.
func TestEndToEnd_EnsureDirectoryRace(t *testing.T) {
	t.Parallel()
	m := newTestMount(t, mount.ChannelFUSE)
	m.Inodes = inodemap.NewFromTree(&objectstore.Tree{RootID: "root"})
	ensurer := pathutil.NewDirectoryEnsurer(m.Inodes)

	const n = 16
	results := make([]*inodemap.Inode, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			inode, err := ensurer.Ensure("x/y/z")
			assert.NoError(t, err)
			results[i] = inode
		}()
	}
	wg.Wait()

	root := m.Inodes.GetRootInode()
	assert.Len(t, root.Children(), 1, "exactly one x")
	x, _ := m.Inodes.Get(root.Children()["x"])
	assert.Len(t, x.Children(), 1, "exactly one y")
	y, _ := m.Inodes.Get(x.Children()["y"])
	assert.Len(t, y.Children(), 1, "exactly one z")

	for i := 1; i < n; i++ {
		assert.Equal(t, results[0].Number(), results[i].Number())
	}
}
