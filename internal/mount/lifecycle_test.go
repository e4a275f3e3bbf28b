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

package mount_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/googlecloudplatform/scmfuse/internal/channel"
	"github.com/googlecloudplatform/scmfuse/internal/clock"
	"github.com/googlecloudplatform/scmfuse/internal/faultinjection"
	"github.com/googlecloudplatform/scmfuse/internal/lifecycle"
	"github.com/googlecloudplatform/scmfuse/internal/mount"
	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
	"github.com/googlecloudplatform/scmfuse/internal/overlaydb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHelper is a privhelper.Helper double that never touches /dev/fuse or
// the host's mount table, so the lifecycle tests below run in a plain
// process with no privileged setup. slowEntered/slowProceed, when set,
// let a test observe the instant FuseMount is called and hold its return
// until the test is ready (used to race an in-flight attach against an
// unmount).
type fakeHelper struct {
	slowEntered chan struct{}
	slowProceed chan struct{}
}

func (h fakeHelper) FuseMount(ctx context.Context, path string, readOnly bool) (*os.File, error) {
	if h.slowEntered != nil {
		close(h.slowEntered)
		<-h.slowProceed
	}
	r, _, err := os.Pipe()
	return r, err
}

func (fakeHelper) FuseUnmount(ctx context.Context, path string) error { return nil }

func (fakeHelper) NFSMount(ctx context.Context, path string, mountdAddr, nfsdAddr string, readOnly bool, ioSize int) error {
	return nil
}

func (fakeHelper) NFSUnmount(ctx context.Context, path string) error { return nil }

func (fakeHelper) BindMount(ctx context.Context, target, source string) error { return nil }

func (fakeHelper) BindUnmount(ctx context.Context, path string) error { return nil }

func newTestMount(t *testing.T, protocol mount.ChannelVariant) *mount.Mount {
	t.Helper()
	store := objectstore.NewMemStore()
	store.PutTree(&objectstore.Tree{RootID: "root-1"})

	cfg := mount.Config{
		MountPath:       t.TempDir(),
		ClientDir:       t.TempDir(),
		CaseSensitive:   true,
		ChannelProtocol: protocol,
		ParentRootID:    "root-1",
	}
	collab := mount.Collaborators{
		Store:   store,
		Overlay: overlaydb.NewMemOverlay(),
		Helper:  fakeHelper{},
		Clock:   clock.NewRealClock(),
	}
	return mount.New(cfg, collab, 1000, 1000)
}

func newTestOrchestrator(t *testing.T, protocol mount.ChannelVariant) (*lifecycle.Orchestrator, *mount.Mount) {
	t.Helper()
	m := newTestMount(t, protocol)
	ccfg := lifecycle.ChannelConfig{
		Dispatcher: channel.NoopDispatcher{},
		NFS:        channel.NFSConfig{ClientDir: m.Config.ClientDir, EventLoop: channel.LoopbackEventLoop{}},
	}
	return lifecycle.New(m, ccfg, nil, nil), m
}

func TestParentCommit_GetSetRoundTrip(t *testing.T) {
	t.Parallel()
	p := mount.NewParentCommit()
	assert.Equal(t, objectstore.RootID(""), p.Get())

	old := p.Reset("root-a")
	assert.Equal(t, objectstore.RootID(""), old)
	assert.Equal(t, objectstore.RootID("root-a"), p.Get())
}

func TestParentCommit_AcquireWriter_ExclusiveUntilFinish(t *testing.T) {
	t.Parallel()
	p := mount.NewParentCommit()

	guard, err := p.AcquireWriter(context.Background(), time.Second)
	require.NoError(t, err)

	_, err = p.AcquireWriter(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, mount.ErrLockTimeout)

	guard.Finish("root-b")
	assert.Equal(t, objectstore.RootID("root-b"), p.Get())

	guard2, err := p.AcquireWriter(context.Background(), time.Second)
	require.NoError(t, err)
	guard2.Release()
	assert.Equal(t, objectstore.RootID("root-b"), p.Get(), "Release must not change the stored id")
}

func TestParentCommit_AcquireReader_BlockedByWriter(t *testing.T) {
	t.Parallel()
	p := mount.NewParentCommit()
	guard, err := p.AcquireWriter(context.Background(), time.Second)
	require.NoError(t, err)
	defer guard.Release()

	_, err = p.AcquireReader(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, mount.ErrLockTimeout)
}

func TestStateVar_LegalAndIllegalTransitions(t *testing.T) {
	t.Parallel()
	sv := mount.NewStateVar(mount.Uninitialized)

	require.NoError(t, sv.Transition(mount.Uninitialized, mount.Initializing))
	assert.Equal(t, mount.Initializing, sv.Load())

	err := sv.Transition(mount.Uninitialized, mount.Initializing)
	var illegal *mount.ErrIllegalStateTransition
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, mount.Initializing, illegal.From)
}

func TestStateVar_Exchange(t *testing.T) {
	t.Parallel()
	sv := mount.NewStateVar(mount.Running)
	prior := sv.Exchange(mount.Destroying)
	assert.Equal(t, mount.Running, prior)
	assert.Equal(t, mount.Destroying, sv.Load())
}

func TestMountingHandshake_UnmountBeforeMountEverStarted(t *testing.T) {
	t.Parallel()
	h := mount.NewMountingHandshake()
	assert.False(t, h.MountEverStarted())

	promise, already := h.BeginUnmount()
	assert.False(t, already)
	assert.NoError(t, promise.Wait())
}

func TestMountingHandshake_BeginUnmountIsIdempotent(t *testing.T) {
	t.Parallel()
	h := mount.NewMountingHandshake()

	p1, already1 := h.BeginUnmount()
	assert.False(t, already1)
	p2, already2 := h.BeginUnmount()
	assert.True(t, already2)

	p1.Fulfill(nil)
	assert.NoError(t, p2.Wait())
}

func TestMountingHandshake_ChannelUnmountStartedGatesAttach(t *testing.T) {
	t.Parallel()
	h := mount.NewMountingHandshake()
	assert.False(t, h.ChannelUnmountStarted())
	h.BeginUnmount()
	assert.True(t, h.ChannelUnmountStarted())
}

func TestMount_TouchCheckoutTimeAndPrefetchLease(t *testing.T) {
	t.Parallel()
	m := newTestMount(t, mount.ChannelFUSE)

	before := m.LastCheckoutTime()
	m.TouchCheckoutTime()
	assert.True(t, m.LastCheckoutTime().After(before) || m.LastCheckoutTime().Equal(before))

	release := m.BeginPrefetch()
	assert.Equal(t, int64(1), m.PrefetchesInProgress())
	release()
	assert.Equal(t, int64(0), m.PrefetchesInProgress())
	release() // idempotent: must not double-decrement
	assert.Equal(t, int64(0), m.PrefetchesInProgress())
}

func TestMount_New_PanicsOnNilCollaborator(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() {
		mount.New(mount.Config{}, mount.Collaborators{}, 0, 0)
	})
}

func TestNextGeneration_UniquePerCall(t *testing.T) {
	t.Parallel()
	a := mount.NextGeneration()
	b := mount.NextGeneration()
	assert.NotEqual(t, a, b)
}

func TestOrchestrator_FullLifecycle_NFS(t *testing.T) {
	t.Parallel()
	orch, m := newTestOrchestrator(t, mount.ChannelNFS)
	ctx := context.Background()

	require.NoError(t, orch.Initialize(ctx, nil, nil))
	assert.Equal(t, mount.Initialized, m.State.Load())
	assert.Equal(t, objectstore.RootID("root-1"), m.Parent.Get())

	require.NoError(t, orch.StartChannel(ctx, false))
	assert.Equal(t, mount.Running, m.State.Load())

	require.NoError(t, orch.Unmount(ctx))
	// Unmount is idempotent: a second call observes the same outcome.
	require.NoError(t, orch.Unmount(ctx))

	snapshot, err := orch.Shutdown(false, false)
	require.NoError(t, err)
	assert.Nil(t, snapshot)
	assert.Equal(t, mount.ShutDown, m.State.Load())
}

func TestOrchestrator_StartChannel_FUSE(t *testing.T) {
	t.Parallel()
	orch, m := newTestOrchestrator(t, mount.ChannelFUSE)
	ctx := context.Background()

	require.NoError(t, orch.Initialize(ctx, nil, nil))
	require.NoError(t, orch.StartChannel(ctx, false))
	assert.Equal(t, mount.Running, m.State.Load())
	assert.Equal(t, mount.ChannelFUSE, m.Channel().Variant)

	require.NoError(t, orch.Unmount(ctx))
}

func TestOrchestrator_Initialize_FaultGateError(t *testing.T) {
	t.Parallel()
	orch, m := newTestOrchestrator(t, mount.ChannelNFS)
	ctx := context.Background()

	m.Faults.FailWith(faultinjection.Key{Class: "mount", Path: m.Config.MountPath}, assert.AnError)

	err := orch.Initialize(ctx, nil, nil)
	require.Error(t, err)
	assert.Equal(t, mount.InitError, m.State.Load())
}

func TestOrchestrator_StartChannel_ProjectionUnsupportedOnThisPlatform(t *testing.T) {
	t.Parallel()
	orch, m := newTestOrchestrator(t, mount.ChannelProjection)
	ctx := context.Background()

	require.NoError(t, orch.Initialize(ctx, nil, nil))
	err := orch.StartChannel(ctx, false)
	require.Error(t, err)
	assert.Equal(t, mount.FuseError, m.State.Load())
}

func TestOrchestrator_Shutdown_DisallowedFromUninitialized(t *testing.T) {
	t.Parallel()
	orch, _ := newTestOrchestrator(t, mount.ChannelNFS)

	_, err := orch.Shutdown(false, false)
	require.Error(t, err)
}

func TestOrchestrator_Destroy_FromUninitializedIsANoop(t *testing.T) {
	t.Parallel()
	orch, m := newTestOrchestrator(t, mount.ChannelNFS)

	snapshot, err := orch.Destroy(false)
	require.NoError(t, err)
	assert.Nil(t, snapshot)
	assert.Equal(t, mount.Destroying, m.State.Load())
}

func TestOrchestrator_Destroy_TwiceOnSameMountPanics(t *testing.T) {
	t.Parallel()
	orch, _ := newTestOrchestrator(t, mount.ChannelNFS)

	_, err := orch.Destroy(false)
	require.NoError(t, err)
	assert.Panics(t, func() { orch.Destroy(false) })
}

func TestOrchestrator_Destroy_AfterRunningTearsDownInodesAndOverlay(t *testing.T) {
	t.Parallel()
	orch, m := newTestOrchestrator(t, mount.ChannelNFS)
	ctx := context.Background()

	require.NoError(t, orch.Initialize(ctx, nil, nil))
	require.NoError(t, orch.StartChannel(ctx, false))

	snapshot, err := orch.Destroy(true)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, mount.Destroying, m.State.Load())
}
