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

// Package lifecycle implements LifecycleOrchestrator: the
// five operations — initialize, start_channel, unmount, shutdown, destroy
// — that drive a Mount from UNINITIALIZED through RUNNING and back down.
// It sits one layer above internal/mount and internal/channel so it can
// call into both without an import cycle (internal/channel already
// imports internal/mount for the *Mount type).
package lifecycle

import (
	"context"
	"fmt"
	"os"

	"github.com/googlecloudplatform/scmfuse/internal/channel"
	"github.com/googlecloudplatform/scmfuse/internal/checkout"
	"github.com/googlecloudplatform/scmfuse/internal/doteden"
	"github.com/googlecloudplatform/scmfuse/internal/faultinjection"
	"github.com/googlecloudplatform/scmfuse/internal/inodemap"
	"github.com/googlecloudplatform/scmfuse/internal/logger"
	"github.com/googlecloudplatform/scmfuse/internal/mount"
	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
	"github.com/googlecloudplatform/scmfuse/internal/overlaydb"
	"github.com/googlecloudplatform/scmfuse/internal/workerpool"
	"github.com/googlecloudplatform/scmfuse/metrics"
)

// ProgressCallback is threaded through Initialize as its progress_cb
// parameter, reporting overlay materialization progress as it happens.
type ProgressCallback func(done, total int)

// ChannelConfig bundles the protocol-specific settings ChannelAttach
// needs, one of which is used depending on m.Config.ChannelProtocol.
type ChannelConfig struct {
	Dispatcher channel.Dispatcher
	FUSE       channel.FUSEConfig
	NFS        channel.NFSConfig
}

// Orchestrator is the LifecycleOrchestrator for a single Mount. One
// Orchestrator is constructed per mount attempt; a takeover successor
// gets a fresh Orchestrator wrapping a fresh Mount.
type Orchestrator struct {
	m        *mount.Mount
	ccfg     ChannelConfig
	checkout *checkout.Engine
	metrics  metrics.MetricHandle

	handle *channel.Handle
}

// New constructs an Orchestrator for m, which must be freshly built via
// mount.New (state UNINITIALIZED). ChannelConfig supplies whichever
// protocol-specific settings m.Config.ChannelProtocol selects. pool, if
// non-nil, is the shared server thread pool that checkout's
// diff phase dispatches subtree comparisons onto; a nil pool falls back
// to the diff engine's own unbounded-goroutine default. mh, if nil, is
// replaced with a no-op MetricHandle so callers that don't care about
// telemetry don't need to pass one.
func New(m *mount.Mount, ccfg ChannelConfig, pool *workerpool.StaticWorkerPool, mh metrics.MetricHandle) *Orchestrator {
	if mh == nil {
		mh = metrics.NewNoopMetrics()
	}
	return &Orchestrator{m: m, ccfg: ccfg, checkout: checkout.New(m).WithPool(pool).WithMetrics(mh), metrics: mh}
}

// Mount returns the underlying Mount, for callers (the CLI, tests) that
// need direct access to its inode map, journal, or checkout engine.
func (o *Orchestrator) Mount() *mount.Mount { return o.m }

// Checkout returns the checkout engine wired to this Orchestrator's
// Mount, the entry point callers use alongside the lifecycle operations
// themselves.
func (o *Orchestrator) Checkout() *checkout.Engine { return o.checkout }

// Initialize moves the mount UNINITIALIZED -> INITIALIZING -> (INITIALIZED
// | INIT_ERROR). takeoverSnapshot, if non-nil, seeds the inode map from a
// preserved takeover payload instead of from the overlay or object store.
func (o *Orchestrator) Initialize(ctx context.Context, progress ProgressCallback, takeoverSnapshot *inodemap.SerializedMap) error {
	if err := o.m.State.Transition(mount.Uninitialized, mount.Initializing); err != nil {
		return err
	}

	if err := o.initialize(ctx, progress, takeoverSnapshot); err != nil {
		if terr := o.m.State.Transition(mount.Initializing, mount.InitError); terr != nil {
			logger.Warnf("lifecycle: %s: transition to INIT_ERROR after init failure: %v", o.m.Config.MountPath, terr)
		}
		return err
	}

	if err := o.m.State.Transition(mount.Initializing, mount.Initialized); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) initialize(ctx context.Context, progress ProgressCallback, takeoverSnapshot *inodemap.SerializedMap) error {
	if err := o.m.Faults.Wait(ctx, faultinjection.Key{Class: "mount", Path: o.m.Config.MountPath}); err != nil {
		return fmt.Errorf("lifecycle: init fault gate: %w", err)
	}

	parent := o.m.Config.ParentRootID
	o.m.Parent.Reset(parent)
	o.m.Journal.RecordHashUpdate("", parent)

	if err := o.m.Overlay.Initialize(ctx, o.m.Config.MountPath, overlaydb.ProgressCallback(progress)); err != nil {
		return fmt.Errorf("lifecycle: overlay init: %w", err)
	}

	switch {
	case takeoverSnapshot != nil:
		o.m.Inodes = inodemap.NewFromSerialized(*takeoverSnapshot)

	case o.m.Overlay.IsPersistent():
		persisted, err := o.m.Overlay.HasPersistedRootDir()
		if err != nil {
			return fmt.Errorf("lifecycle: query persisted root dir: %w", err)
		}
		if persisted {
			o.m.Inodes = inodemap.NewMaterializedRoot()
		} else {
			root, err := o.fetchRootTree(ctx, parent)
			if err != nil {
				return err
			}
			o.m.Inodes = inodemap.NewFromTree(root)
		}

	default:
		root, err := o.fetchRootTree(ctx, parent)
		if err != nil {
			return err
		}
		o.m.Inodes = inodemap.NewFromTree(root)
	}

	setup := doteden.New(o.m.Inodes)
	socketPath := o.m.Config.ClientDir + "/nfsd.socket"
	if err := setup.Run(o.m.Config.MountPath, socketPath, o.m.Config.ClientDir); err != nil {
		return fmt.Errorf("lifecycle: .eden setup: %w", err)
	}

	return nil
}

func (o *Orchestrator) fetchRootTree(ctx context.Context, parent objectstore.RootID) (*objectstore.Tree, error) {
	fctx := objectstore.NewFetchContext()
	tree, err := o.m.Store.GetRootTree(ctx, parent, fctx)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: fetch root tree: %w", err)
	}
	return tree, nil
}

// StartChannel moves INITIALIZED -> STARTING -> (RUNNING | FUSE_ERROR).
// A failed attach's FUSE_ERROR transition is tolerant of a state that
// already advanced past it (a concurrent unmount/destroy ran first):
// that case is logged and swallowed, not returned as an error, since a
// race that loses to a more authoritative concurrent operation isn't a
// failure worth surfacing.
func (o *Orchestrator) StartChannel(ctx context.Context, readOnly bool) error {
	if err := o.m.State.Transition(mount.Initialized, mount.Starting); err != nil {
		return err
	}

	_ = os.MkdirAll(o.m.Config.MountPath, 0755)

	h, err := o.attach(ctx, readOnly)
	if err != nil {
		if terr := o.m.State.Transition(mount.Starting, mount.FuseError); terr != nil {
			logger.Warnf("lifecycle: %s: channel attach failed and state already moved on: %v", o.m.Config.MountPath, terr)
		}
		o.metrics.ChannelAttach(ctx, o.m.Config.ChannelProtocol.String(), "error")
		return err
	}

	if err := o.m.State.Transition(mount.Starting, mount.Running); err != nil {
		h.Stop()
		o.metrics.ChannelAttach(ctx, o.m.Config.ChannelProtocol.String(), "error")
		return err
	}

	o.metrics.ChannelAttach(ctx, o.m.Config.ChannelProtocol.String(), "ok")
	o.handle = h
	o.m.SetChannel(&mount.Channel{Variant: h.Variant, Stop: h.Stop})
	go o.awaitCompletion(h)
	return nil
}

// StartChannelFromTakeover bypasses the normal attach protocol and
// constructs the FUSE channel directly from a device handle preserved by
// a predecessor process. Callers must have
// already run Initialize with the corresponding takeover snapshot before
// calling this, mirroring initializeFromTakeover's ordering.
func (o *Orchestrator) StartChannelFromTakeover(ctx context.Context, device *os.File) error {
	if err := o.m.State.Transition(mount.Initialized, mount.Starting); err != nil {
		return err
	}

	h := channel.AttachTakeover(ctx, device, o.ccfg.Dispatcher)

	if err := o.m.State.Transition(mount.Starting, mount.Running); err != nil {
		h.Stop()
		return err
	}

	o.handle = h
	o.m.SetChannel(&mount.Channel{Variant: h.Variant, Stop: h.Stop})
	go o.awaitCompletion(h)
	return nil
}

func (o *Orchestrator) attach(ctx context.Context, readOnly bool) (*channel.Handle, error) {
	switch o.m.Config.ChannelProtocol {
	case mount.ChannelNFS:
		return channel.AttachNFS(ctx, o.m, o.m.Helper, o.ccfg.Dispatcher, o.ccfg.NFS, readOnly)
	case mount.ChannelProjection:
		return channel.AttachProjection(ctx, o.m, o.ccfg.Dispatcher)
	default:
		return channel.AttachFUSE(ctx, o.m, o.m.Helper, o.ccfg.Dispatcher, o.ccfg.FUSE, readOnly)
	}
}

// awaitCompletion arms the post-attach completion handler: once the channel's dispatcher returns, it marks
// the inode map unmounted if the kernel side was invalidated and resolves
// the mount's completion future.
func (o *Orchestrator) awaitCompletion(h *channel.Handle) {
	<-h.Done()
	if h.Unmounted() {
		o.m.Inodes.SetUnmounted()
	}
	o.m.ResolveCompletion(nil)
}

// Unmount is idempotent: it returns the existing unmount future if
// already in flight, resolves immediately if no mount ever started,
// otherwise waits for the mount promise and then invokes the
// protocol-specific detach.
func (o *Orchestrator) Unmount(ctx context.Context) error {
	promise, alreadyStarted := o.m.Handshake.BeginUnmount()
	if alreadyStarted {
		return promise.Wait()
	}

	if !o.m.Handshake.MountEverStarted() {
		promise.Fulfill(nil)
		return nil
	}

	started, err := o.m.Handshake.WaitForMountStarted()
	if started && err != nil {
		// The attach itself failed; there's no live channel to detach.
		promise.Fulfill(nil)
		return nil
	}

	var detachErr error
	switch o.m.Config.ChannelProtocol {
	case mount.ChannelProjection:
		if o.handle != nil {
			o.handle.Stop()
		}
	case mount.ChannelNFS:
		detachErr = o.m.Helper.NFSUnmount(ctx, o.m.Config.MountPath)
	default:
		detachErr = o.m.Helper.FuseUnmount(ctx, o.m.Config.MountPath)
	}

	promise.Fulfill(detachErr)
	return detachErr
}

// Shutdown tears the mount down: shutdown(do_takeover, allow_not_started).
func (o *Orchestrator) Shutdown(doTakeover, allowNotStarted bool) (*inodemap.SerializedMap, error) {
	from := o.m.State.Load()
	allowed := map[mount.State]bool{
		mount.Running:   true,
		mount.Starting:  true,
		mount.InitError: true,
		mount.FuseError: true,
	}
	if allowNotStarted {
		allowed[mount.Uninitialized] = true
		allowed[mount.Initializing] = true
		allowed[mount.Initialized] = true
	}
	if !allowed[from] {
		return nil, &mount.ErrIllegalStateTransition{From: from, To: mount.ShuttingDown}
	}
	if err := o.m.State.Transition(from, mount.ShuttingDown); err != nil {
		return nil, err
	}

	o.m.Journal.CancelAllSubscribers()

	var snapshot *inodemap.SerializedMap
	if o.m.Inodes != nil {
		s, err := o.m.Inodes.Shutdown(doTakeover)
		if err != nil {
			logger.Warnf("lifecycle: %s: inode map shutdown: %v", o.m.Config.MountPath, err)
		}
		snapshot = s
	}

	if o.m.Overlay != nil {
		if err := o.m.Overlay.Close(); err != nil {
			logger.Warnf("lifecycle: %s: overlay close: %v", o.m.Config.MountPath, err)
		}
	}

	// If destroy() raced in and swapped the state to DESTROYING before this
	// CAS runs, Transition fails and the caller sees the error; destroy()'s
	// own ShuttingDown case is what then drives the self-delete once this
	// teardown (already run above) has completed.
	if err := o.m.State.Transition(mount.ShuttingDown, mount.ShutDown); err != nil {
		return snapshot, err
	}

	return snapshot, nil
}

// Destroy runs destroy(): an atomic exchange to DESTROYING from any
// state, then either an immediate delete or a normal shutdown depending
// on what state it came from.
func (o *Orchestrator) Destroy(doTakeover bool) (*inodemap.SerializedMap, error) {
	prior := o.m.State.Exchange(mount.Destroying)

	switch prior {
	case mount.Destroying:
		panic("lifecycle: destroy() called twice on the same mount; this is a fatal invariant violation")

	case mount.ShutDown:
		return nil, nil

	case mount.ShuttingDown:
		// A shutdown is already in flight; it will observe DESTROYING at
		// ShuttingDown->ShutDown and self-delete. Nothing further to do here.
		return nil, nil

	case mount.Uninitialized, mount.Initializing:
		if o.m.Inodes == nil {
			return nil, nil
		}
		return o.runShutdownFromDestroying(doTakeover)

	default:
		return o.runShutdownFromDestroying(doTakeover)
	}
}

// runShutdownFromDestroying drives the same steps Shutdown does, for the
// case where destroy() has already moved the state to DESTROYING and
// there's real teardown work (inode map, overlay) left to do.
func (o *Orchestrator) runShutdownFromDestroying(doTakeover bool) (*inodemap.SerializedMap, error) {
	o.m.Journal.CancelAllSubscribers()

	var snapshot *inodemap.SerializedMap
	if o.m.Inodes != nil {
		s, err := o.m.Inodes.Shutdown(doTakeover)
		if err != nil {
			logger.Warnf("lifecycle: %s: inode map shutdown during destroy: %v", o.m.Config.MountPath, err)
		}
		snapshot = s
	}
	if o.m.Overlay != nil {
		if err := o.m.Overlay.Close(); err != nil {
			logger.Warnf("lifecycle: %s: overlay close during destroy: %v", o.m.Config.MountPath, err)
		}
	}
	return snapshot, nil
}
