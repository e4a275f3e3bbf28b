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

// Package checkout implements CheckoutEngine: the
// multi-phase transaction that moves a Mount's working tree from its
// current parent commit to a target commit.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/googlecloudplatform/scmfuse/internal/diffutil"
	"github.com/googlecloudplatform/scmfuse/internal/faultinjection"
	"github.com/googlecloudplatform/scmfuse/internal/logger"
	"github.com/googlecloudplatform/scmfuse/internal/mount"
	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
	"github.com/googlecloudplatform/scmfuse/internal/workerpool"
	"github.com/googlecloudplatform/scmfuse/metrics"
)

// ErrCheckoutInProgress is returned when a checkout cannot acquire the
// parent-commit writer guard within the configured timeout because
// another checkout already holds it.
var ErrCheckoutInProgress = errors.New("checkout: another checkout is already in progress")

// Mode selects how apply reacts to a path that was modified locally
// since the last checkout.
type Mode int

const (
	// ModeDryRun computes the diff and conflicts without mutating the
	// inode tree or touching the journal.
	ModeDryRun Mode = iota
	// ModeNormal applies non-conflicting changes and reports conflicts
	// for paths with local modifications, leaving those paths untouched.
	ModeNormal
	// ModeForce applies every change, discarding local modifications on
	// conflicting paths.
	ModeForce
)

func (m Mode) String() string {
	switch m {
	case ModeDryRun:
		return "DRY_RUN"
	case ModeForce:
		return "FORCE"
	default:
		return "NORMAL"
	}
}

// Conflict describes one path where a local modification collided with
// an upstream change.
type Conflict struct {
	Path   string
	Reason string
}

// Context bundles the parameters a single checkout call needs: the mode, an optional calling client pid and
// caller name (surfaced in telemetry), and the lock timeout to use.
type Context struct {
	Mode        Mode
	ClientPID   int
	CallerName  string
	LockTimeout time.Duration // zero means mount.DefaultLockTimeout
}

// Times records the wall-clock cost of each phase, threaded into the
// FinishedCheckout telemetry event.
type Times struct {
	Started      time.Time
	LockAcquired time.Duration
	Diffed       time.Duration
	Applied      time.Duration
	Total        time.Duration
}

// Result is returned by a successful (or dry-run) checkout.
type Result struct {
	Conflicts    []Conflict
	TreesFetched int
	BlobsFetched int
	Times        Times
}

// Engine drives checkouts against one Mount. renameMu is the "rename
// lock", held from phase 6 to the end of Run. It does not cover the
// apply, which runs inline during the phase-5 diff walk before renameMu
// is taken; two checkouts against the same mount are kept apart by the
// ParentCommit writer guard acquired in phase 1.
type Engine struct {
	m        *mount.Mount
	renameMu sync.Mutex
	diff     *diffutil.Engine
	pool     *workerpool.StaticWorkerPool
	metrics  metrics.MetricHandle
}

func New(m *mount.Mount) *Engine {
	return &Engine{m: m, diff: diffutil.New(), metrics: metrics.NewNoopMetrics()}
}

// WithPool runs this engine's diff subtree comparisons on the shared
// server thread pool instead of an unbounded goroutine-per-directory
// fan-out. Returns e for chaining.
func (e *Engine) WithPool(pool *workerpool.StaticWorkerPool) *Engine {
	e.pool = pool
	return e
}

// WithMetrics reports every checkout's duration and fetch counts through
// mh instead of discarding them, the same way a request handler wires a
// MetricHandle in to observe its own work. Returns e for chaining.
func (e *Engine) WithMetrics(mh metrics.MetricHandle) *Engine {
	e.metrics = mh
	return e
}

// Run executes the 11-phase checkout transaction, moving m from its
// current parent to target.
func (e *Engine) Run(ctx context.Context, target objectstore.RootID, cctx Context) (Result, error) {
	var times Times
	times.Started = e.m.Clock.Now()

	timeout := cctx.LockTimeout
	if timeout <= 0 {
		timeout = mount.DefaultLockTimeout
	}

	// Phase 1: acquire the ParentCommit writer guard.
	lockStart := e.m.Clock.Now()
	guard, err := e.m.Parent.AcquireWriter(ctx, timeout)
	if err != nil {
		if errors.Is(err, mount.ErrLockTimeout) {
			return Result{}, fmt.Errorf("checkout: %w", ErrCheckoutInProgress)
		}
		return Result{}, fmt.Errorf("checkout: acquire parent lock: %w", err)
	}
	times.LockAcquired = e.m.Clock.Now().Sub(lockStart)

	oldRoot := e.m.Parent.Get()
	succeeded := false
	defer func() {
		if !succeeded {
			guard.Release()
		}
	}()

	// Phase 2: touch last_checkout_time.
	e.m.TouchCheckoutTime()

	// Phase 3: fault-injection gate ("checkout", mount path).
	if err := e.m.Faults.Wait(ctx, faultinjection.Key{Class: "checkout", Path: string(e.m.Config.MountPath)}); err != nil {
		return Result{}, fmt.Errorf("checkout: %w", err)
	}

	fctx := objectstore.NewFetchContext()

	// Phase 4: nothing is prefetched here. The diff engine fetches the
	// old and new root trees itself at the start of phase 5, one after
	// the other rather than in parallel.

	// Phase 5: diff phase (skipped entirely in DRY_RUN only insofar as
	// its result is not committed; the comparison itself always runs so
	// a dry-run can still report conflicts).
	diffStart := e.m.Clock.Now()
	cb := diffutil.NewJournalDiffCallback()
	apply := &applyCallback{
		inodes: e.m.Inodes,
		store:  e.m.Store,
		fctx:   fctx,
		mode:   cctx.Mode,
	}
	composite := multiCallback{cb, apply}

	dctx := diffutil.Context{
		Store:         e.m.Store,
		Fetch:         fctx,
		CaseSensitive: e.m.Config.CaseSensitive,
		ListIgnored:   false,
		Pool:          e.pool,
	}
	if err := e.diff.Run(ctx, oldRoot, target, dctx, composite); err != nil {
		return Result{}, fmt.Errorf("checkout: diff: %w", err)
	}
	times.Diffed = e.m.Clock.Now().Sub(diffStart)

	// Phase 6: acquire the rename lock and unload unreferenced inodes.
	e.renameMu.Lock()
	defer e.renameMu.Unlock()
	e.unloadUnreferenced()

	// Phase 7: fault-injection gate ("inodeCheckout", mount path).
	if err := e.m.Faults.Wait(ctx, faultinjection.Key{Class: "inodeCheckout", Path: string(e.m.Config.MountPath)}); err != nil {
		return Result{}, fmt.Errorf("checkout: %w", err)
	}

	// Phase 8: apply already ran inline as part of the diff walk above
	// (applyCallback mutated the inode tree as each difference was
	// discovered); what remains is collecting its conflicts.
	applyStart := e.m.Clock.Now()
	conflicts := apply.conflicts
	times.Applied = e.m.Clock.Now().Sub(applyStart)

	if cctx.Mode == ModeDryRun {
		guard.Release()
		succeeded = true
		times.Total = e.m.Clock.Now().Sub(times.Started)
		trees, blobs := fctx.Snapshot()
		logFinishedCheckout(target, cctx, times, len(conflicts), true)
		e.reportMetrics(ctx, cctx, times, conflicts, trees, blobs)
		return Result{Conflicts: conflicts, TreesFetched: trees, BlobsFetched: blobs, Times: times}, nil
	}

	// Phase 9: finish — persist target as the new parent, release the
	// writer guard.
	guard.Finish(target)
	succeeded = true

	// Phase 10: append exactly one journal entry: the unclean-paths entry
	// when the diff found unclean paths, otherwise a hash update.
	unclean := cb.StealUncleanPaths()
	if len(unclean) > 0 {
		e.m.Journal.RecordUncleanPaths(oldRoot, target, unclean)
	} else {
		e.m.Journal.RecordHashUpdate(oldRoot, target)
	}

	times.Total = e.m.Clock.Now().Sub(times.Started)

	// Phase 11: telemetry.
	trees, blobs := fctx.Snapshot()
	logFinishedCheckout(target, cctx, times, len(conflicts), false)
	e.reportMetrics(ctx, cctx, times, conflicts, trees, blobs)

	return Result{Conflicts: conflicts, TreesFetched: trees, BlobsFetched: blobs, Times: times}, nil
}

func logFinishedCheckout(target objectstore.RootID, cctx Context, times Times, numConflicts int, dryRun bool) {
	logger.Infof("checkout: finished target=%s mode=%s caller=%q pid=%d conflicts=%d dry_run=%t total=%s",
		target, cctx.Mode, cctx.CallerName, cctx.ClientPID, numConflicts, dryRun, times.Total)
}

// reportMetrics records CaptureCheckoutMetrics with the outcome label
// phase 11 distinguishes: a checkout with conflicts still succeeded, so
// "conflict" is its own outcome rather than an error.
func (e *Engine) reportMetrics(ctx context.Context, cctx Context, times Times, conflicts []Conflict, trees, blobs int) {
	outcome := "ok"
	if len(conflicts) > 0 {
		outcome = "conflict"
	}
	metrics.CaptureCheckoutMetrics(ctx, e.metrics, cctx.Mode.String(), times.Total, outcome, int64(trees), int64(blobs))
}

// unloadUnreferenced drops inode-map entries nothing still references.
// This module owns no kernel reference count of its own (see
// inodemap.Map.GetReferencedInodes), so every tracked inode is currently
// considered referenced; this is a deliberate no-op placeholder for that
// reason, not an oversight.
func (e *Engine) unloadUnreferenced() {
	_ = e.m.Inodes.GetReferencedInodes()
}

// multiCallback fans a single diff walk out to several Callbacks, used
// here to run the journal-accumulating callback and the tree-mutating
// apply callback over the same walk without running the walk twice.
type multiCallback []diffutil.Callback

func (m multiCallback) IgnoredFile(p string) {
	for _, cb := range m {
		cb.IgnoredFile(p)
	}
}
func (m multiCallback) AddedFile(p string, e objectstore.TreeEntry) {
	for _, cb := range m {
		cb.AddedFile(p, e)
	}
}
func (m multiCallback) RemovedFile(p string, e objectstore.TreeEntry) {
	for _, cb := range m {
		cb.RemovedFile(p, e)
	}
}
func (m multiCallback) ModifiedFile(p string, old, new objectstore.TreeEntry) {
	for _, cb := range m {
		cb.ModifiedFile(p, old, new)
	}
}
func (m multiCallback) DiffError(p string, err error) {
	for _, cb := range m {
		cb.DiffError(p, err)
	}
}
