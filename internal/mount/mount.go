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

package mount

import (
	"sync/atomic"
	"time"

	"github.com/googlecloudplatform/scmfuse/internal/clock"
	"github.com/googlecloudplatform/scmfuse/internal/faultinjection"
	"github.com/googlecloudplatform/scmfuse/internal/inodemap"
	"github.com/googlecloudplatform/scmfuse/internal/journal"
	"github.com/googlecloudplatform/scmfuse/internal/objectstore"
	"github.com/googlecloudplatform/scmfuse/internal/overlaydb"
	"github.com/googlecloudplatform/scmfuse/internal/privhelper"
)

// ChannelVariant tags which kernel-facing protocol, if any, a Mount has
// attached: none, FUSE, NFS, or projection.
type ChannelVariant int

const (
	ChannelNone ChannelVariant = iota
	ChannelFUSE
	ChannelNFS
	ChannelProjection
)

func (v ChannelVariant) String() string {
	switch v {
	case ChannelFUSE:
		return "fuse"
	case ChannelNFS:
		return "nfs"
	case ChannelProjection:
		return "projection"
	default:
		return "none"
	}
}

// Config is the mount's immutable checkout configuration, fixed for the
// life of the Mount.
type Config struct {
	MountPath       string
	ClientDir       string
	CaseSensitive   bool
	RequireUTF8     bool
	OverlayType     string
	ChannelProtocol ChannelVariant
	ParentRootID    objectstore.RootID
}

// Collaborators bundles the external services a Mount is wired to. All
// fields are required; New panics if any is nil,
// since a Mount with a missing collaborator can't safely reach any state
// past UNINITIALIZED.
type Collaborators struct {
	Store   objectstore.Store
	Overlay overlaydb.Overlay
	Helper  privhelper.Helper
	Clock   clock.Clock
}

// Channel is the attached kernel-facing handle, set once start_channel
// (or takeover) succeeds. It records only the protocol Variant and a Stop
// function; it holds no protocol-specific fields.
type Channel struct {
	Variant ChannelVariant
	Stop    func()
}

// Mount is the top-level lifecycle aggregate. Every field
// that is read or written after construction without holding an
// exclusive caller-side lock is either atomic or itself internally
// synchronized; Mount has no mutex of its own.
type Mount struct {
	Config Config

	Store   objectstore.Store
	Overlay overlaydb.Overlay
	Inodes  *inodemap.Map
	Journal *journal.Journal
	Helper  privhelper.Helper
	Clock   clock.Clock
	Faults  *faultinjection.Injector

	State     *StateVar
	Parent    *ParentCommit
	Handshake *MountingHandshake

	// lastCheckoutTime is stored as UnixNano; release-store/acquire-load
	// maps directly onto atomic.Int64 store/load.
	lastCheckoutTime atomic.Int64

	// prefetchesInProgress is fetch-add on acquire, fetch-sub on release,
	// including on the failure path.
	prefetchesInProgress atomic.Int64

	OwnerUID uint32
	OwnerGID uint32

	Generation uint64

	channel atomic.Pointer[Channel]

	completion *broadcastPromise
}

// New constructs a Mount in UNINITIALIZED state. The inode map is left
// nil until initialize() seeds it.
func New(cfg Config, collab Collaborators, ownerUID, ownerGID uint32) *Mount {
	if collab.Store == nil || collab.Overlay == nil || collab.Helper == nil || collab.Clock == nil {
		panic("mount: New called with a nil collaborator")
	}
	return &Mount{
		Config:     cfg,
		Store:      collab.Store,
		Overlay:    collab.Overlay,
		Helper:     collab.Helper,
		Clock:      collab.Clock,
		Faults:     faultinjection.New(),
		Journal:    journal.New(),
		State:      NewStateVar(Uninitialized),
		Parent:     NewParentCommit(),
		Handshake:  NewMountingHandshake(),
		Generation: NextGeneration(),
		completion: newBroadcastPromise(),
	}
}

// LastCheckoutTime returns the last-checkout timestamp.
func (m *Mount) LastCheckoutTime() time.Time {
	return time.Unix(0, m.lastCheckoutTime.Load())
}

// TouchCheckoutTime advances last_checkout_time to the clock's current
// time.
func (m *Mount) TouchCheckoutTime() {
	m.lastCheckoutTime.Store(m.Clock.Now().UnixNano())
}

// BeginPrefetch increments prefetches_in_progress and returns the release
// function, which must be called exactly once regardless of outcome.
func (m *Mount) BeginPrefetch() (release func()) {
	m.prefetchesInProgress.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			m.prefetchesInProgress.Add(-1)
		}
	}
}

// PrefetchesInProgress reports the current lease count.
func (m *Mount) PrefetchesInProgress() int64 {
	return m.prefetchesInProgress.Load()
}

// Channel returns the currently attached channel handle, or nil if none
// is attached.
func (m *Mount) Channel() *Channel {
	return m.channel.Load()
}

// SetChannel installs the attached channel handle. Called by
// LifecycleOrchestrator.StartChannel (and its takeover counterpart) once
// the kernel-facing attach succeeds.
func (m *Mount) SetChannel(c *Channel) {
	m.channel.Store(c)
}

// CompletionFuture returns the promise resolved when the attached
// channel terminates.
func (m *Mount) CompletionFuture() (wait func() error) {
	return m.completion.wait
}

// ResolveCompletion fulfills the channel-completion promise exactly
// once; later channel generations after a takeover get a fresh Mount, so
// a single promise per Mount is sufficient. Called by the lifecycle orchestrator
// once it observes the attached channel's dispatcher return.
func (m *Mount) ResolveCompletion(err error) {
	m.completion.fulfill(err)
}
