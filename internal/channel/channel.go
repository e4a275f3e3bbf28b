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

// Package channel implements the FUSE, NFS, and projection sub-protocols
// that bind a Mount to its kernel-facing device, plus the takeover
// payload built when a channel stops.
package channel

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"github.com/googlecloudplatform/scmfuse/internal/inodemap"
	"github.com/googlecloudplatform/scmfuse/internal/logger"
	"github.com/googlecloudplatform/scmfuse/internal/mount"
)

// ErrDeviceUnmountedDuringInitialization is returned when unmount() races
// ahead of a FUSE/NFS attach that already obtained a kernel device.
var ErrDeviceUnmountedDuringInitialization = errors.New("channel: device unmounted during initialization")

// ErrUnsupportedPlatform is returned by the projection sub-protocol on any
// platform other than Windows.
var ErrUnsupportedPlatform = errors.New("channel: projection protocol is only supported on Windows")

// Dispatcher serves kernel operations read from an attached device. The
// kernel-channel wire protocol itself is out of this module's scope;
// callers supply a concrete Dispatcher when they need one.
// ServeOps must return once device is closed or ctx is cancelled.
type Dispatcher interface {
	ServeOps(ctx context.Context, device *os.File) error
}

// NoopDispatcher blocks until ctx is cancelled without reading the
// device, standing in for a real kernel-op loop in tests and in the CLI
// skeleton.
type NoopDispatcher struct{}

func (NoopDispatcher) ServeOps(ctx context.Context, _ *os.File) error {
	<-ctx.Done()
	return ctx.Err()
}

// Handle is the attached channel handle threaded onto Mount. Stop triggers protocol-specific detach;
// Done reports when the dispatcher has returned.
type Handle struct {
	Variant mount.ChannelVariant

	cancel   func()
	done     chan struct{}
	stopOnce sync.Once

	device    atomic.Pointer[os.File] // nil once closed or never opened (projection)
	unmounted atomic.Bool
}

func newHandle(variant mount.ChannelVariant, cancel func()) *Handle {
	return &Handle{Variant: variant, cancel: cancel, done: make(chan struct{})}
}

// Stop requests the dispatcher to return; it does not block.
func (h *Handle) Stop() {
	h.stopOnce.Do(h.cancel)
}

// Done reports when the dispatcher serving this channel has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Device returns the live kernel device, or nil once invalidated (closed
// on stop, or never present for NFS/projection).
func (h *Handle) Device() *os.File { return h.device.Load() }

// Unmounted reports whether the kernel side was invalidated out from
// under us.
func (h *Handle) Unmounted() bool { return h.unmounted.Load() }

func (h *Handle) run(ctx context.Context, dispatcher Dispatcher, device *os.File) {
	defer close(h.done)
	if device != nil {
		h.device.Store(device)
	}
	err := dispatcher.ServeOps(ctx, device)
	if err != nil {
		logger.Infof("channel: dispatcher for %s channel returned: %v", h.Variant, err)
	}
	if d := h.device.Swap(nil); d != nil {
		d.Close()
	}
}

// TakeoverPayload is the state handed to a successor process when a
// channel stops and a takeover was requested.
type TakeoverPayload struct {
	MountPath     string
	ClientDir     string
	BindMounts    []string
	FUSEDevice    *os.File // nil unless Variant==ChannelFUSE and still valid
	InodeSnapshot *inodemap.SerializedMap
}
