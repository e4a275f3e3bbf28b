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

package channel

import (
	"context"
	"runtime"

	"github.com/googlecloudplatform/scmfuse/internal/mount"
)

// AttachProjection implements the Windows projected-filesystem
// sub-protocol. No privileged helper round-trip is needed; on any other
// platform it fails immediately with ErrUnsupportedPlatform, following
// the usual platform-gated unmount_unix.go/unmount_other.go split.
func AttachProjection(ctx context.Context, m *mount.Mount, dispatcher Dispatcher) (*Handle, error) {
	mh := m.Handshake.BeginMount()

	if runtime.GOOS != "windows" {
		mh.Fulfill(ErrUnsupportedPlatform)
		return nil, ErrUnsupportedPlatform
	}

	if m.Handshake.ChannelUnmountStarted() {
		mh.Fulfill(ErrDeviceUnmountedDuringInitialization)
		return nil, ErrDeviceUnmountedDuringInitialization
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(mount.ChannelProjection, cancel)
	mh.Fulfill(nil)
	go h.run(runCtx, dispatcher, nil)
	return h, nil
}
