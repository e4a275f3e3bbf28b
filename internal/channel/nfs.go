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
	"fmt"
	"net"
	"path/filepath"

	"github.com/googlecloudplatform/scmfuse/internal/logger"
	"github.com/googlecloudplatform/scmfuse/internal/mount"
	"github.com/googlecloudplatform/scmfuse/internal/privhelper"
)

// EventLoop registers a loopback NFS server and reports back the mountd
// listener address once ready; the real NFS wire protocol is out of this
// module's scope, so registration is abstracted behind this
// interface rather than implemented in full.
type EventLoop interface {
	Register(ctx context.Context, socketPath string) (mountdAddr string, stop func(), err error)
}

// LoopbackEventLoop is a minimal EventLoop realized with a Unix socket
// listener, optionally placed in the client directory as nfsd.socket.
type LoopbackEventLoop struct{}

func (LoopbackEventLoop) Register(_ context.Context, socketPath string) (string, func(), error) {
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return "", nil, fmt.Errorf("channel: nfs loopback listen: %w", err)
	}
	stop := func() { l.Close() }
	return l.Addr().String(), stop, nil
}

// NFSConfig bundles the loopback-specific settings for AttachNFS.
type NFSConfig struct {
	IOSize    int
	EventLoop EventLoop
	ClientDir string
}

// AttachNFS implements the loopback NFS sub-protocol of ChannelAttach.
// Cancellation handling mirrors AttachFUSE.
func AttachNFS(ctx context.Context, m *mount.Mount, helper privhelper.Helper, dispatcher Dispatcher, cfg NFSConfig, readOnly bool) (*Handle, error) {
	mh := m.Handshake.BeginMount()

	loop := cfg.EventLoop
	if loop == nil {
		loop = LoopbackEventLoop{}
	}
	socketPath := filepath.Join(cfg.ClientDir, "nfsd.socket")
	mountdAddr, stopLoop, err := loop.Register(ctx, socketPath)
	if err != nil {
		mh.Fulfill(err)
		return nil, err
	}

	if err := helper.NFSMount(ctx, m.Config.MountPath, mountdAddr, socketPath, readOnly, cfg.IOSize); err != nil {
		stopLoop()
		mh.Fulfill(err)
		return nil, fmt.Errorf("channel: nfs_mount: %w", err)
	}

	if m.Handshake.ChannelUnmountStarted() {
		stopLoop()
		if uerr := helper.NFSUnmount(ctx, m.Config.MountPath); uerr != nil {
			logger.Warnf("channel: helper nfs_unmount during cancelled attach: %v", uerr)
		}
		mh.Fulfill(ErrDeviceUnmountedDuringInitialization)
		return nil, ErrDeviceUnmountedDuringInitialization
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(mount.ChannelNFS, func() {
		cancel()
		stopLoop()
	})
	mh.Fulfill(nil)
	go h.run(runCtx, dispatcher, nil)
	return h, nil
}
