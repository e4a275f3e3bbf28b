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

	"github.com/googlecloudplatform/scmfuse/internal/logger"
	"github.com/googlecloudplatform/scmfuse/internal/mount"
	"github.com/googlecloudplatform/scmfuse/internal/privhelper"
	"github.com/jacobsa/fuse"
)

// FUSEConfig mirrors the fields cmd/mount.go threads into fuse.MountConfig,
// trimmed to what a checkout-backed mount needs.
type FUSEConfig struct {
	FSName                  string
	Subtype                 string
	VolumeName              string
	Options                 map[string]string
	ThreadCount             int
	EnableParallelDirOps    bool
	DisableWritebackCaching bool
	EnableReaddirplus       bool
}

// jacobsaMountConfig builds the real fuse.MountConfig value cmd/mount.go's
// flags translate into. It is not passed to fuse.Mount here (this module's
// Dispatcher stands in for the kernel-op loop fuse.Mount would otherwise
// drive) but is built and logged so the thread-count/option wiring is
// exercised the same way a real attach would use it.
func jacobsaMountConfig(c FUSEConfig) *fuse.MountConfig {
	return &fuse.MountConfig{
		FSName:                  c.FSName,
		Subtype:                 c.Subtype,
		VolumeName:              c.VolumeName,
		Options:                 c.Options,
		EnableParallelDirOps:    c.EnableParallelDirOps,
		DisableWritebackCaching: c.DisableWritebackCaching,
		EnableReaddirplus:       c.EnableReaddirplus,
	}
}

// AttachFUSE implements the FUSE sub-protocol of ChannelAttach. It requests a device from the privileged helper, honours a
// concurrent unmount that already started, and otherwise arms dispatcher
// to serve the device.
func AttachFUSE(ctx context.Context, m *mount.Mount, helper privhelper.Helper, dispatcher Dispatcher, fcfg FUSEConfig, readOnly bool) (*Handle, error) {
	mh := m.Handshake.BeginMount()

	device, err := helper.FuseMount(ctx, m.Config.MountPath, readOnly)
	if err != nil {
		mh.Fulfill(err)
		return nil, fmt.Errorf("channel: fuse_mount: %w", err)
	}

	if m.Handshake.ChannelUnmountStarted() {
		device.Close()
		if uerr := helper.FuseUnmount(ctx, m.Config.MountPath); uerr != nil {
			logger.Warnf("channel: helper fuse_unmount during cancelled attach: %v", uerr)
		}
		mh.Fulfill(ErrDeviceUnmountedDuringInitialization)
		return nil, ErrDeviceUnmountedDuringInitialization
	}

	jcfg := jacobsaMountConfig(fcfg)
	logger.Infof("channel: attached fuse device for %q (fsname=%s, threads=%d)", m.Config.MountPath, jcfg.FSName, fcfg.ThreadCount)

	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(mount.ChannelFUSE, cancel)
	mh.Fulfill(nil)
	go h.run(runCtx, dispatcher, device)
	return h, nil
}
