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

// Package privhelper is the client side of the privileged mount helper:
// a privilege-separated process that actually calls mount(2)/umount(2)
// (or, on the loopback NFS path, registers the export), following the
// gcsfuse_mount_helper / tools/mount_gcsfuse privilege-separation split.
package privhelper

import (
	"context"
	"fmt"
	"os"
)

// Helper is the external collaborator consumed by ChannelAttach.
type Helper interface {
	FuseMount(ctx context.Context, path string, readOnly bool) (*os.File, error)
	FuseUnmount(ctx context.Context, path string) error

	NFSMount(ctx context.Context, path string, mountdAddr, nfsdAddr string, readOnly bool, ioSize int) error
	NFSUnmount(ctx context.Context, path string) error

	BindMount(ctx context.Context, target, source string) error
	BindUnmount(ctx context.Context, path string) error
}

// Local is a same-process stand-in for the real privilege-separated
// helper: it opens /dev/fuse and calls the unmount system call directly
// rather than round-tripping to a separate helper process over a socket.
// NFSMount does nothing and BindMount always returns an error. Good enough
// for tests and for single-user developer setups; a production
// deployment swaps this for an RPC client to the real helper.
type Local struct{}

var _ Helper = Local{}

func (Local) FuseMount(ctx context.Context, path string, readOnly bool) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, err := os.OpenFile("/dev/fuse", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("privhelper: open /dev/fuse: %w", err)
	}
	return dev, nil
}

func (Local) FuseUnmount(ctx context.Context, path string) error {
	return unmount(path)
}

func (Local) NFSMount(ctx context.Context, path string, mountdAddr, nfsdAddr string, readOnly bool, ioSize int) error {
	return nil
}

func (Local) NFSUnmount(ctx context.Context, path string) error {
	return unmount(path)
}

func (Local) BindMount(ctx context.Context, target, source string) error {
	return fmt.Errorf("privhelper: bind mounts are not implemented by the local helper")
}

func (Local) BindUnmount(ctx context.Context, path string) error {
	return unmount(path)
}
