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
	"os"

	"github.com/googlecloudplatform/scmfuse/internal/mount"
)

// AttachTakeover constructs the FUSE channel directly from a preserved
// device handle, bypassing the normal attach protocol. Callers are expected to have already run
// initializeFromTakeover on the inode map before calling this.
func AttachTakeover(ctx context.Context, device *os.File, dispatcher Dispatcher) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := newHandle(mount.ChannelFUSE, cancel)
	go h.run(runCtx, dispatcher, device)
	return h
}
