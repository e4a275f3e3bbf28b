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

package privhelper_test

import (
	"context"
	"testing"

	"github.com/googlecloudplatform/scmfuse/internal/privhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_FuseMount_RespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var h privhelper.Helper = privhelper.Local{}
	_, err := h.FuseMount(ctx, "/mnt/repo", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocal_BindMount_IsNotImplemented(t *testing.T) {
	var h privhelper.Helper = privhelper.Local{}
	err := h.BindMount(context.Background(), "/mnt/target", "/mnt/source")
	require.Error(t, err)
}

func TestLocal_FuseUnmount_WrapsFailureForAnUnmountedPath(t *testing.T) {
	var h privhelper.Helper = privhelper.Local{}
	err := h.FuseUnmount(context.Background(), t.TempDir())
	require.Error(t, err, "a plain directory that was never mounted must fail to unmount")
}

func TestLocal_NFSMount_Succeeds(t *testing.T) {
	var h privhelper.Helper = privhelper.Local{}
	err := h.NFSMount(context.Background(), "/mnt/repo", "127.0.0.1:0", "127.0.0.1:0", false, 65536)
	assert.NoError(t, err)
}
