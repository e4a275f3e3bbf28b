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

import "errors"

// Error kinds surfaced across the core/caller boundary.
// ErrIllegalStateTransition lives in state.go and ErrLockTimeout lives in
// parent.go. channel.ErrDeviceUnmountedDuringInitialization and
// checkout.ErrCheckoutInProgress belong to their own packages; only the
// outcome observed directly by start_channel/unmount lives here.
var (
	ErrMountCancelled = errors.New("mount: cancelled by a concurrent unmount")
)
