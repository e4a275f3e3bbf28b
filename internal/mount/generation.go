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
	"os"
	"sync/atomic"
	"time"
)

// processCounter is the sole piece of global mutable state in this package.
var processCounter atomic.Uint32

var processBootTime = time.Now()

// NextGeneration returns the next 64-bit mount generation:
// (pid<<48) | (boot-time<<16) | per-process-monotonic-counter. The
// counter occupies the bottom 16 bits and is unique per (pid, boot-time)
// for the life of the process.
func NextGeneration() uint64 {
	pid := uint64(os.Getpid())
	boot := uint64(processBootTime.Unix())
	counter := uint64(processCounter.Add(1)) & 0xffff
	return (pid << 48) | (boot << 16) | counter
}
