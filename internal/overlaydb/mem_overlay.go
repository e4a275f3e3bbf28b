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

package overlaydb

import (
	"context"
	"sync"

	"github.com/googlecloudplatform/scmfuse/internal/inodemap"
)

// MemOverlay is the overlay type = "none" / "memory" option: it never
// survives a process restart, so initialize() always seeds the inode map
// from scratch against it.
type MemOverlay struct {
	mu    sync.Mutex
	dirs  map[inodemap.Number][]DirEntry
	files map[inodemap.Number][]byte
}

var _ Overlay = (*MemOverlay)(nil)

func NewMemOverlay() *MemOverlay {
	return &MemOverlay{
		dirs:  make(map[inodemap.Number][]DirEntry),
		files: make(map[inodemap.Number][]byte),
	}
}

func (o *MemOverlay) Initialize(context.Context, string, ProgressCallback) error { return nil }

func (o *MemOverlay) HasPersistedRootDir() (bool, error) { return false, nil }

func (o *MemOverlay) LoadOverlayDir(num inodemap.Number) ([]DirEntry, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries, ok := o.dirs[num]
	return entries, ok, nil
}

func (o *MemOverlay) SaveOverlayDir(num inodemap.Number, entries []DirEntry) error {
	o.mu.Lock()
	o.dirs[num] = entries
	o.mu.Unlock()
	return nil
}

func (o *MemOverlay) SaveFileContent(num inodemap.Number, content []byte) error {
	o.mu.Lock()
	o.files[num] = content
	o.mu.Unlock()
	return nil
}

func (o *MemOverlay) LoadFileContent(num inodemap.Number) ([]byte, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.files[num]
	return c, ok, nil
}

func (o *MemOverlay) IsPersistent() bool { return false }

func (o *MemOverlay) Close() error { return nil }
