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

// Package overlaydb is the local, persisted, per-inode storage for
// modifications consumed by the core. It owns no particular
// on-disk format; the bolt-backed implementation here
// is one concrete realization among several the config allows.
package overlaydb

import (
	"context"

	"github.com/googlecloudplatform/scmfuse/internal/inodemap"
)

// ProgressCallback is invoked periodically while Initialize scans a large
// persisted overlay, mirroring the progress_cb threaded through
// initialize().
type ProgressCallback func(done, total int)

// DirEntry is one persisted child record for a directory inode.
type DirEntry struct {
	Name string
	Num  inodemap.Number
	Kind inodemap.Kind
}

// Overlay is the external collaborator that persists directory
// materializations across process restarts.
type Overlay interface {
	// Initialize prepares the overlay for mountPath, reporting scan
	// progress through progress.
	Initialize(ctx context.Context, mountPath string, progress ProgressCallback) error

	// HasPersistedRootDir reports whether a previous mount already
	// materialized the root directory into this overlay — initialize()
	// branches on this to decide whether to fetch the root tree at all.
	HasPersistedRootDir() (bool, error)

	// LoadOverlayDir returns the persisted children of a directory
	// inode, or ok==false if the overlay has nothing recorded for it.
	LoadOverlayDir(num inodemap.Number) (entries []DirEntry, ok bool, err error)

	// SaveOverlayDir persists a directory's children so a future mount
	// (or a takeover successor) can reload it.
	SaveOverlayDir(num inodemap.Number, entries []DirEntry) error

	// SaveFileContent persists materialized local content for a file or
	// symlink inode.
	SaveFileContent(num inodemap.Number, content []byte) error

	// LoadFileContent is the inverse of SaveFileContent.
	LoadFileContent(num inodemap.Number) (content []byte, ok bool, err error)

	// IsPersistent reports whether this overlay survives process
	// restarts — used by initialize() to decide whether to seed the
	// inode map from the overlay or from scratch.
	IsPersistent() bool

	Close() error
}
