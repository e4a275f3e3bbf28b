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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/googlecloudplatform/scmfuse/internal/inodemap"
)

var (
	dirsBucket  = []byte("dirs")
	filesBucket = []byte("files")
	metaBucket  = []byte("meta")
	rootDirKey  = []byte("has-root-dir")
)

// BoltOverlay is the overlay type = "bolt" option: a single-file embedded
// key/value store (grounded on rclone's use of go.etcd.io/bbolt for local
// persisted caches) that survives process restarts, letting
// initialize() seed the inode map from the overlay instead of from
// scratch.
type BoltOverlay struct {
	db *bolt.DB
}

var _ Overlay = (*BoltOverlay)(nil)

// OpenBoltOverlay opens (creating if needed) the overlay database under
// mountPath/.overlay.db.
func OpenBoltOverlay(mountPath string) (*BoltOverlay, error) {
	path := filepath.Join(mountPath, ".overlay.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("overlaydb: open %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{dirsBucket, filesBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("overlaydb: init buckets: %w", err)
	}
	return &BoltOverlay{db: db}, nil
}

func (o *BoltOverlay) Initialize(context.Context, string, ProgressCallback) error {
	return nil
}

func (o *BoltOverlay) HasPersistedRootDir() (bool, error) {
	var has bool
	err := o.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(rootDirKey)
		has = v != nil
		return nil
	})
	return has, err
}

func numKey(num inodemap.Number) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(num))
	return buf
}

func (o *BoltOverlay) LoadOverlayDir(num inodemap.Number) ([]DirEntry, bool, error) {
	var entries []DirEntry
	var ok bool
	err := o.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dirsBucket).Get(numKey(num))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &entries)
	})
	if err != nil {
		return nil, false, fmt.Errorf("overlaydb: load dir %d: %w", num, err)
	}
	return entries, ok, nil
}

func (o *BoltOverlay) SaveOverlayDir(num inodemap.Number, entries []DirEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("overlaydb: marshal dir %d: %w", num, err)
	}
	return o.db.Update(func(tx *bolt.Tx) error {
		if num == inodemap.RootNumber {
			if err := tx.Bucket(metaBucket).Put(rootDirKey, []byte{1}); err != nil {
				return err
			}
		}
		return tx.Bucket(dirsBucket).Put(numKey(num), data)
	})
}

func (o *BoltOverlay) SaveFileContent(num inodemap.Number, content []byte) error {
	return o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(filesBucket).Put(numKey(num), content)
	})
}

func (o *BoltOverlay) LoadFileContent(num inodemap.Number) ([]byte, bool, error) {
	var content []byte
	var ok bool
	err := o.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(filesBucket).Get(numKey(num))
		if v == nil {
			return nil
		}
		ok = true
		content = append([]byte(nil), v...)
		return nil
	})
	return content, ok, err
}

func (o *BoltOverlay) IsPersistent() bool { return true }

func (o *BoltOverlay) Close() error { return o.db.Close() }
