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

// Package doteden creates and repairs the ".eden" control directory at
// mount root.
package doteden

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/googlecloudplatform/scmfuse/internal/inodemap"
	"github.com/googlecloudplatform/scmfuse/internal/logger"
	"github.com/googlecloudplatform/scmfuse/internal/pathutil"
)

const dirName = ".eden"

// link is one of the four symlinks Setup maintains inside .eden.
type link struct {
	name   string
	target func(mountPath, socketPath, clientDir string) string
}

var links = []link{
	{"this-dir", func(mp, _, _ string) string { return mp + "/" + dirName }},
	{"root", func(mp, _, _ string) string { return mp }},
	{"socket", func(_, sock, _ string) string { return sock }},
	{"client", func(_, _, client string) string { return client }},
}

// Setup owns the one-time creation and per-mount repair of .eden.
// Once Run completes, edenNum is fixed and further modification through
// the inode map is refused.
type Setup struct {
	inodes  *inodemap.Map
	ensurer *pathutil.DirectoryEnsurer

	edenNum atomic.Uint64 // 0 until Run succeeds
}

func New(inodes *inodemap.Map) *Setup {
	return &Setup{inodes: inodes, ensurer: pathutil.NewDirectoryEnsurer(inodes)}
}

// Run creates .eden if absent and repairs its four symlinks, following a
// per-symlink recovery policy. Individual symlink errors are logged and
// swallowed; only a failure to create the .eden directory itself is
// returned, since nothing else can proceed without it.
func (s *Setup) Run(mountPath, socketPath, clientDir string) error {
	edenDir, err := s.ensurer.Ensure(dirName)
	if err != nil {
		return fmt.Errorf("doteden: ensure %s: %w", dirName, err)
	}

	if runtime.GOOS == "windows" {
		s.edenNum.Store(uint64(edenDir.Number()))
		return nil
	}

	for _, l := range links {
		s.repairOne(edenDir, l, mountPath, socketPath, clientDir)
	}

	s.edenNum.Store(uint64(edenDir.Number()))
	return nil
}

func (s *Setup) repairOne(edenDir *inodemap.Inode, l link, mountPath, socketPath, clientDir string) {
	target := l.target(mountPath, socketPath, clientDir)

	num, ok := edenDir.Lookup(l.name)
	if !ok {
		s.inodes.CreateSymlink(edenDir, l.name, target)
		return
	}

	child, ok := s.inodes.Get(num)
	if !ok {
		s.inodes.CreateSymlink(edenDir, l.name, target)
		return
	}

	switch child.Kind() {
	case inodemap.KindDir:
		logger.Warnf("doteden: %s is a directory, leaving it alone", l.name)
	case inodemap.KindSymlink:
		existing, err := child.SymlinkTarget()
		if err != nil {
			logger.Errorf("doteden: reading %s target: %v", l.name, err)
			return
		}
		if existing != target {
			s.inodes.Remove(edenDir, l.name)
			s.inodes.CreateSymlink(edenDir, l.name, target)
		}
	default:
		s.inodes.Remove(edenDir, l.name)
		s.inodes.CreateSymlink(edenDir, l.name, target)
	}
}

// EdenInodeNumber returns the recorded .eden inode number and whether Run
// has completed. Once set it never changes; callers use this as the
// "directory locked against further modification" marker.
func (s *Setup) EdenInodeNumber() (inodemap.Number, bool) {
	n := s.edenNum.Load()
	return inodemap.Number(n), n != 0
}
