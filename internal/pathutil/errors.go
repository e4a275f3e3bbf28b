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

// Package pathutil holds the two small, self-contained helpers checkout
// and diff lean on: SymlinkResolver and DirectoryEnsurer.
package pathutil

import "errors"

// ErrLoop is returned when a symlink chain exceeds MaxSymlinkDepth.
var ErrLoop = errors.New("pathutil: too many levels of symbolic links")

// ErrNotFound is returned when an inode has no reconstructable path, or a
// path component does not exist.
var ErrNotFound = errors.New("pathutil: no such file or directory")

// ErrNotADirectory is returned when a path component that must be a
// directory turns out not to be one.
var ErrNotADirectory = errors.New("pathutil: not a directory")

// ErrExists is returned by DirectoryEnsurer when a non-directory already
// occupies the name a mkdir needs.
var ErrExists = errors.New("pathutil: file exists")
