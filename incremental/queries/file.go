// Copyright 2020-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queries contains the input queries every compiler pass builds on:
// reading source files and mapping byte offsets to line and column.
package queries

import (
	"io/fs"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// File is the contents of a source file, as read at some revision.
type File struct {
	Path string
	Text string
	// The xxhash64 of Text.
	Hash uint64
}

// NewFile returns a new File with the given contents.
func NewFile(path, text string) *File {
	return &File{Path: path, Text: text, Hash: xxhash.Sum64String(text)}
}

// Equal reports whether f and g have the same path and contents.
//
// Contents are compared by hash.
func (f *File) Equal(g *File) bool {
	if f == nil || g == nil {
		return f == g
	}
	return f.Path == g.Path && f.Hash == g.Hash
}

// Opener reads the text of a file.
type Opener interface {
	// Open returns the contents of the file at path. Files that do not exist
	// should produce an error wrapping [fs.ErrNotExist].
	Open(path string) (string, error)
}

// OS is an [Opener] that reads from the local file system.
type OS struct{}

// Open implements [Opener].
func (OS) Open(path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}

// Overlay is an [Opener] serving in-memory files, such as unsaved editor
// buffers, on top of an optional base Opener.
//
// An Overlay may be edited concurrently with a running fetch, but edits only
// become visible to a Database after it is advanced.
type Overlay struct {
	// Files not in the overlay are opened with Base, if set.
	Base Opener

	mu    sync.RWMutex
	files map[string]string
}

// Set sets the contents of the file at path.
func (o *Overlay) Set(path, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.files == nil {
		o.files = make(map[string]string)
	}
	o.files[path] = text
}

// Delete removes the file at path from the overlay.
func (o *Overlay) Delete(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.files, path)
}

// Open implements [Opener].
func (o *Overlay) Open(path string) (string, error) {
	o.mu.RLock()
	text, ok := o.files[path]
	o.mu.RUnlock()

	switch {
	case ok:
		return text, nil
	case o.Base != nil:
		return o.Base.Open(path)
	default:
		return "", &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
}
