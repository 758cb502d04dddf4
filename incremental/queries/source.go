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

package queries

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hydent-lang/hydent/incremental"
	"github.com/hydent-lang/hydent/internal/ext/unicodex"
)

// Source is an [incremental.Query] that reads a file.
//
// Queries are keyed by path alone, so every query in a Database must use the
// same Opener.
type Source struct {
	Opener Opener
	Path   string
}

var _ incremental.Volatile = Source{}

// Key implements [incremental.Query].
func (s Source) Key() any { return s.Path }

// Volatile implements [incremental.Volatile]. The file is re-read on every
// revision; dependents are only invalidated if its contents changed.
func (Source) Volatile() bool { return true }

// Execute implements [incremental.Query].
func (s Source) Execute(*incremental.Database) (*File, error) {
	text, err := s.Opener.Open(s.Path)
	if err != nil {
		return nil, err
	}
	return NewFile(s.Path, text), nil
}

// Lines is an [incremental.Query] that computes the byte offset at which
// each line of a file starts. The first element is always zero.
type Lines struct {
	Opener Opener
	Path   string
}

// Key implements [incremental.Query].
func (l Lines) Key() any { return l.Path }

// Execute implements [incremental.Query].
func (l Lines) Execute(db *incremental.Database) ([]int, error) {
	file, err := incremental.Fetch(db, Source(l))
	if err != nil {
		return nil, err
	}

	starts := make([]int, 1, strings.Count(file.Text, "\n")+1)
	for i := range len(file.Text) {
		if file.Text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts, nil
}

// Location is a position within a file.
type Location struct {
	// One-based line number.
	Line int
	// One-based column, measured in terminal columns; see
	// [unicodex.Width].
	Column int
}

// String implements [fmt.Stringer].
func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// Position is an [incremental.Query] that converts a byte offset within a
// file into a [Location].
type Position struct {
	Opener Opener
	Path   string
	Offset int
}

type positionKey struct {
	path   string
	offset int
}

// Key implements [incremental.Query].
func (p Position) Key() any { return positionKey{p.Path, p.Offset} }

// Execute implements [incremental.Query].
func (p Position) Execute(db *incremental.Database) (Location, error) {
	lines, err := incremental.Fetch(db, Lines{Opener: p.Opener, Path: p.Path})
	if err != nil {
		return Location{}, err
	}
	file, err := incremental.Fetch(db, Source{Opener: p.Opener, Path: p.Path})
	if err != nil {
		return Location{}, err
	}
	if p.Offset < 0 || p.Offset > len(file.Text) {
		return Location{}, fmt.Errorf("queries: offset %d out of range for %q (length %d)",
			p.Offset, p.Path, len(file.Text))
	}

	line, ok := slices.BinarySearch(lines, p.Offset)
	if !ok {
		line--
	}
	return Location{
		Line:   line + 1,
		Column: unicodex.StringWidth(file.Text[lines[line]:p.Offset]) + 1,
	}, nil
}
