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

package arena

import (
	"fmt"
	"iter"
	"reflect"
	"unsafe"

	"github.com/hydent-lang/hydent/internal/ext/unsafex"
)

// Slice is a typed compressed pointer to a sequence of T in a [Region].
//
// A sequence that fits in one page is always contiguous, and may be viewed as
// a Go slice with [Slice.In]. A sequence longer than a page fills the
// remainder of the page it starts in and continues at the start of the
// following pages; its elements are accessed through [Slice.At] or iterated.
//
// The zero Slice is empty.
type Slice[T any] struct {
	start Addr
	len   uint32
}

// Len returns the number of elements in this slice.
func (s Slice[T]) Len() int {
	return int(s.len)
}

// In returns the elements of this slice as a Go slice aliasing r's pages.
//
// The result is valid as long as pointers returned by [Box.In] are. Panics if
// the slice does not fit in one page; see [Slice.Contiguous].
func (s Slice[T]) In(r *Region) []T {
	switch {
	case s.len == 0:
		return nil
	case s.start == zeroSized:
		return unsafe.Slice(new(T), s.len)
	case !s.Contiguous(r):
		panic(fmt.Sprintf("arena: %d-element slice spans more than one page", s.len))
	}
	return unsafe.Slice((*T)(r.at(s.start)), s.len)
}

// Contiguous returns whether every element of this slice is in the same page.
func (s Slice[T]) Contiguous(r *Region) bool {
	if s.len == 0 || s.start == zeroSized {
		return true
	}
	raw := int(s.start - 1)
	offset := raw & (r.blockSize() - 1)
	return offset+s.Len()*unsafex.LayoutOf[T]().Size <= r.blockSize()
}

// At returns a pointer to the idx-th element of this slice.
//
// Panics if idx is out of bounds.
func (s Slice[T]) At(r *Region, idx int) *T {
	if idx < 0 || idx >= s.Len() {
		panic(fmt.Sprintf("arena: index out of range [%d] with length %d", idx, s.Len()))
	}
	if s.start == zeroSized {
		return new(T)
	}

	// Every page after the first one holds perPage elements starting at
	// offset zero; the first holds as many as fit after the start offset.
	size := unsafex.LayoutOf[T]().Size
	raw := int(s.start - 1)
	page, offset := raw>>r.blockShift, raw&(r.blockSize()-1)
	if first := (r.blockSize() - offset) / size; idx >= first {
		idx -= first
		perPage := r.blockSize() / size
		page += 1 + idx/perPage
		offset, idx = 0, idx%perPage
	}
	return (*T)(r.at(r.addr(page, offset+idx*size)))
}

// All returns an iterator over the indices and values in this slice.
func (s Slice[T]) All(r *Region) iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := range s.Len() {
			if !yield(i, *s.At(r, i)) {
				return
			}
		}
	}
}

// Values returns an iterator over the values in this slice.
func (s Slice[T]) Values(r *Region) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range s.All(r) {
			if !yield(v) {
				return
			}
		}
	}
}

// Copy copies the values in this slice into a new Go slice.
func (s Slice[T]) Copy(r *Region) []T {
	out := make([]T, 0, s.Len())
	for v := range s.Values(r) {
		out = append(out, v)
	}
	return out
}

// frame is book-keeping for a sequence that is being built.
type frame struct {
	ty     reflect.Type
	layout unsafex.Layout
	count  int // Only used for zero-sized elements.
	start  int // Offset of this frame's first byte in Region.scratch.
}

// Start begins building a sequence of T whose length is not known yet.
//
// Values are added with [Push] and the sequence is completed with [Finish].
// Sequences may be nested: a Start/Finish pair may occur between a Start and
// its matching Finish, in which case the inner sequence is completed first
// and pushes then resume on the outer sequence. Only the innermost sequence
// may be pushed to or finished.
//
// Panics if T cannot be stored in r; see [Alloc].
func Start[T any](r *Region) {
	layout := r.check(unsafex.LayoutOf[T](), unsafex.PointerFree[T])
	r.frames = append(r.frames, frame{
		ty:     reflect.TypeFor[T](),
		layout: layout,
		start:  len(r.scratch),
	})
}

// Push appends v to the innermost sequence started with [Start].
//
// Panics if there is no such sequence, or if it is not a sequence of T.
func Push[T any](r *Region, v T) {
	f := top[T](r)
	if f.layout.Size == 0 {
		f.count++
		return
	}
	r.scratch = append(r.scratch, unsafex.Bytes(&v)...)
}

// Finish completes the innermost sequence started with [Start], copying it
// into r's pages.
//
// Panics if there is no such sequence, or if it is not a sequence of T.
func Finish[T any](r *Region) Slice[T] {
	f := *top[T](r)
	r.frames = r.frames[:len(r.frames)-1]

	if f.layout.Size == 0 {
		return Slice[T]{start: zeroSized, len: uint32(f.count)}
	}

	data := r.scratch[f.start:]
	count := len(data) / f.layout.Size
	if count == 0 {
		return Slice[T]{}
	}

	// A sequence that fits in a page is reserved as a single block, starting
	// a fresh page if it does not fit in the current one.
	if len(data) <= r.blockSize() {
		start, buf := r.reserve(unsafex.Layout{Size: len(data), Align: f.layout.Align})
		copy(buf, data)
		r.scratch = r.scratch[:f.start]
		r.stats.Allocs++
		return Slice[T]{start: start, len: uint32(count)}
	}

	// Otherwise, the first element determines the start address; it goes
	// through the same path as an ordinary allocation so that it is aligned.
	start, buf := r.reserve(f.layout)
	n := copy(buf, data)
	data = data[n:]

	// Copy the rest in runs, filling each page and then moving to the next
	// one. Because the element size is a multiple of its alignment, every
	// element after the first is aligned too.
	for len(data) > 0 {
		fit := (r.blockSize() - r.offset) / f.layout.Size * f.layout.Size
		if fit == 0 {
			r.stats.Waste += r.blockSize() - r.offset
			r.grow()
			continue
		}
		n := copy(r.pages[r.page][r.offset:r.offset+fit], data)
		r.offset += n
		r.stats.Bytes += n
		data = data[n:]
	}

	r.scratch = r.scratch[:f.start]
	r.stats.Allocs++
	return Slice[T]{start: start, len: uint32(count)}
}

// Discard abandons the innermost sequence started with [Start] without
// allocating anything, and returns how many values had been pushed to it.
//
// This is useful for bailing out of a sequence partway through, such as when
// a parser encounters a syntax error in the middle of a list.
//
// Panics if there is no such sequence, or if it is not a sequence of T.
func Discard[T any](r *Region) int {
	f := *top[T](r)
	r.frames = r.frames[:len(r.frames)-1]

	if f.layout.Size == 0 {
		return f.count
	}
	n := (len(r.scratch) - f.start) / f.layout.Size
	r.scratch = r.scratch[:f.start]
	return n
}

// Collect builds a sequence out of the values yielded by seq.
//
// seq may itself build sequences in r, but it must finish them before
// yielding.
func Collect[T any](r *Region, seq iter.Seq[T]) Slice[T] {
	Start[T](r)
	for v := range seq {
		Push(r, v)
	}
	return Finish[T](r)
}

// AllocSlice copies the values in s into r.
func AllocSlice[T any](r *Region, s []T) Slice[T] {
	Start[T](r)
	if len(s) > 0 && unsafex.LayoutOf[T]().Size > 0 {
		// Append the whole backing array in one go instead of value by value.
		r.scratch = append(r.scratch, unsafe.Slice(
			(*byte)(unsafe.Pointer(unsafe.SliceData(s))),
			len(s)*unsafex.LayoutOf[T]().Size,
		)...)
	} else {
		top[T](r).count += len(s)
	}
	return Finish[T](r)
}

// top returns the innermost frame, after checking that it is a sequence of T.
func top[T any](r *Region) *frame {
	if r.pages == nil {
		panic("arena: use of released region")
	}
	if len(r.frames) == 0 {
		panic("arena: no sequence in progress")
	}
	f := &r.frames[len(r.frames)-1]
	if ty := reflect.TypeFor[T](); f.ty != ty {
		panic(fmt.Sprintf("arena: innermost sequence is of %v, got %v", f.ty, ty))
	}
	return f
}
