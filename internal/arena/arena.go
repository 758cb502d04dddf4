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

// Package arena defines a Region type: a paged bump allocator addressed with
// compressed pointers.
//
// A Region hands out [Box] and [Slice] handles rather than Go pointers. A
// handle is a small integer that stays valid as the Region grows, and it can
// be stored inside other Region-allocated values, which makes it suitable for
// building immutable, tree-shaped compiler IRs.
//
// Only pointer-free types may be stored in a Region: its pages are not
// scanned by the garbage collector, and no destructors are ever run.
// Violating this, or any other precondition of this package, panics.
package arena

import (
	"fmt"
	"math"
	"math/bits"
	"unsafe"

	"github.com/hydent-lang/hydent/internal/ext/unsafex"
)

const (
	// DefaultBlockSize is the default size of each page in a Region.
	DefaultBlockSize = 64 << 10
	// DefaultAlignment is the default alignment of each page in a Region,
	// which is also the largest alignment a stored type may have.
	DefaultAlignment = 64
)

// zeroSized is the address handed out for every zero-sized value.
const zeroSized Addr = math.MaxUint32

// Addr is an untyped compressed pointer into a [Region].
//
// An Addr encodes a page index and a byte offset within that page as
// page<<log2(BlockSize) | offset, plus one, so that the zero Addr is nil.
type Addr uint32

// Nil returns whether this is the nil address.
func (a Addr) Nil() bool {
	return a == 0
}

// Box is a typed compressed pointer to a single T in a [Region].
//
// The zero Box is nil.
type Box[T any] Addr

// Nil returns whether this is a nil box.
func (b Box[T]) Nil() bool {
	return Addr(b).Nil()
}

// In resolves this box against the Region that allocated it.
//
// The pointer is valid until r is released. With [Heap] pages, which are the
// default, the pointer also keeps its page alive if r itself becomes
// unreachable. Resolving a box against a Region other than the one that
// produced it is undefined behavior.
func (b Box[T]) In(r *Region) *T {
	if Addr(b) == zeroSized {
		return new(T) // Zero-sized: does not allocate.
	}
	return (*T)(r.at(Addr(b)))
}

// Region is a paged bump allocator.
//
// A Region is not safe for concurrent use. The zero Region is not ready for
// use; construct one with [New].
type Region struct {
	blockShift uint
	align      int
	alloc      PageAllocator

	// Invariants:
	// 1. pages never shrinks and its pages never move.
	// 2. page == len(pages)-1: allocation only happens in the last page.
	// 3. 0 <= offset <= 1<<blockShift.
	// 4. pages is nil only after Release.
	pages  [][]byte
	page   int
	offset int

	// Sequence building state; see [Start].
	scratch []byte
	frames  []frame

	stats Stats
}

// Stats is a snapshot of a [Region]'s memory usage.
type Stats struct {
	Pages  int // Pages currently held.
	Allocs int // Values and non-empty sequences allocated.
	Bytes  int // Payload bytes written to pages.
	Waste  int // Bytes skipped for alignment or at the end of a page.
}

// Option is a configuration option for [New].
type Option func(*Region)

// WithBlockSize sets the size of each page. Must be a power of two.
func WithBlockSize(n int) Option {
	return func(r *Region) {
		if n <= 0 || bits.OnesCount(uint(n)) != 1 {
			panic(fmt.Sprintf("arena: block size must be a power of two, got %d", n))
		}
		r.blockShift = uint(bits.TrailingZeros(uint(n)))
	}
}

// WithAlignment sets the alignment of each page, which bounds the alignment
// of every type stored in the Region. Must be a power of two.
func WithAlignment(n int) Option {
	return func(r *Region) {
		if n <= 0 || bits.OnesCount(uint(n)) != 1 {
			panic(fmt.Sprintf("arena: alignment must be a power of two, got %d", n))
		}
		r.align = n
	}
}

// WithPageAllocator sets the allocator pages are obtained from. The default
// is [Heap].
func WithPageAllocator(a PageAllocator) Option {
	return func(r *Region) {
		r.alloc = a
	}
}

// New constructs a new Region with one page already allocated.
func New(opts ...Option) *Region {
	r := &Region{
		blockShift: uint(bits.TrailingZeros(DefaultBlockSize)),
		align:      DefaultAlignment,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.align > r.blockSize() {
		panic(fmt.Sprintf("arena: alignment %d exceeds block size %d", r.align, r.blockSize()))
	}
	if r.alloc == nil {
		r.alloc = Heap()
	}

	r.page = -1
	r.grow()
	return r
}

// BlockSize returns the size of each of this Region's pages.
func (r *Region) BlockSize() int {
	return r.blockSize()
}

// Stats returns a snapshot of this Region's memory usage.
func (r *Region) Stats() Stats {
	s := r.stats
	s.Pages = len(r.pages)
	return s
}

// Release frees every page held by this Region.
//
// All handles and pointers obtained from r become dangling; using r after
// calling Release panics. A Region whose page allocator holds memory outside
// of the Go heap, such as [Mmap], must be released; otherwise its pages are
// leaked.
func (r *Region) Release() {
	if r.pages == nil {
		return
	}
	for i, page := range r.pages {
		r.alloc.FreePage(page)
		r.pages[i] = nil
	}
	r.pages = nil
	r.scratch = nil
	r.frames = nil
}

// Alloc allocates a copy of v in r.
//
// Panics if T is too large or too aligned for r's pages, or contains
// pointers.
func Alloc[T any](r *Region, v T) Box[T] {
	layout := r.check(unsafex.LayoutOf[T](), unsafex.PointerFree[T])
	if layout.Size == 0 {
		return Box[T](zeroSized)
	}

	addr, buf := r.reserve(layout)
	copy(buf, unsafex.Bytes(&v))
	r.stats.Allocs++
	return Box[T](addr)
}

func (r *Region) blockSize() int {
	return 1 << r.blockShift
}

// check validates that values with the given layout may be stored in r.
func (r *Region) check(layout unsafex.Layout, pointerFree func() bool) unsafex.Layout {
	if r.pages == nil {
		panic("arena: use of released region")
	}
	if layout.Size > r.blockSize() {
		panic(fmt.Sprintf("arena: %d-byte value does not fit in a %d-byte block", layout.Size, r.blockSize()))
	}
	if layout.Align > r.align {
		panic(fmt.Sprintf("arena: %d-byte alignment exceeds region alignment %d", layout.Align, r.align))
	}
	if !pointerFree() {
		panic("arena: cannot store a type that contains pointers")
	}
	return layout
}

// reserve bumps the allocation cursor for one value with the given layout,
// growing if it does not fit in the current page.
func (r *Region) reserve(layout unsafex.Layout) (Addr, []byte) {
	start := layout.AlignUp(r.offset)
	if start+layout.Size > r.blockSize() {
		r.stats.Waste += r.blockSize() - r.offset
		r.grow()
		start = 0
	}
	r.stats.Waste += start - r.offset
	r.stats.Bytes += layout.Size

	addr := r.addr(r.page, start)
	r.offset = start + layout.Size
	return addr, r.pages[r.page][start:r.offset:r.offset]
}

// grow appends a fresh page and moves the cursor to its start.
func (r *Region) grow() {
	// The largest address must stay below the zero-sized sentinel.
	maxPages := int(uint64(zeroSized-1) >> r.blockShift)
	if len(r.pages) >= maxPages {
		panic(fmt.Sprintf("arena: region exhausted its %d addressable pages", maxPages))
	}

	page := r.alloc.AllocPage(r.blockSize(), r.align)
	if len(page) < r.blockSize() {
		panic(fmt.Sprintf("arena: page allocator returned %d bytes, want %d", len(page), r.blockSize()))
	}
	if uintptr(unsafe.Pointer(unsafe.SliceData(page)))&uintptr(r.align-1) != 0 {
		panic(fmt.Sprintf("arena: page allocator returned a page not aligned to %d", r.align))
	}

	r.pages = append(r.pages, page[:r.blockSize():r.blockSize()])
	r.page++
	r.offset = 0
}

func (r *Region) addr(page, offset int) Addr {
	return Addr(page<<r.blockShift|offset) + 1
}

// at resolves a non-nil address into a pointer.
func (r *Region) at(a Addr) unsafe.Pointer {
	if a.Nil() {
		panic("arena: nil pointer dereference")
	}
	if r.pages == nil {
		panic("arena: use of released region")
	}

	raw := int(a - 1)
	page, offset := raw>>r.blockShift, raw&(r.blockSize()-1)
	if page >= len(r.pages) {
		panic(fmt.Sprintf("arena: pointer out of range: %#x", uint32(a)))
	}
	return unsafe.Pointer(&r.pages[page][offset])
}
