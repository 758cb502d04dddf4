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

package arena_test

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydent-lang/hydent/internal/arena"
)

// pages is a PageAllocator that counts calls.
type pages struct {
	allocs, frees int
}

func (p *pages) AllocPage(size, align int) []byte {
	p.allocs++
	return arena.Heap().AllocPage(size, align)
}

func (p *pages) FreePage(page []byte) {
	p.frees++
	arena.Heap().FreePage(page)
}

func small(p *pages) *arena.Region {
	return arena.New(
		arena.WithBlockSize(64),
		arena.WithAlignment(8),
		arena.WithPageAllocator(p),
	)
}

func TestAllocGrow(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	p := new(pages)
	r := small(p)
	assert.Equal(1, p.allocs)

	var boxes []arena.Box[uint64]
	for i := range 8 {
		boxes = append(boxes, arena.Alloc(r, uint64(i+1)))
	}
	assert.Equal(1, p.allocs)

	boxes = append(boxes, arena.Alloc(r, uint64(9)))
	assert.Equal(2, p.allocs)

	for i, b := range boxes {
		assert.False(b.Nil())
		assert.Equal(uint64(i+1), *b.In(r))
	}
	assert.Equal(arena.Stats{Pages: 2, Allocs: 9, Bytes: 72}, r.Stats())
}

func TestAllocMixed(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	type span struct {
		Start, End uint32
	}
	type ident struct {
		Symbol uint32
		Span   span
	}

	r := arena.New()
	defer r.Release()

	a := arena.Alloc(r, uint8(1))
	b := arena.Alloc(r, uint64(100))
	c := arena.Alloc(r, uint32(200))
	d := arena.Alloc(r, true)
	e := arena.Alloc(r, [14]uint64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	f := arena.Alloc(r, ident{Symbol: 7, Span: span{3, 9}})
	g := arena.Alloc(r, f) // A box of a box.

	assert.Equal(uint8(1), *a.In(r))
	assert.Equal(uint64(100), *b.In(r))
	assert.Equal(uint32(200), *c.In(r))
	assert.True(*d.In(r))
	assert.Equal([14]uint64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, *e.In(r))
	assert.Equal(ident{Symbol: 7, Span: span{3, 9}}, *g.In(r).In(r))

	assert.Zero(uintptr(unsafe.Pointer(b.In(r))) % unsafe.Alignof(uint64(0)))
}

func TestStable(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	r := small(new(pages))
	first := arena.Alloc(r, uint32(42))
	ptr := first.In(r)

	for i := range 100 {
		arena.Alloc(r, uint64(i))
	}
	assert.Same(ptr, first.In(r))
	assert.Equal(uint32(42), *first.In(r))
}

func TestZeroSized(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	p := new(pages)
	r := small(p)

	x := arena.Alloc(r, struct{}{})
	for range 1000 {
		assert.Equal(x, arena.Alloc(r, struct{}{}))
	}
	assert.Equal(x, arena.Box[struct{}](arena.Alloc(r, [0]uint64{})))
	assert.False(x.Nil())
	assert.NotNil(x.In(r))

	assert.Equal(1, p.allocs)
	assert.Zero(r.Stats().Bytes)
	assert.Zero(r.Stats().Waste)

	// Ordinary allocations still start at the beginning of the page.
	y := arena.Alloc(r, uint64(5))
	assert.Equal(arena.Box[uint64](1), y)
}

func TestRelease(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	p := new(pages)
	r := small(p)
	for i := range 50 {
		arena.Alloc(r, uint64(i))
	}
	assert.Equal(7, p.allocs)
	assert.Equal(7, r.Stats().Pages)
	assert.Zero(p.frees)

	r.Release()
	assert.Equal(7, p.frees)
	assert.Zero(r.Stats().Pages)

	r.Release()
	assert.Equal(7, p.frees)

	assert.Panics(func() { arena.Alloc(r, 1) })
	assert.Panics(func() { arena.Start[int](r) })
}

func TestPreconditions(t *testing.T) {
	t.Parallel()

	r := small(new(pages))

	tests := []struct {
		name string
		f    func()
	}{
		{"too-large", func() { arena.Alloc(r, [65]byte{}) }},
		{"over-aligned", func() {
			arena.Alloc(arena.New(arena.WithAlignment(4), arena.WithPageAllocator(arena.Heap())), uint64(0))
		}},
		{"pointer", func() { arena.Alloc(r, new(int)) }},
		{"string", func() { arena.Alloc(r, "hello") }},
		{"slice", func() { arena.Start[[]int](r) }},
		{"nil-box", func() { arena.Box[int](0).In(r) }},
		{"block-size", func() { arena.New(arena.WithBlockSize(100)) }},
		{"alignment", func() { arena.New(arena.WithAlignment(3)) }},
		{"alignment-exceeds-block", func() {
			arena.New(arena.WithBlockSize(64), arena.WithAlignment(128))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, tt.f)
		})
	}
}

func TestHeap(t *testing.T) {
	t.Parallel()

	for _, align := range []int{1, 8, 64, 4096} {
		page := arena.Heap().AllocPage(256, align)
		require.Len(t, page, 256)
		assert.Zero(t, uintptr(unsafe.Pointer(&page[0]))%uintptr(align))
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	r := arena.New()
	assert.Equal(arena.DefaultBlockSize, r.BlockSize())

	big := arena.Alloc(r, [arena.DefaultBlockSize]byte{0: 1, arena.DefaultBlockSize - 1: 2})
	assert.Equal(byte(1), big.In(r)[0])
	assert.Equal(byte(2), big.In(r)[arena.DefaultBlockSize-1])
	assert.Equal(1, r.Stats().Pages)

	arena.Alloc(r, byte(3))
	assert.Equal(2, r.Stats().Pages)
	r.Release()
}

func TestOutlivesRegion(t *testing.T) {
	// Not parallel: this test forces garbage collections.
	assert := assert.New(t)

	var slice arena.Slice[uint32]
	var view []uint32
	ptr := func() *uint64 {
		r := arena.New()
		slice = arena.AllocSlice(r, []uint32{1, 2, 3})
		view = slice.In(r)
		return arena.Alloc(r, uint64(42)).In(r)
	}()

	for range 5 {
		runtime.GC()
	}
	assert.Equal(uint64(42), *ptr)
	assert.Equal([]uint32{1, 2, 3}, view)
}
