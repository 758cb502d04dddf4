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
	"unsafe"
)

// PageAllocator provides the fixed-size pages a [Region] is carved out of.
//
// Implementations must fail fast: out-of-memory is not a recoverable
// condition for a Region, so AllocPage panics rather than returning an error.
type PageAllocator interface {
	// AllocPage returns a zeroed page of exactly size bytes whose first byte
	// is aligned to align.
	AllocPage(size, align int) []byte

	// FreePage releases a page previously returned by AllocPage. It is called
	// exactly once per page, when the Region is released.
	FreePage(page []byte)
}

// Heap returns a [PageAllocator] that allocates pages on the Go heap.
//
// Freeing a heap page only drops the Region's reference to it; the memory is
// reclaimed by the garbage collector.
func Heap() PageAllocator {
	return heap{}
}

type heap struct{}

func (heap) AllocPage(size, align int) []byte {
	// Over-allocate so that we can slide the start up to the next aligned
	// address. []byte is never scanned by the GC, which is fine because a
	// Region only stores pointer-free values.
	buf := make([]byte, size+align-1)
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	skip := int(-addr & uintptr(align-1))
	return buf[skip : skip+size : skip+size]
}

func (heap) FreePage([]byte) {}
