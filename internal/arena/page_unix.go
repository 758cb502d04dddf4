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

//go:build unix

package arena

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mmap returns a [PageAllocator] that maps each page as anonymous memory
// outside of the Go heap, and unmaps it when the Region is released.
//
// Unlike [Heap] pages, mapped pages are not kept alive by pointers into them:
// a Region using Mmap must be released explicitly, and pointers obtained from
// it must not be used afterwards.
//
// Mapped pages are aligned to the operating system's page size; requesting a
// larger alignment panics.
func Mmap() PageAllocator {
	return mmap{}
}

type mmap struct{}

func (mmap) AllocPage(size, align int) []byte {
	if align > unix.Getpagesize() {
		panic(fmt.Sprintf("arena: cannot map pages aligned to %d", align))
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		panic(fmt.Sprintf("arena: failed to map %d-byte page: %v", size, err))
	}
	return data
}

func (mmap) FreePage(page []byte) {
	if err := unix.Munmap(page); err != nil {
		panic(fmt.Sprintf("arena: failed to unmap page: %v", err))
	}
}
