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

// package unsafex contains extensions to Go's package unsafe.
//
// Importing this package should be treated as equivalent to importing unsafe.
package unsafex

import (
	"reflect"
	"sync"
	"unsafe"
)

// Layout is the layout of a type.
//
// This is a more convenient abstraction that manipulating the size and
// alignment separately.
type Layout struct {
	Size, Align int
}

// LayoutOf returns the layout of some type.
func LayoutOf[T any]() Layout {
	var v T
	return Layout{
		Size:  int(unsafe.Sizeof(v)),
		Align: int(unsafe.Alignof(v)),
	}
}

// AlignUp rounds n up to the next multiple of this layout's alignment.
//
// Align must be a power of two, which is true for every layout returned by
// [LayoutOf].
func (l Layout) AlignUp(n int) int {
	mask := l.Align - 1
	return (n + mask) &^ mask
}

// PointerFree returns whether T contains no Go pointers anywhere in its
// representation.
//
// Values of pointer-free types may be stored in memory the garbage collector
// does not scan, such as a []byte or an anonymous mapping. Note that strings,
// slices, maps, channels, functions, and interfaces all contain pointers.
//
// The result is computed once per type and cached.
func PointerFree[T any]() bool {
	ty := reflect.TypeFor[T]()
	if v, ok := pointerFreeCache.Load(ty); ok {
		return v.(bool) //nolint:errcheck // Only bools are stored.
	}
	free := pointerFree(ty)
	pointerFreeCache.Store(ty, free)
	return free
}

var pointerFreeCache sync.Map // [reflect.Type, bool]

func pointerFree(ty reflect.Type) bool {
	switch ty.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return true

	case reflect.Array:
		return ty.Len() == 0 || pointerFree(ty.Elem())

	case reflect.Struct:
		for i := range ty.NumField() {
			if !pointerFree(ty.Field(i).Type) {
				return false
			}
		}
		return true

	default:
		return false
	}
}

// Bytes returns the bytes backing *p.
//
// The returned slice aliases p: writes through it are writes to *p.
//
//go:nosplit
func Bytes[T any](p *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), LayoutOf[T]().Size)
}
