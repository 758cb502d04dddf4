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

// Package cycle contains the error reported for dependency cycles.
package cycle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDetected is matched by every [*Error] via [errors.Is].
var ErrDetected = errors.New("cycle detected")

// Error is returned when a dependency cycle is detected.
type Error[T any] struct {
	// The path of the cycle. The first and last elements are the same.
	Cycle []T
}

// Error implements [error].
func (e *Error[T]) Error() string {
	var buf strings.Builder
	buf.WriteString("cycle detected: ")
	for i, v := range e.Cycle {
		if i != 0 {
			buf.WriteString(" -> ")
		}
		fmt.Fprint(&buf, v)
	}
	return buf.String()
}

// Is implements the interface used by [errors.Is].
func (e *Error[T]) Is(target error) bool {
	return target == ErrDetected
}
