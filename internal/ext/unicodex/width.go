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

// Package unicodex measures text for display.
package unicodex

import (
	"strings"

	"github.com/rivo/uniseg"
)

// TabstopWidth is the default width of a tabstop.
const TabstopWidth int = 4

// Width is used for calculating the approximate width of a string in terminal
// columns.
type Width struct {
	// The column at which the text is being rendered. This is necessary for
	// tabstop calculations.
	Column int

	// The width of a tabstop in columns. If set to zero, a default value will
	// be selected.
	Tabstop int
}

// WriteString advances w.Column past text.
func (w *Width) WriteString(text string) {
	// We can't just use StringWidth, because that doesn't respect tabstops
	// correctly.
	tabstop := w.Tabstop
	if tabstop <= 0 {
		tabstop = TabstopWidth
	}

	for i, next := range strings.Split(text, "\t") {
		if i > 0 {
			w.Column += tabstop - (w.Column % tabstop)
		}
		w.Column += uniseg.StringWidth(next)
	}
}

// StringWidth returns the width of text when rendered starting at column zero.
func StringWidth(text string) int {
	var w Width
	w.WriteString(text)
	return w.Column
}
