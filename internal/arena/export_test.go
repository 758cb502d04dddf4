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

// Exported symbols for test use only.

// ScratchLen returns the number of bytes buffered for unfinished sequences.
func (r *Region) ScratchLen() int { return len(r.scratch) }

// Depth returns the number of unfinished sequences.
func (r *Region) Depth() int { return len(r.frames) }
