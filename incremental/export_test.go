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

package incremental

// Exported symbols for test use only.

// SlotState returns the revisions recorded for q, if it has a result.
func SlotState[T any](db *Database, q Query[T]) (verifiedAt, changedAt Revision, ok bool) {
	t := db.tables[IDOf(q).Type]
	if t == nil {
		return 0, 0, false
	}
	s := t.slots[q.Key()]
	if s == nil || !s.done {
		return 0, 0, false
	}
	return s.verifiedAt, s.changedAt, true
}

// Deps returns the number of distinct dependencies recorded for q.
func Deps[T any](db *Database, q Query[T]) int {
	t := db.tables[IDOf(q).Type]
	if t == nil || t.slots[q.Key()] == nil {
		return 0
	}
	return len(t.slots[q.Key()].deps)
}

// Depth returns the number of queries on db's stack.
func (db *Database) Depth() int { return len(db.stack) }
