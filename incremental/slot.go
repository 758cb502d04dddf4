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

import (
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
)

// table is the storage for every query of one type.
type table struct {
	slots map[any]*slot

	executions, verifications, hits prometheus.Counter
}

// slot is the cache entry for a single query.
type slot struct {
	id    QueryID
	table *table

	// The most recently fetched query with this ID, and a function that
	// executes it. Stored so that the query can be re-executed while
	// verifying one of its dependents.
	query    any
	run      func(*Database, any) (any, error)
	volatile bool

	// Invariant: changedAt <= verifiedAt <= Database.revision.
	done       bool // Whether value or err holds a result.
	value      any
	err        error
	verifiedAt Revision
	changedAt  Revision
	deps       []*slot

	active bool // Whether this slot is on the stack.
}

// slot returns the slot for id, creating it if necessary.
func (db *Database) slot(id QueryID) *slot {
	t := db.tables[id.Type]
	if t == nil {
		t = db.newTable(id.Type)
		db.tables[id.Type] = t
	}

	s := t.slots[id.Key]
	if s == nil {
		s = &slot{id: id, table: t}
		t.slots[id.Key] = s
	}
	return s
}

func (db *Database) newTable(ty reflect.Type) *table {
	name := ty.String()
	return &table{
		slots:         make(map[any]*slot),
		executions:    db.metrics.executions.WithLabelValues(name),
		verifications: db.metrics.verifications.WithLabelValues(name),
		hits:          db.metrics.hits.WithLabelValues(name),
	}
}
