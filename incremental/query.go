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
	"fmt"
	"reflect"
)

// Query represents an incremental compilation query.
//
// Types which implement Query can be executed with [Fetch], which
// automatically caches the result of a query and re-executes it only when
// one of its dependencies changes.
type Query[T any] interface {
	// Returns a unique key for this query. The key must be comparable, and
	// is conventionally the query's input, or the query value itself.
	//
	// Keys are only compared against keys of queries of the same type.
	Key() any

	// Executes this query. This function will only be called if the result
	// of this query is not already cached, or if it may be out of date.
	//
	// Execute must be a pure function of the query's key and of the results
	// of the queries it fetches from db. Queries which read state that the
	// Database does not track must implement [Volatile].
	//
	// A non-nil error is propagated to the caller of [Fetch] and is never
	// cached past the current revision.
	Execute(db *Database) (T, error)
}

// Volatile is implemented by queries that read state from outside of the
// [Database], such as the contents of a file.
//
// A volatile query is re-executed the first time it is fetched after each
// call to [Database.Advance]. If its result is unchanged, queries that
// depend on it are not re-executed.
type Volatile interface {
	Volatile() bool
}

// QueryID uniquely identifies one memoized query: its type and its key.
type QueryID struct {
	Type reflect.Type
	Key  any
}

// IDOf returns the [QueryID] for q.
func IDOf[T any](q Query[T]) QueryID {
	return QueryID{Type: reflect.TypeOf(q), Key: q.Key()}
}

// String implements [fmt.Stringer].
func (id QueryID) String() string {
	return fmt.Sprintf("%v(%v)", id.Type, id.Key)
}

// Revision is a point in time for a [Database]. Revisions only increase.
type Revision uint64
