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

// Package incremental implements a memoizing, dependency-tracking query
// engine.
//
// Compiler passes are written as [Query] implementations, which are pure
// functions of their key and of the results of other queries. [Fetch] caches
// each query's result in a [Database], recording which queries it fetched.
// After the Database is advanced to a new [Revision], a cached result is
// reused if none of its dependencies changed; otherwise it is recomputed, and
// if the recomputed result is equal to the old one, queries that depend on
// it are not recomputed in turn ("early cutoff").
//
// A Database is not safe for concurrent use.
package incremental

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/petermattis/goid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hydent-lang/hydent/internal/cycle"
)

// ErrCycle is matched via [errors.Is] by the error [Fetch] returns when a
// query depends on itself, directly or transitively.
var ErrCycle = cycle.ErrDetected

// CycleError is the error [Fetch] returns when a query depends on itself. Its
// Cycle field lists the queries that make up the cycle, starting and ending
// with the same query.
type CycleError = cycle.Error[QueryID]

// Database is a cache of query results.
//
// See [New], [Fetch], and [Database.Advance].
type Database struct {
	revision Revision
	tables   map[reflect.Type]*table

	// Queries currently being executed or verified, innermost last.
	stack []frame
	// The goroutine running the outermost Fetch; only meaningful while stack
	// is non-empty.
	owner int64

	logger  *slog.Logger
	metrics *metrics
	stats   Stats
}

// Stats counts what a [Database] has done since it was constructed.
type Stats struct {
	Executions    int // Calls to Query.Execute.
	Verifications int // Stale results reused because no dependency changed.
	Hits          int // Results reused because they were already up to date.
	Cycles        int // Cycles detected.
}

// Option is a configuration option for [New].
type Option func(*Database)

// WithLogger sets the logger that query execution events are logged to at
// debug level. By default, nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(db *Database) {
		db.logger = logger
	}
}

// WithRegisterer registers the Database's metrics with reg. By default,
// metrics are not registered anywhere.
//
// Any number of Databases may use the same reg; their metrics are added
// together.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(db *Database) {
		db.metrics = newMetrics(reg)
	}
}

// New constructs a new, empty Database.
func New(opts ...Option) *Database {
	db := &Database{
		revision: 1,
		tables:   make(map[reflect.Type]*table),
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.logger == nil {
		db.logger = slog.New(slog.DiscardHandler)
	}
	if db.metrics == nil {
		db.metrics = newMetrics(nil)
	}
	return db
}

// Revision returns the current revision.
func (db *Database) Revision() Revision {
	return db.revision
}

// Advance starts a new revision, signaling that state read by [Volatile]
// queries may have changed. Returns the new revision.
//
// Panics if called while a query is executing.
func (db *Database) Advance() Revision {
	if len(db.stack) > 0 {
		panic("incremental: Advance called from within a query")
	}
	db.revision++
	db.logger.Debug("advanced revision", "revision", db.revision)
	return db.revision
}

// Stats returns counters for what this Database has done so far.
func (db *Database) Stats() Stats {
	return db.stats
}

// Queries returns a snapshot of the queries with a cached result in this
// Database, which might not be up to date for the current revision.
//
// The returned slice is sorted by [QueryID.String].
func (db *Database) Queries() []QueryID {
	var ids []QueryID
	for _, t := range db.tables {
		for _, s := range t.slots {
			if s.done && s.err == nil {
				ids = append(ids, s.id)
			}
		}
	}
	slices.SortFunc(ids, func(a, b QueryID) int {
		return strings.Compare(a.String(), b.String())
	})
	return ids
}

// Fetch returns the result of q, executing it only if there is no result for
// it in db that is known to be up to date.
//
// If Fetch is called from within a query's Execute, q is recorded as a
// dependency of that query.
//
// Returns a [*CycleError] if q is already being executed further up the call
// stack. Otherwise, returns whatever error q's Execute returned, if any.
func Fetch[T any](db *Database, q Query[T]) (T, error) {
	var zero T
	db.claim()

	s := db.slot(IDOf(q))
	s.query = q
	s.run = run[T]
	if v, ok := q.(Volatile); ok {
		s.volatile = v.Volatile()
	}

	if s.active {
		return zero, db.cycle(s)
	}
	if n := len(db.stack); n > 0 {
		db.stack[n-1].depend(s)
	}

	db.refresh(s)
	if s.err != nil {
		return zero, s.err
	}
	v, _ := s.value.(T) // Fails only for a nil interface value.
	return v, nil
}

func run[T any](db *Database, q any) (any, error) {
	return q.(Query[T]).Execute(db)
}

// frame is a query that is on the stack.
type frame struct {
	slot *slot
	deps []*slot // Dependencies fetched so far.

	// Index of deps, built once there are too many dependencies for a linear
	// scan.
	seen map[*slot]struct{}
}

// maxLinearDeps is the number of dependencies a frame deduplicates by linear
// scan before switching to a map.
const maxLinearDeps = 16

// depend records that f's query depends on s.
func (f *frame) depend(s *slot) {
	if f.seen != nil {
		if _, ok := f.seen[s]; ok {
			return
		}
		f.seen[s] = struct{}{}
		f.deps = append(f.deps, s)
		return
	}

	if slices.Contains(f.deps, s) {
		return
	}
	f.deps = append(f.deps, s)
	if len(f.deps) > maxLinearDeps {
		f.seen = make(map[*slot]struct{}, len(f.deps)*2)
		for _, dep := range f.deps {
			f.seen[dep] = struct{}{}
		}
	}
}

// claim checks that db is not being used from two goroutines at once.
func (db *Database) claim() {
	id := goid.Get()
	if len(db.stack) == 0 {
		db.owner = id
		return
	}
	if db.owner != id {
		panic(fmt.Sprintf(
			"incremental: Database used from goroutine %d while goroutine %d is fetching",
			id, db.owner,
		))
	}
}

// refresh brings s up to date for the current revision, executing it if
// necessary.
func (db *Database) refresh(s *slot) {
	base := len(db.stack)
	db.stack = append(db.stack, frame{slot: s})
	s.active = true
	defer func() {
		s.active = false
		db.stack[base] = frame{}
		db.stack = db.stack[:base]
	}()

	switch {
	case s.done && s.verifiedAt == db.revision:
		db.stats.Hits++
		s.table.hits.Inc()
		return

	case s.done && s.err == nil && !s.volatile && db.unchanged(s):
		s.verifiedAt = db.revision
		db.stats.Verifications++
		s.table.verifications.Inc()
		db.debug("verified query", s)
		return
	}

	db.execute(s)
}

// unchanged brings every dependency of s up to date, and reports whether
// none of them changed since s was last verified.
//
// A dependency that changed after s was verified was necessarily verified at
// a later revision than s, so comparing against verifiedAt is exact.
func (db *Database) unchanged(s *slot) bool {
	for _, dep := range s.deps {
		if dep.active {
			// The dependency graph changed shape and now has a cycle;
			// re-executing s will report it.
			return false
		}
		db.refresh(dep)
		if dep.err != nil || dep.changedAt > s.verifiedAt {
			return false
		}
	}
	return true
}

// execute runs s's query and records the result. s must be on top of the
// stack.
func (db *Database) execute(s *slot) {
	top := len(db.stack) - 1
	value, err := s.run(db, s.query)
	deps := db.stack[top].deps

	db.stats.Executions++
	s.table.executions.Inc()

	changed := true
	switch {
	case err != nil:
		s.value, s.err = nil, err
	case s.done && s.err == nil && equal(s.value, value):
		// Keep the old value, so repeated fetches observe the same result.
		changed = false
	default:
		s.value, s.err = value, nil
	}

	if changed {
		s.changedAt = db.revision
	}
	s.verifiedAt = db.revision
	s.deps = deps
	s.done = true

	db.debug("executed query", s, "changed", changed, "deps", len(deps), "error", err)
}

// cycle builds the error for fetching s, which is already on the stack.
func (db *Database) cycle(s *slot) error {
	i := slices.IndexFunc(db.stack, func(f frame) bool { return f.slot == s })
	path := make([]QueryID, 0, len(db.stack)-i+1)
	for _, f := range db.stack[i:] {
		path = append(path, f.slot.id)
	}
	path = append(path, s.id)

	db.stats.Cycles++
	db.metrics.cycles.Inc()
	db.debug("cycle detected", s, "length", len(path)-1)
	return &CycleError{Cycle: path}
}

func (db *Database) debug(msg string, s *slot, args ...any) {
	ctx := context.Background()
	if !db.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	args = append(args, "query", s.id.String(), "revision", db.revision)
	db.logger.DebugContext(ctx, msg, args...)
}

// equal compares two query results for early cutoff.
//
// Results may customize this by defining an Equal method; see [cmp.Equal].
func equal(a, b any) bool {
	return cmp.Equal(a, b, cmp.Exporter(func(reflect.Type) bool { return true }))
}
