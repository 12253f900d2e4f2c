// Package function owns the Go side of user-defined SQL functions: a
// per-connection table of function objects indexed by position, and the
// dispatcher that the connection's callback trampolines forward to.
package function

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/markb/sqlbridge/internal/log"
	"github.com/markb/sqlbridge/internal/observability"
	"github.com/markb/sqlbridge/internal/sqlite"
)

// ScalarFunc computes one result per row. The returned value must be one of
// the types accepted by sqlite.Context.Result.
type ScalarFunc func(args []sqlite.Value) (any, error)

// Aggregate accumulates rows of one group. A fresh Aggregate is created for
// every group, so implementations need no reset logic.
type Aggregate interface {
	Step(args []sqlite.Value) error
	Final() (any, error)
}

// Definition describes a user function. Exactly one of Scalar and
// NewAggregate must be set.
type Definition struct {
	Scalar       ScalarFunc
	NewAggregate func() Aggregate

	// Usage is a one-line synopsis shown by the CLI.
	Usage string
}

// IsAggregate reports whether d defines an aggregate.
func (d Definition) IsAggregate() bool { return d.NewAggregate != nil }

// Kind returns "aggregate" or "scalar".
func (d Definition) Kind() string {
	if d.IsAggregate() {
		return "aggregate"
	}
	return "scalar"
}

func (d Definition) validate() error {
	switch {
	case d.Scalar == nil && d.NewAggregate == nil:
		return errors.New("definition has neither a scalar nor an aggregate implementation")
	case d.Scalar != nil && d.NewAggregate != nil:
		return errors.New("definition has both a scalar and an aggregate implementation")
	}
	return nil
}

type slot struct {
	name string
	def  Definition
}

// Registry is the function table of one connection. Like the connection it
// must not be used from more than one goroutine at a time.
type Registry struct {
	conn    *sqlite.Conn
	slots   []*slot
	byName  map[string]int
	groups  map[uint64]*group
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registration and dispatch failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics records a call count, duration and error count per callback.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry and installs it as conn's
// dispatcher.
func NewRegistry(conn *sqlite.Conn, opts ...Option) *Registry {
	r := &Registry{
		conn:   conn,
		byName: make(map[string]int),
		groups: make(map[uint64]*group),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.Logger()
	}
	conn.SetDispatcher(r)
	return r
}

// Create registers def under name. Names are case-insensitive, as in SQL.
// Creating a name that already exists replaces its definition in place.
func (r *Registry) Create(name string, def Definition) error {
	if name == "" {
		return errors.New("failed to create function: empty name")
	}
	if err := def.validate(); err != nil {
		return fmt.Errorf("failed to create function %s: %w", name, err)
	}

	key := strings.ToLower(name)
	pos, replacing := r.byName[key]
	var prev *slot
	if replacing {
		prev = r.slots[pos]
	} else {
		pos = r.freeSlot()
	}
	r.slots[pos] = &slot{name: name, def: def}
	r.byName[key] = pos

	if rc := r.conn.Register(name, pos, def.IsAggregate()); rc != sqlite.OK {
		if replacing {
			r.slots[pos] = prev
		} else {
			r.slots[pos] = nil
			delete(r.byName, key)
		}
		return fmt.Errorf("failed to create function %s: %w", name, r.conn.StatusError(rc))
	}

	r.logger.Debug("function created", "function", name, "kind", def.Kind(), "position", pos)
	return nil
}

// Destroy removes name from the connection and frees its position. Unknown
// names are ignored.
func (r *Registry) Destroy(name string) error {
	key := strings.ToLower(name)
	pos, ok := r.byName[key]
	if !ok {
		return nil
	}
	if rc := r.conn.Register(r.slots[pos].name, -1, false); rc != sqlite.OK {
		return fmt.Errorf("failed to destroy function %s: %w", name, r.conn.StatusError(rc))
	}
	r.slots[pos] = nil
	delete(r.byName, key)

	r.logger.Debug("function destroyed", "function", name, "position", pos)
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	pos, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return Definition{}, false
	}
	return r.slots[pos].def, true
}

// Position returns the position name is registered at.
func (r *Registry) Position(name string) (int, bool) {
	pos, ok := r.byName[strings.ToLower(name)]
	return pos, ok
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for _, pos := range r.byName {
		names = append(names, r.slots[pos].name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered functions.
func (r *Registry) Len() int { return len(r.byName) }

// freeSlot returns the lowest free position, growing the table if needed.
func (r *Registry) freeSlot() int {
	for i, s := range r.slots {
		if s == nil {
			return i
		}
	}
	r.slots = append(r.slots, nil)
	return len(r.slots) - 1
}

func (r *Registry) slotAt(pos int) *slot {
	if pos < 0 || pos >= len(r.slots) {
		return nil
	}
	return r.slots[pos]
}
