package function

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markb/sqlbridge/internal/sqlite"
)

var (
	// ErrStaleHandle is reported when an argument handle no longer resolves.
	ErrStaleHandle = errors.New("stale argument handle")
	// ErrNotRegistered is reported when a callback carries a position with
	// no function behind it.
	ErrNotRegistered = errors.New("no function registered at position")
)

// groupError is a failure already reported by an earlier step of the same
// aggregate group. It still becomes the row's error but is not logged or
// counted again.
type groupError struct{ error }

func (e groupError) Unwrap() error { return e.error }

// group is the state of one aggregate group. A failed step poisons the
// group so that its final call reports the failure instead of a partial
// result.
type group struct {
	agg Aggregate
	err error
}

// Dispatch runs the function a callback is addressed to and reports its
// result, or its failure, through the callback's context. Every failure
// (unknown position, stale handle, function error, unsupported result type,
// panic) becomes an error result for the current row, which aborts the
// statement with the failure's message.
func (r *Registry) Dispatch(call sqlite.Call) {
	ctx, ok := r.conn.Context(call.Context())
	if !ok {
		// Nothing to report through; the engine sees a NULL result.
		r.logger.Warn("function dispatch with stale context handle", "kind", call.Kind().String())
		return
	}

	start := time.Now()
	pos := ctx.UserData()
	s := r.slotAt(pos)

	var err error
	name := fmt.Sprintf("#%d", pos)
	if s == nil {
		err = fmt.Errorf("%w %d", ErrNotRegistered, pos)
	} else {
		name = s.name
		err = r.invoke(ctx, call, s)
	}

	var reported groupError
	repeat := errors.As(err, &reported)
	r.metrics.RecordFunctionCall(context.Background(), name, call.Kind().String(), time.Since(start), err != nil && !repeat)
	if err == nil {
		return
	}
	if !repeat {
		if call.Kind() == sqlite.KindStep {
			r.poison(ctx, err)
		}
		r.logger.Warn("function call failed", "function", name, "kind", call.Kind().String(), "error", err)
	}
	ctx.ResultError(err.Error())
}

// poison marks the group of ctx failed if it exists and has not failed yet.
func (r *Registry) poison(ctx sqlite.Context, err error) {
	id, ok := ctx.AggregateID()
	if !ok {
		return
	}
	if g, ok := r.groups[id]; ok && g.err == nil {
		g.err = err
	}
}

func (r *Registry) invoke(ctx sqlite.Context, call sqlite.Call, s *slot) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: panic: %v", s.name, p)
		}
	}()

	switch call := call.(type) {
	case sqlite.ScalarCall:
		if s.def.Scalar == nil {
			return fmt.Errorf("%s is not a scalar function", s.name)
		}
		args, ok := r.conn.Values(call.Argv)
		if !ok {
			return ErrStaleHandle
		}
		v, err := s.def.Scalar(args)
		if err != nil {
			return err
		}
		return ctx.Result(v)

	case sqlite.StepCall:
		g, err := r.group(ctx, s)
		if err != nil {
			return err
		}
		if g.err != nil {
			return groupError{g.err}
		}
		args, ok := r.conn.Values(call.Argv)
		if !ok {
			return ErrStaleHandle
		}
		return g.agg.Step(args)

	case sqlite.FinalCall:
		id, ok := ctx.AggregateID()
		if !ok {
			return fmt.Errorf("%s: cannot allocate aggregate state", s.name)
		}
		g, err := r.group(ctx, s)
		delete(r.groups, id)
		if err != nil {
			return err
		}
		if g.err != nil {
			return groupError{g.err}
		}
		v, err := g.agg.Final()
		if err != nil {
			return err
		}
		return ctx.Result(v)

	default:
		return fmt.Errorf("%s: unexpected call %T", s.name, call)
	}
}

// group returns the state of the aggregate group ctx belongs to, creating it
// on the first step (or on final, for an empty group).
func (r *Registry) group(ctx sqlite.Context, s *slot) (*group, error) {
	if s.def.NewAggregate == nil {
		return nil, fmt.Errorf("%s is not an aggregate function", s.name)
	}
	id, ok := ctx.AggregateID()
	if !ok {
		return nil, fmt.Errorf("%s: cannot allocate aggregate state", s.name)
	}
	g, ok := r.groups[id]
	if !ok {
		g = &group{agg: s.def.NewAggregate()}
		r.groups[id] = g
	}
	return g, nil
}
