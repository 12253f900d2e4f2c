package observability

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartQuery instruments one statement with a span and query metrics. The
// returned function ends the span and must be called exactly once with the
// number of rows produced and the statement's error. A nil Telemetry
// instruments nothing.
func (t *Telemetry) StartQuery(ctx context.Context, sql string) (context.Context, func(rows int, err error)) {
	if t == nil {
		return ctx, func(int, error) {}
	}

	start := time.Now()
	op := Operation(sql)
	tracer := t.TracerProvider().Tracer("sqlbridge")

	ctx, span := tracer.Start(ctx, "sqlite "+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrDBSystem.String("sqlite"),
			AttrDBStatement.String(sql),
			AttrDBOperation.String(op),
		),
	)

	return ctx, func(rows int, err error) {
		t.Metrics().RecordQuery(ctx, op, time.Since(start), err != nil)

		span.SetAttributes(AttrDBRows.Int(rows))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// Operation returns the upper-cased leading keyword of sql, or "UNKNOWN".
func Operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	op := strings.ToUpper(strings.TrimRight(fields[0], ";("))
	if op == "" {
		return "UNKNOWN"
	}
	return op
}
