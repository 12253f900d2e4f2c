package function

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/markb/sqlbridge/internal/observability"
	"github.com/markb/sqlbridge/internal/sqlite"
)

func setupRegistry(t *testing.T, opts ...Option) (*sqlite.Conn, *Registry) {
	t.Helper()
	conn, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, NewRegistry(conn, opts...)
}

func queryRows(t *testing.T, conn *sqlite.Conn, sql string, args ...any) ([][]any, error) {
	t.Helper()
	stmt, err := conn.Prepare(sql)
	if err != nil {
		return nil, err
	}
	defer stmt.Finalize()
	if err := stmt.Bind(args...); err != nil {
		return nil, err
	}
	var rows [][]any
	for {
		ok, err := stmt.Step()
		if err != nil {
			return rows, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, stmt.Row())
	}
}

func queryValue(t *testing.T, conn *sqlite.Conn, sql string, args ...any) any {
	t.Helper()
	rows, err := queryRows(t, conn, sql, args...)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, rows[0], 1)
	return rows[0][0]
}

func scalar(f func(args []sqlite.Value) (any, error)) Definition {
	return Definition{Scalar: f}
}

type sumAgg struct{ total int64 }

func (s *sumAgg) Step(args []sqlite.Value) error {
	s.total += args[0].Int64()
	return nil
}

func (s *sumAgg) Final() (any, error) { return s.total, nil }

func TestCreateAndCall(t *testing.T) {
	conn, r := setupRegistry(t)

	called := 0
	require.NoError(t, r.Create("f1", scalar(func(args []sqlite.Value) (any, error) {
		called++
		return nil, nil
	})))
	queryValue(t, conn, "SELECT f1()")
	assert.Equal(t, 1, called)

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"f1"}, r.Names())
	def, ok := r.Lookup("F1")
	require.True(t, ok)
	assert.Equal(t, "scalar", def.Kind())
}

func TestReturnTypes(t *testing.T) {
	conn, r := setupRegistry(t)

	for name, v := range map[string]any{
		"ret_int":   7,
		"ret_int64": int64(1) << 40,
		"ret_float": 3.5,
		"ret_text":  "hello",
		"ret_blob":  []byte{1, 2},
		"ret_bool":  true,
		"ret_null":  nil,
	} {
		require.NoError(t, r.Create(name, scalar(func([]sqlite.Value) (any, error) { return v, nil })))
	}

	assert.Equal(t, int64(7), queryValue(t, conn, "SELECT ret_int()"))
	assert.Equal(t, int64(1)<<40, queryValue(t, conn, "SELECT ret_int64()"))
	assert.Equal(t, 3.5, queryValue(t, conn, "SELECT ret_float()"))
	assert.Equal(t, "hello", queryValue(t, conn, "SELECT ret_text()"))
	assert.Equal(t, []byte{1, 2}, queryValue(t, conn, "SELECT ret_blob()"))
	assert.Equal(t, int64(1), queryValue(t, conn, "SELECT ret_bool()"))
	assert.Nil(t, queryValue(t, conn, "SELECT ret_null()"))
}

func TestArguments(t *testing.T) {
	conn, r := setupRegistry(t)

	var got []any
	require.NoError(t, r.Create("args", scalar(func(args []sqlite.Value) (any, error) {
		got = got[:0]
		for _, a := range args {
			got = append(got, a.Interface())
		}
		return len(args), nil
	})))

	assert.Equal(t, int64(0), queryValue(t, conn, "SELECT args()"))
	assert.Equal(t, int64(4), queryValue(t, conn, "SELECT args(1, 'two', 3.0, NULL)"))
	assert.Equal(t, []any{int64(1), "two", 3.0, nil}, got)

	assert.Equal(t, int64(2), queryValue(t, conn, "SELECT args(?, ?)", "bound", []byte("blob")))
	assert.Equal(t, []any{"bound", []byte("blob")}, got)
}

func TestAggregateGroups(t *testing.T) {
	conn, r := setupRegistry(t)
	require.NoError(t, conn.Exec(`
		CREATE TABLE sales (region TEXT, amount INTEGER);
		INSERT INTO sales VALUES ('north', 10), ('south', 5), ('north', 20), ('south', 7), ('east', 1);
	`))
	require.NoError(t, r.Create("my_sum", Definition{NewAggregate: func() Aggregate { return &sumAgg{} }}))

	rows, err := queryRows(t, conn, "SELECT region, my_sum(amount) FROM sales GROUP BY region ORDER BY region")
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{"east", int64(1)},
		{"north", int64(30)},
		{"south", int64(12)},
	}, rows)
	assert.Empty(t, r.groups)

	// Two aggregates over the same rows keep separate state.
	rows, err = queryRows(t, conn, "SELECT my_sum(amount), my_sum(amount * 2) FROM sales")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(43), int64(86)}}, rows)
}

func TestAggregateEmptyGroup(t *testing.T) {
	conn, r := setupRegistry(t)
	require.NoError(t, conn.Exec("CREATE TABLE empty (x INTEGER)"))
	require.NoError(t, r.Create("my_sum", Definition{NewAggregate: func() Aggregate { return &sumAgg{} }}))

	assert.Equal(t, int64(0), queryValue(t, conn, "SELECT my_sum(x) FROM empty"))
	assert.Empty(t, r.groups)
}

func TestErrorCarriesMessage(t *testing.T) {
	conn, r := setupRegistry(t)
	require.NoError(t, r.Create("fail", scalar(func([]sqlite.Value) (any, error) {
		return nil, errors.New("custom failure from fail")
	})))

	_, err := queryRows(t, conn, "SELECT fail()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom failure from fail")

	var sqliteErr *sqlite.Error
	require.True(t, errors.As(err, &sqliteErr))
	assert.Equal(t, sqlite.ERROR, sqliteErr.Code())
}

func TestUnsupportedResult(t *testing.T) {
	conn, r := setupRegistry(t)
	require.NoError(t, r.Create("weird", scalar(func([]sqlite.Value) (any, error) {
		return map[string]int{}, nil
	})))

	_, err := queryRows(t, conn, "SELECT weird()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported function result type")
}

func TestPanicIsReported(t *testing.T) {
	conn, r := setupRegistry(t)
	require.NoError(t, r.Create("boom", scalar(func([]sqlite.Value) (any, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	})))

	_, err := queryRows(t, conn, "SELECT boom()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom: panic")

	// The connection keeps working.
	require.NoError(t, r.Create("ok", scalar(func([]sqlite.Value) (any, error) { return 1, nil })))
	assert.Equal(t, int64(1), queryValue(t, conn, "SELECT ok()"))
}

type failingAgg struct{ seen int }

func (f *failingAgg) Step(args []sqlite.Value) error {
	f.seen++
	if args[0].Int64() < 0 {
		return errors.New("negative input")
	}
	return nil
}

func (f *failingAgg) Final() (any, error) { return f.seen, nil }

func TestStepFailureAbortsAggregate(t *testing.T) {
	conn, r := setupRegistry(t)
	require.NoError(t, conn.Exec(`
		CREATE TABLE nums (x INTEGER);
		INSERT INTO nums VALUES (1), (-1), (2);
	`))
	require.NoError(t, r.Create("picky", Definition{NewAggregate: func() Aggregate { return &failingAgg{} }}))

	_, err := queryRows(t, conn, "SELECT picky(x) FROM nums")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative input")

	// A later statement starts from fresh state.
	assert.Equal(t, int64(1), queryValue(t, conn, "SELECT picky(x) FROM nums WHERE x > 1"))
}

func TestDestroy(t *testing.T) {
	conn, r := setupRegistry(t)
	require.NoError(t, r.Create("gone", scalar(func([]sqlite.Value) (any, error) { return 1, nil })))
	assert.Equal(t, int64(1), queryValue(t, conn, "SELECT gone()"))

	require.NoError(t, r.Destroy("gone"))
	_, err := queryRows(t, conn, "SELECT gone()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such function: gone")

	// Destroying twice, or an unknown name, is a no-op.
	require.NoError(t, r.Destroy("gone"))
	require.NoError(t, r.Destroy("never_created"))
	assert.Zero(t, r.Len())
}

func TestSlotReuse(t *testing.T) {
	_, r := setupRegistry(t)
	noop := scalar(func([]sqlite.Value) (any, error) { return nil, nil })

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, r.Create(name, noop))
	}
	pos, _ := r.Position("b")
	assert.Equal(t, 1, pos)

	require.NoError(t, r.Destroy("a"))
	require.NoError(t, r.Create("d", noop))
	pos, _ = r.Position("d")
	assert.Equal(t, 0, pos)

	require.NoError(t, r.Create("e", noop))
	pos, _ = r.Position("e")
	assert.Equal(t, 3, pos)
	assert.Equal(t, []string{"b", "c", "d", "e"}, r.Names())
}

func TestCreateReplaces(t *testing.T) {
	conn, r := setupRegistry(t)
	require.NoError(t, r.Create("f", scalar(func([]sqlite.Value) (any, error) { return 1, nil })))
	pos, _ := r.Position("f")

	require.NoError(t, r.Create("F", Definition{NewAggregate: func() Aggregate { return &sumAgg{} }}))
	newPos, _ := r.Position("f")
	assert.Equal(t, pos, newPos)
	assert.Equal(t, 1, r.Len())

	require.NoError(t, conn.Exec("CREATE TABLE t (x INTEGER); INSERT INTO t VALUES (2), (3)"))
	assert.Equal(t, int64(5), queryValue(t, conn, "SELECT f(x) FROM t"))
}

func TestCreateInvalid(t *testing.T) {
	_, r := setupRegistry(t)

	assert.Error(t, r.Create("", scalar(func([]sqlite.Value) (any, error) { return nil, nil })))
	assert.Error(t, r.Create("neither", Definition{}))
	assert.Error(t, r.Create("both", Definition{
		Scalar:       func([]sqlite.Value) (any, error) { return nil, nil },
		NewAggregate: func() Aggregate { return &sumAgg{} },
	}))

	err := r.Create(strings.Repeat("x", 300), scalar(func([]sqlite.Value) (any, error) { return nil, nil }))
	require.Error(t, err)
	assert.Zero(t, r.Len())
	_, ok := r.Position(strings.Repeat("x", 300))
	assert.False(t, ok)
}

func TestUnknownPosition(t *testing.T) {
	conn, _ := setupRegistry(t)
	require.Equal(t, int32(sqlite.OK), conn.Register("ghost", 7, false))

	_, err := queryRows(t, conn, "SELECT ghost()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no function registered at position 7")
}

func TestWrongShapeForPosition(t *testing.T) {
	conn, r := setupRegistry(t)
	require.NoError(t, r.Create("s", scalar(func([]sqlite.Value) (any, error) { return 1, nil })))
	pos, _ := r.Position("s")

	// Wire the scalar's position as an aggregate behind the registry's back.
	require.Equal(t, int32(sqlite.OK), conn.Register("s_agg", pos, true))
	_, err := queryRows(t, conn, "SELECT s_agg(1)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s is not an aggregate function")
}

func TestDispatchLogsAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	reader := sdkmetric.NewManualReader()
	metrics, err := observability.InitMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	conn, r := setupRegistry(t, WithLogger(logger), WithMetrics(metrics))
	require.NoError(t, RegisterBuiltins(r))
	require.NoError(t, conn.Exec("CREATE TABLE t (x INTEGER); INSERT INTO t VALUES (1), (2), (3)"))

	assert.Equal(t, int64(42), queryValue(t, conn, "SELECT double_it(21)"))
	assert.Equal(t, int64(3), queryValue(t, conn, "SELECT count_pos(x) FROM t"))
	_, err = queryRows(t, conn, "SELECT double_it('x')")
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "function created")
	assert.Contains(t, out, "function call failed")
	assert.Contains(t, out, "function=double_it")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	counts := map[string]int64{}
	var errCount int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				name, _ := dp.Attributes.Value(observability.AttrFunctionName)
				kind, _ := dp.Attributes.Value(observability.AttrCallKind)
				switch m.Name {
				case "sqlbridge.function.calls":
					counts[name.AsString()+"/"+kind.AsString()] += dp.Value
				case "sqlbridge.function.errors":
					errCount += dp.Value
				}
			}
		}
	}
	assert.Equal(t, map[string]int64{
		"double_it/scalar": 2,
		"count_pos/step":   3,
		"count_pos/final":  1,
	}, counts)
	assert.Equal(t, int64(1), errCount)
}

func TestRegistriesAreIndependent(t *testing.T) {
	connA, a := setupRegistry(t)
	connB, b := setupRegistry(t)

	require.NoError(t, a.Create("who", scalar(func([]sqlite.Value) (any, error) { return "a", nil })))
	require.NoError(t, b.Create("who", scalar(func([]sqlite.Value) (any, error) { return "b", nil })))
	require.NoError(t, b.Create("only_b", scalar(func([]sqlite.Value) (any, error) { return 1, nil })))

	assert.Equal(t, "a", queryValue(t, connA, "SELECT who()"))
	assert.Equal(t, "b", queryValue(t, connB, "SELECT who()"))
	_, err := queryRows(t, connA, "SELECT only_b()")
	assert.Error(t, err)
}

func TestStepFailureReportedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	reader := sdkmetric.NewManualReader()
	metrics, err := observability.InitMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	conn, r := setupRegistry(t, WithLogger(logger), WithMetrics(metrics))
	require.NoError(t, conn.Exec("CREATE TABLE nums (x INTEGER); INSERT INTO nums VALUES (1), (-1), (2)"))
	require.NoError(t, r.Create("picky", Definition{NewAggregate: func() Aggregate { return &failingAgg{} }}))

	_, err = queryRows(t, conn, "SELECT picky(x) FROM nums")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative input")

	assert.Equal(t, 1, strings.Count(buf.String(), "function call failed"), buf.String())
	assert.NotContains(t, buf.String(), "kind=final")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var errCount int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && m.Name == "sqlbridge.function.errors" {
				for _, dp := range sum.DataPoints {
					errCount += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), errCount)
}
