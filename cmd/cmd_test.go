package cmd

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markb/sqlbridge/internal/auth"
	"github.com/markb/sqlbridge/internal/observability"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	teardown()
	return out.String(), err
}

func TestQueryCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "query.db")

	out, err := execute(t, "query", "--db", dbPath,
		"CREATE TABLE t (x INTEGER)",
		"INSERT INTO t VALUES (21), (NULL)",
		"SELECT double_it(x) AS d, x FROM t ORDER BY x DESC",
	)
	require.NoError(t, err)
	assert.Equal(t, "d\tx\n42\t21\nNULL\tNULL\n", out)
}

func TestQueryCommandAggregate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "query.db")

	out, err := execute(t, "query", "--db", dbPath,
		"CREATE TABLE v (g TEXT, n REAL)",
		"INSERT INTO v VALUES ('a', 1), ('a', 3), ('a', 2), ('b', -1)",
		"SELECT g, median(n), count_pos(n) FROM v GROUP BY g ORDER BY g",
	)
	require.NoError(t, err)
	assert.Equal(t, "g\tmedian(n)\tcount_pos(n)\na\t2\t3\nb\t-1\t0\n", out)
}

func TestQueryCommandFunctionError(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "query.db")

	_, err := execute(t, "query", "--db", dbPath, "SELECT double_it('x')")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "double_it: argument must be numeric")
}

func TestColumnsCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "columns.db")
	_, err := execute(t, "query", "--db", dbPath,
		"CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT NOT NULL)")
	require.NoError(t, err)

	out, err := execute(t, "columns", "--db", dbPath, "SELECT id, email AS mail, 1 + 1 FROM users")
	require.NoError(t, err)
	assert.Equal(t,
		"name\ttype\ttable\tcolumn\tnot_null\tprimary_key\tautoincrement\n"+
			"id\tINTEGER\tusers\tid\tfalse\ttrue\ttrue\n"+
			"mail\tTEXT\tusers\temail\ttrue\tfalse\tfalse\n"+
			"1 + 1\t\t\t\tfalse\tfalse\tfalse\n",
		out)
}

func TestFunctionsCommand(t *testing.T) {
	out, err := execute(t, "functions")
	require.NoError(t, err)
	assert.Contains(t, out, "name\tkind\tposition\tusage\n")
	assert.Contains(t, out, "double_it\tscalar\t")
	assert.Contains(t, out, "median\taggregate\t")
	assert.Contains(t, out, "count_pos\taggregate\t")
}

func TestBuildLogConfig(t *testing.T) {
	t.Setenv("SQLBRIDGE_LOG_LEVEL", "warn")

	bare := &cobra.Command{}
	cfg := buildLogConfig(bare)
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, "console", cfg.Mode)

	withFlags := &cobra.Command{}
	withFlags.Flags().String("log-level", "", "")
	withFlags.Flags().String("log-format", "", "")
	withFlags.Flags().String("log-file", "", "")
	require.NoError(t, withFlags.Flags().Set("log-level", "debug"))
	require.NoError(t, withFlags.Flags().Set("log-format", "json"))
	require.NoError(t, withFlags.Flags().Set("log-file", "out.log"))

	cfg = buildLogConfig(withFlags)
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "file", cfg.Mode)
	assert.Equal(t, "out.log", cfg.FilePath)
}

func TestBuildOtelConfig(t *testing.T) {
	cfg := buildOtelConfig(&cobra.Command{})
	assert.False(t, cfg.ShouldEnable())
	assert.Equal(t, observability.ExporterNone, cfg.Exporter)

	t.Setenv("SQLBRIDGE_OTEL_EXPORTER", "stdout")
	cfg = buildOtelConfig(&cobra.Command{})
	assert.Equal(t, "stdout", cfg.Exporter)
	assert.True(t, cfg.TracesEnabled)
	assert.True(t, cfg.MetricsEnabled)

	withFlags := &cobra.Command{}
	withFlags.Flags().String("otel-exporter", "", "")
	withFlags.Flags().String("otel-endpoint", "", "")
	require.NoError(t, withFlags.Flags().Set("otel-exporter", "none"))
	require.NoError(t, withFlags.Flags().Set("otel-endpoint", "collector:4317"))
	cfg = buildOtelConfig(withFlags)
	assert.False(t, cfg.ShouldEnable())
	assert.Equal(t, "collector:4317", cfg.Endpoint)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "NULL", formatValue(nil))
	assert.Equal(t, "7", formatValue(int64(7)))
	assert.Equal(t, "2.5", formatValue(2.5))
	assert.Equal(t, "hi", formatValue("hi"))
	assert.Equal(t, "x'0aff'", formatValue([]byte{0x0a, 0xff}))
}

func TestKeysGenerateCommand(t *testing.T) {
	const secret = "keys-test-secret-at-least-32-characters"
	t.Setenv("SQLBRIDGE_JWT_SECRET", secret)

	out, err := execute(t, "keys", "generate")
	require.NoError(t, err)

	keys := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		name, value, ok := strings.Cut(line, "=")
		require.True(t, ok, line)
		keys[name] = value
	}

	svc, err := auth.NewService(secret)
	require.NoError(t, err)
	keyType, err := svc.ValidateAPIKey(keys["SQLBRIDGE_ANON_KEY"])
	require.NoError(t, err)
	assert.Equal(t, auth.APIKeyAnon, keyType)
	keyType, err = svc.ValidateAPIKey(keys["SQLBRIDGE_SERVICE_KEY"])
	require.NoError(t, err)
	assert.Equal(t, auth.APIKeyServiceRole, keyType)

	t.Setenv("SQLBRIDGE_JWT_SECRET", "short")
	_, err = execute(t, "keys", "generate")
	assert.Error(t, err)
}
