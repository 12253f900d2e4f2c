package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/markb/sqlbridge/internal/schema"
	"github.com/markb/sqlbridge/internal/sqlite"
)

var queryCmd = &cobra.Command{
	Use:   "query SQL...",
	Short: "Run SQL statements and print their rows",
	Long: `Runs each argument as one SQL statement against the database. Statements that
produce rows print them as an aligned table on a terminal and as tab-separated
values otherwise. The built-in functions are available unless --no-builtins is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		out := cmd.OutOrStdout()
		for _, sql := range args {
			if err := runStatement(cmd.Context(), database.Conn, sql, out); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	addDBFlags(queryCmd)
}

// runStatement executes sql and prints its rows, if it has result columns.
func runStatement(ctx context.Context, conn *sqlite.Conn, sql string, out io.Writer) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows := 0
	_, done := telemetry.StartQuery(ctx, sql)
	defer func() { done(rows, err) }()

	cols, err := schema.Describe(conn, sql)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		if err := conn.Exec(sql); err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
		rows = conn.Changes()
		return nil
	}

	stmt, err := conn.Prepare(sql)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Finalize()

	header := make([]string, len(cols))
	for i, col := range cols {
		header[i] = col.Name
	}

	var records [][]string
	for {
		ok, err := stmt.Step()
		if err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
		if !ok {
			break
		}
		record := make([]string, len(cols))
		for i, v := range stmt.Row() {
			record[i] = formatValue(v)
		}
		records = append(records, record)
	}
	rows = len(records)

	return printRows(out, header, records)
}

// printRows writes an aligned table when out is a terminal and
// tab-separated values otherwise.
func printRows(out io.Writer, header []string, records [][]string) error {
	if !isTerminal(out) {
		fmt.Fprintln(out, strings.Join(header, "\t"))
		for _, r := range records {
			fmt.Fprintln(out, strings.Join(r, "\t"))
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	rule := make([]string, len(header))
	for i, h := range header {
		rule[i] = strings.Repeat("-", max(len(h), 3))
	}
	fmt.Fprintln(w, strings.Join(rule, "\t"))
	for _, r := range records {
		fmt.Fprintln(w, strings.Join(r, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "(%d row%s)\n", len(records), plural(len(records)))
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case []byte:
		return fmt.Sprintf("x'%x'", x)
	default:
		return fmt.Sprint(x)
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
