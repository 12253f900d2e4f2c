package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/markb/sqlbridge/internal/schema"
)

var columnsCmd = &cobra.Command{
	Use:   "columns SQL",
	Short: "Describe the result columns of a statement",
	Long: `Prepares the statement without running it and prints, for every result column,
its declared type, the table and column it originates from and whether that
column is NOT NULL, part of the primary key or AUTOINCREMENT.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		cols, err := schema.Describe(database.Conn, args[0])
		if err != nil {
			return err
		}

		header := []string{"name", "type", "table", "column", "not_null", "primary_key", "autoincrement"}
		records := make([][]string, len(cols))
		for i, c := range cols {
			records[i] = []string{
				c.Name, c.DeclType, c.TableName, c.ColumnName,
				strconv.FormatBool(c.NotNull),
				strconv.FormatBool(c.IsPrimary),
				strconv.FormatBool(c.AutoIncrement),
			}
		}
		return printRows(cmd.OutOrStdout(), header, records)
	},
}

func init() {
	rootCmd.AddCommand(columnsCmd)
	addDBFlags(columnsCmd)
}
