package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "List the SQL functions registered on a database",
	Long: `Opens the database and lists every registered function with its kind
(scalar or aggregate), the position it was registered at and a usage line.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		header := []string{"name", "kind", "position", "usage"}
		var records [][]string
		for _, name := range database.Functions.Names() {
			def, _ := database.Functions.Lookup(name)
			pos, _ := database.Functions.Position(name)
			records = append(records, []string{name, def.Kind(), strconv.Itoa(pos), def.Usage})
		}
		return printRows(cmd.OutOrStdout(), header, records)
	},
}

func init() {
	rootCmd.AddCommand(functionsCmd)
	functionsCmd.Flags().String("db", ":memory:", "Path to database file")
	functionsCmd.Flags().Bool("no-builtins", false, "Do not register the built-in functions")
}
