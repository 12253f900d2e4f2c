package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/markb/sqlbridge/internal/auth"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long:  `Commands for managing API keys for the HTTP API.`,
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate anon and service_role API keys",
	Long: `Generates both API keys using the JWT secret from SQLBRIDGE_JWT_SECRET. anon keys
may run read-only statements; service_role keys may run anything.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := auth.NewService(os.Getenv("SQLBRIDGE_JWT_SECRET"))
		if err != nil {
			return fmt.Errorf("failed to load SQLBRIDGE_JWT_SECRET: %w", err)
		}

		anonKey, err := svc.GenerateAPIKey(auth.APIKeyAnon)
		if err != nil {
			return fmt.Errorf("failed to generate anon key: %w", err)
		}

		serviceKey, err := svc.GenerateAPIKey(auth.APIKeyServiceRole)
		if err != nil {
			return fmt.Errorf("failed to generate service key: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "SQLBRIDGE_ANON_KEY=%s\n", anonKey)
		fmt.Fprintf(cmd.OutOrStdout(), "SQLBRIDGE_SERVICE_KEY=%s\n", serviceKey)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd)
}
