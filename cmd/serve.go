package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/markb/sqlbridge/internal/auth"
	"github.com/markb/sqlbridge/internal/log"
	"github.com/markb/sqlbridge/internal/pgwire"
	"github.com/markb/sqlbridge/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the database over the PostgreSQL wire protocol",
	Long: `Starts a PostgreSQL wire protocol server on the database. Clients such as psql
or pgx can run queries that call the registered functions. With --http a JSON
API is served as well; it requires API keys when SQLBRIDGE_JWT_SECRET is set
(see 'sqlbridge keys generate'). Queries from all sessions run on one
connection, one at a time.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		httpAddr, _ := cmd.Flags().GetString("http")
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			password = os.Getenv("SQLBRIDGE_PASSWORD")
		}
		out := cmd.OutOrStdout()

		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		wireSrv, err := pgwire.NewServer(database, pgwire.Config{
			Address:   listen,
			Password:  password,
			Logger:    log.Logger(),
			Telemetry: telemetry,
		})
		if err != nil {
			return err
		}

		listener, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", listen, err)
		}

		fmt.Fprintf(out, "Serving %s\n", database.Path)
		fmt.Fprintf(out, "  PostgreSQL: %s\n", listener.Addr())
		if password == "" {
			fmt.Fprintln(out, "  Warning: no password set, any client may connect")
		}

		errCh := make(chan error, 2)
		go func() { errCh <- wireSrv.Serve(listener) }()

		var httpSrv *server.Server
		if httpAddr != "" {
			cfg := server.Config{Telemetry: telemetry}
			if secret := os.Getenv("SQLBRIDGE_JWT_SECRET"); secret != "" {
				if cfg.Auth, err = auth.NewService(secret); err != nil {
					wireSrv.Shutdown(context.Background())
					return fmt.Errorf("failed to load SQLBRIDGE_JWT_SECRET: %w", err)
				}
			} else {
				fmt.Fprintln(out, "  Warning: SQLBRIDGE_JWT_SECRET not set, the HTTP API is unauthenticated")
			}

			httpListener, err := net.Listen("tcp", httpAddr)
			if err != nil {
				wireSrv.Shutdown(context.Background())
				return fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
			}
			httpSrv = server.New(database, cfg)
			fmt.Fprintf(out, "  HTTP API:   http://%s/v1\n", httpListener.Addr())
			go func() { errCh <- httpSrv.Serve(httpListener) }()
		}

		// Handle graceful shutdown
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		var serveErr error
		select {
		case serveErr = <-errCh:
		case <-sigCh:
			fmt.Fprintln(out, "\nShutting down...")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if httpSrv != nil {
			if err := httpSrv.Shutdown(ctx); err != nil {
				log.Warn("failed to shut down http server", "error", err)
			}
		}
		if err := wireSrv.Shutdown(ctx); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warn("failed to shut down pgwire server", "error", err)
		}
		return serveErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addDBFlags(serveCmd)
	serveCmd.Flags().String("listen", ":5432", "Address for the PostgreSQL wire protocol")
	serveCmd.Flags().String("http", "", "Address for the JSON HTTP API (disabled when empty)")
	serveCmd.Flags().String("password", "", "Clear-text password clients must send (env: SQLBRIDGE_PASSWORD)")
}
