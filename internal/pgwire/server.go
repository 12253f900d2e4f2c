// Package pgwire serves a bridged SQLite connection over the PostgreSQL wire
// protocol so that psql, pgx and GUI clients can run queries that call the
// connection's user functions.
package pgwire

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	wire "github.com/jeroenrinzema/psql-wire"

	"github.com/markb/sqlbridge/internal/auth"
	"github.com/markb/sqlbridge/internal/db"
	"github.com/markb/sqlbridge/internal/observability"
	"github.com/markb/sqlbridge/internal/schema"
)

const versionString = observability.Version

// Config holds the pgwire server configuration.
type Config struct {
	Address   string // TCP address to listen on (e.g., ":5432")
	Password  string // Clear-text password clients must send; empty disables auth
	Logger    *slog.Logger
	Telemetry *observability.Telemetry // optional query spans and metrics
}

// Server implements a PostgreSQL wire protocol server over one connection.
type Server struct {
	database *db.DB
	config   Config
	password auth.Password
	server   *wire.Server
}

// NewServer creates a new PostgreSQL wire protocol server for database.
func NewServer(database *db.DB, cfg Config) (*Server, error) {
	if database == nil {
		return nil, fmt.Errorf("failed to create pgwire server: no database")
	}
	password, err := auth.NewPassword(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgwire server: %w", err)
	}
	s := &Server{
		database: database,
		config:   cfg,
		password: password,
	}

	opts := []wire.OptionFn{
		wire.Version("sqlbridge " + versionString + " (PostgreSQL compatible)"),
		wire.GlobalParameters(wire.Parameters{
			wire.ParamServerEncoding: "UTF8",
			wire.ParamServerVersion:  "15.0",
			"DateStyle":              "ISO, MDY",
			"TimeZone":               "UTC",
		}),
	}

	if cfg.Logger != nil {
		opts = append(opts, wire.Logger(cfg.Logger))
	}

	if password.IsSet() {
		opts = append(opts, wire.SessionAuthStrategy(
			wire.ClearTextPassword(s.passwordAuth),
		))
	}

	server, err := wire.NewServer(s.handleQuery, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgwire server: %w", err)
	}
	s.server = server

	return s, nil
}

// passwordAuth validates the provided password against the configured hash.
// Nothing is accepted when no password is configured.
func (s *Server) passwordAuth(ctx context.Context, database, username, password string) (context.Context, bool, error) {
	ok, err := s.password.Check(password)
	if !ok && s.config.Logger != nil {
		s.config.Logger.Warn("pgwire authentication failed", "user", username, "database", database)
	}
	return ctx, ok, err
}

// ListenAndServe starts the server and listens for connections.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until the server is shut down.
func (s *Server) Serve(listener net.Listener) error {
	if s.config.Logger != nil {
		s.config.Logger.Info("pgwire server listening", "address", listener.Addr().String())
	}
	return s.server.Serve(listener)
}

// Shutdown closes the listener and all client connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Close()
}

// handleQuery prepares a query. Statements with result columns are
// described through the column metadata of the connection so clients
// receive proper type OIDs.
func (s *Server) handleQuery(ctx context.Context, query string) (wire.PreparedStatements, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return wire.Prepared(), nil
	}

	if handler := s.catalogHandler(query); handler != nil {
		return handler, nil
	}

	s.database.Lock()
	cols, err := schema.Describe(s.database.Conn, query)
	s.database.Unlock()
	if err != nil {
		return nil, err
	}

	if len(cols) == 0 {
		stmt := wire.NewStatement(func(ctx context.Context, writer wire.DataWriter, params []wire.Parameter) error {
			return s.executeExec(ctx, query, writer, params)
		})
		return wire.Prepared(stmt), nil
	}

	columns := make(wire.Columns, len(cols))
	oids := make([]uint32, len(cols))
	for i, col := range cols {
		oids[i] = GetOID(col.DeclType)
		columns[i] = wire.Column{
			Table: 0,
			Name:  col.Name,
			Oid:   oids[i],
			Width: -1, // Variable width
		}
	}

	stmt := wire.NewStatement(
		func(ctx context.Context, writer wire.DataWriter, params []wire.Parameter) error {
			return s.executeSelect(ctx, query, oids, writer, params)
		},
		wire.WithColumns(columns),
	)

	return wire.Prepared(stmt), nil
}

// executeSelect runs a row-producing statement and writes its results.
func (s *Server) executeSelect(ctx context.Context, query string, oids []uint32, writer wire.DataWriter, params []wire.Parameter) (err error) {
	var rows [][]any
	_, done := s.config.Telemetry.StartQuery(ctx, query)
	defer func() { done(len(rows), err) }()

	s.database.Lock()
	rows, err = s.collect(query, parameterValues(params)...)
	s.database.Unlock()
	if err != nil {
		return err
	}

	for _, row := range rows {
		for i, v := range row {
			if i >= len(oids) {
				break
			}
			if row[i], err = encodeValue(oids[i], v); err != nil {
				return fmt.Errorf("column %d: %w", i+1, err)
			}
		}
		if err := writer.Row(row); err != nil {
			return err
		}
	}

	return writer.Complete(selectTag(len(rows)))
}

// executeExec runs a statement without result columns. Without parameters
// the whole query string is executed, so scripts of several statements work.
func (s *Server) executeExec(ctx context.Context, query string, writer wire.DataWriter, params []wire.Parameter) (err error) {
	changes := 0
	_, done := s.config.Telemetry.StartQuery(ctx, query)
	defer func() { done(changes, err) }()

	args := parameterValues(params)
	conn := s.database.Conn

	s.database.Lock()
	if len(args) == 0 {
		err = conn.Exec(query)
	} else {
		_, err = s.collect(query, args...)
	}
	if err == nil {
		changes = conn.Changes()
	}
	s.database.Unlock()
	if err != nil {
		return err
	}

	return writer.Complete(commandTag(query, changes))
}

// collect runs query and returns every row. The caller holds the database
// lock.
func (s *Server) collect(query string, args ...any) ([][]any, error) {
	stmt, err := s.database.Conn.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer stmt.Finalize()

	if len(args) > 0 {
		if err := stmt.Bind(args...); err != nil {
			return nil, fmt.Errorf("failed to bind parameters: %w", err)
		}
	}

	var rows [][]any
	for {
		ok, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		rows = append(rows, stmt.Row())
	}
}

// parameterValues converts wire parameters to bind arguments. Values arrive
// in text form and SQLite's column affinity converts them on comparison and
// storage.
func parameterValues(params []wire.Parameter) []any {
	args := make([]any, len(params))
	for i, p := range params {
		if v := p.Value(); v != nil {
			args[i] = string(v)
		}
	}
	return args
}

func selectTag(n int) string {
	return "SELECT " + strconv.Itoa(n)
}

// commandTag builds the CommandComplete tag PostgreSQL clients expect.
func commandTag(query string, changes int) string {
	op := observability.Operation(query)
	switch op {
	case "INSERT":
		return fmt.Sprintf("INSERT 0 %d", changes)
	case "UPDATE", "DELETE":
		return fmt.Sprintf("%s %d", op, changes)
	case "CREATE", "DROP", "ALTER":
		fields := strings.Fields(query)
		if len(fields) > 1 {
			return op + " " + strings.ToUpper(strings.TrimRight(fields[1], ";"))
		}
	}
	return op
}
