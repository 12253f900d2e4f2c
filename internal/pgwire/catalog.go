package pgwire

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	wire "github.com/jeroenrinzema/psql-wire"
)

var (
	versionPattern         = regexp.MustCompile(`^SELECT\s+VERSION\s*\(\s*\)`)
	currentDatabasePattern = regexp.MustCompile(`CURRENT_DATABASE\s*\(\s*\)`)
	currentUserPattern     = regexp.MustCompile(`CURRENT_USER|CURRENT_SCHEMA`)
	pgTablePattern         = regexp.MustCompile(`FROM\s+PG_`)
)

// settings answers SHOW for the parameters clients commonly probe.
var settings = map[string]string{
	"server_version":              "15.0",
	"server_encoding":             "UTF8",
	"client_encoding":             "UTF8",
	"standard_conforming_strings": "on",
	"datestyle":                   "ISO, MDY",
	"timezone":                    "UTC",
	"transaction_isolation":       "serializable",
	"search_path":                 "public",
}

// catalogHandler answers the PostgreSQL catalog probes psql and GUI tools
// send on connect. It returns nil for queries that should reach SQLite.
func (s *Server) catalogHandler(query string) wire.PreparedStatements {
	upper := strings.ToUpper(strings.TrimSpace(query))

	switch {
	case versionPattern.MatchString(upper):
		return singleValue("version", "sqlbridge "+versionString+", compatible with PostgreSQL 15.0")
	case currentDatabasePattern.MatchString(upper):
		return singleValue("current_database", s.databaseName())
	case currentUserPattern.MatchString(upper):
		return singleValue("current_user", "sqlbridge")
	case strings.Contains(upper, "INFORMATION_SCHEMA.TABLES"):
		return s.tablesQuery()
	case strings.Contains(upper, "PG_CATALOG"),
		strings.Contains(upper, "INFORMATION_SCHEMA"),
		pgTablePattern.MatchString(upper):
		return emptyResult()
	case strings.HasPrefix(upper, "SET "):
		return commandOnly("SET")
	case strings.HasPrefix(upper, "SHOW "):
		return showQuery(query)
	}
	return nil
}

func (s *Server) databaseName() string {
	name := filepath.Base(s.database.Path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func singleValue(column, value string) wire.PreparedStatements {
	return wire.Prepared(
		wire.NewStatement(
			func(ctx context.Context, writer wire.DataWriter, params []wire.Parameter) error {
				if err := writer.Row([]any{value}); err != nil {
					return err
				}
				return writer.Complete("SELECT 1")
			},
			wire.WithColumns(wire.Columns{
				{Name: column, Oid: pgtype.TextOID, Width: -1},
			}),
		),
	)
}

func emptyResult() wire.PreparedStatements {
	return commandOnly("SELECT 0")
}

func commandOnly(tag string) wire.PreparedStatements {
	return wire.Prepared(
		wire.NewStatement(
			func(ctx context.Context, writer wire.DataWriter, params []wire.Parameter) error {
				return writer.Complete(tag)
			},
		),
	)
}

// showQuery answers SHOW <name>. Unknown settings report "unknown".
func showQuery(query string) wire.PreparedStatements {
	fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	name := "setting"
	if len(fields) > 1 {
		name = strings.ToLower(strings.Join(fields[1:], "_"))
	}
	if name == "transaction_isolation_level" {
		name = "transaction_isolation"
	}
	value, ok := settings[name]
	if !ok {
		value = "unknown"
	}
	return singleValue(name, value)
}

// tablesQuery lists user tables and views in information_schema.tables shape.
func (s *Server) tablesQuery() wire.PreparedStatements {
	return wire.Prepared(
		wire.NewStatement(
			func(ctx context.Context, writer wire.DataWriter, params []wire.Parameter) error {
				s.database.Lock()
				rows, err := s.collect(`
					SELECT
						'public' AS table_schema,
						name AS table_name,
						CASE type WHEN 'table' THEN 'BASE TABLE' ELSE 'VIEW' END AS table_type
					FROM sqlite_master
					WHERE type IN ('table', 'view')
					AND name NOT LIKE 'sqlite_%'
					ORDER BY name
				`)
				s.database.Unlock()
				if err != nil {
					return err
				}
				for _, row := range rows {
					if err := writer.Row(row); err != nil {
						return err
					}
				}
				return writer.Complete(selectTag(len(rows)))
			},
			wire.WithColumns(wire.Columns{
				{Name: "table_schema", Oid: pgtype.TextOID, Width: -1},
				{Name: "table_name", Oid: pgtype.TextOID, Width: -1},
				{Name: "table_type", Oid: pgtype.TextOID, Width: -1},
			}),
		),
	)
}
