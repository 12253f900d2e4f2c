// Package schema describes the result columns of a statement: their names,
// declared types, origin and the nullability, primary key and autoincrement
// flags of the base-table column they come from.
package schema

import (
	"fmt"
	"strings"

	"github.com/markb/sqlbridge/internal/sqlite"
)

// Column represents metadata for a single result column.
type Column struct {
	Name          string // Result column name, the alias if any
	DeclType      string // Declared type of the origin column, "" for expressions
	TableName     string // Origin table, "" for expressions
	ColumnName    string // Origin column, "" for expressions
	NotNull       bool   // Origin column is declared NOT NULL
	IsPrimary     bool   // Origin column is part of the primary key
	AutoIncrement bool   // Origin column is an AUTOINCREMENT rowid alias
}

// HasOrigin reports whether the column is taken directly from a table.
func (c Column) HasOrigin() bool {
	return c.TableName != "" && c.ColumnName != ""
}

// IsNullable reports whether the column may hold NULL. Expressions are
// always considered nullable.
func (c Column) IsNullable() bool {
	return !c.NotNull
}

// Describe prepares sql on conn and describes its result columns. Only the
// first statement of sql is considered and it is never stepped.
func Describe(conn *sqlite.Conn, sql string) ([]Column, error) {
	stmt, err := conn.Prepare(sql)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Finalize()
	return DescribeStmt(conn, stmt)
}

// DescribeStmt describes the result columns of a prepared statement.
func DescribeStmt(conn *sqlite.Conn, stmt *sqlite.Stmt) ([]Column, error) {
	cols := make([]Column, stmt.ColumnCount())
	for i := range cols {
		md, rc := conn.ResolveColumnMetadata(stmt, i)
		if rc != sqlite.OK {
			return nil, fmt.Errorf("failed to resolve metadata for column %d (%s): %w",
				i, stmt.ColumnName(i), conn.StatusError(rc))
		}
		cols[i] = Column{
			Name:          stmt.ColumnName(i),
			DeclType:      stmt.ColumnDeclType(i),
			TableName:     stmt.ColumnTableName(i),
			ColumnName:    stmt.ColumnOriginName(i),
			NotNull:       md.NotNull,
			IsPrimary:     md.PrimaryKey,
			AutoIncrement: md.Autoincrement,
		}
	}
	return cols, nil
}

// Table describes every column of table in declaration order.
func Table(conn *sqlite.Conn, table string) ([]Column, error) {
	cols, err := Describe(conn, "SELECT * FROM "+quoteIdent(table))
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	return cols, nil
}

// quoteIdent quotes an identifier for use in SQL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
