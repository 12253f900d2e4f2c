package sqlite

import (
	"fmt"
	"unsafe"

	sqlite3 "modernc.org/sqlite/lib"
)

// ColumnMetadata is the schema information the result-set API does not
// expose directly. The zero value means "unknown": callers must not read it
// as an error.
type ColumnMetadata struct {
	NotNull       bool
	PrimaryKey    bool
	Autoincrement bool
}

// ResolveColumnMetadata looks up the origin database, table and column of
// result column col of stmt and queries that database's schema for them.
// Columns without an origin (expressions, computed columns, view columns
// with no base table) yield the zero ColumnMetadata and OK. Otherwise the
// schema lookup's status is returned as is.
func (c *Conn) ResolveColumnMetadata(stmt *Stmt, col int) (ColumnMetadata, int32) {
	var md ColumnMetadata

	zDb := sqlite3.Xsqlite3_column_database_name(c.tls, stmt.ptr, int32(col))
	zTable := sqlite3.Xsqlite3_column_table_name(c.tls, stmt.ptr, int32(col))
	zColumn := sqlite3.Xsqlite3_column_origin_name(c.tls, stmt.ptr, int32(col))
	if zTable == 0 || zColumn == 0 {
		return md, sqlite3.SQLITE_OK
	}

	// notNull, primaryKey, autoinc
	const flagSize = int(unsafe.Sizeof(int32(0)))
	p, err := c.malloc(3 * flagSize)
	if err != nil {
		return md, sqlite3.SQLITE_NOMEM
	}
	defer c.free(p)
	flags := (*[3]int32)(unsafe.Pointer(p))
	*flags = [3]int32{}

	rc := sqlite3.Xsqlite3_table_column_metadata(c.tls, c.db, zDb, zTable, zColumn, 0, 0,
		p, p+uintptr(flagSize), p+uintptr(2*flagSize))
	if rc != sqlite3.SQLITE_OK {
		return md, rc
	}
	md.NotNull = flags[0] != 0
	md.PrimaryKey = flags[1] != 0
	md.Autoincrement = flags[2] != 0
	return md, rc
}

// ColumnMetadata is ResolveColumnMetadata with the status turned into an
// error.
func (s *Stmt) ColumnMetadata(col int) (ColumnMetadata, error) {
	md, rc := s.conn.ResolveColumnMetadata(s, col)
	if rc != sqlite3.SQLITE_OK {
		return md, fmt.Errorf("column %d: %w", col, s.conn.errstr(rc))
	}
	return md, nil
}
