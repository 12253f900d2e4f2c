package sqlite

import (
	"fmt"
	"time"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// Stmt is a prepared statement.
type Stmt struct {
	conn *Conn
	ptr  uintptr
}

// Conn returns the connection the statement was prepared on.
func (s *Stmt) Conn() *Conn { return s.conn }

// Bind binds args to the statement's parameters, starting at index 1.
func (s *Stmt) Bind(args ...any) error {
	c := s.conn
	for i, arg := range args {
		idx := int32(i + 1)
		var rc int32
		switch v := arg.(type) {
		case nil:
			rc = sqlite3.Xsqlite3_bind_null(c.tls, s.ptr, idx)
		case int:
			rc = sqlite3.Xsqlite3_bind_int64(c.tls, s.ptr, idx, int64(v))
		case int32:
			rc = sqlite3.Xsqlite3_bind_int64(c.tls, s.ptr, idx, int64(v))
		case int64:
			rc = sqlite3.Xsqlite3_bind_int64(c.tls, s.ptr, idx, v)
		case float64:
			rc = sqlite3.Xsqlite3_bind_double(c.tls, s.ptr, idx, v)
		case bool:
			rc = sqlite3.Xsqlite3_bind_int64(c.tls, s.ptr, idx, int64(libc.Bool32(v)))
		case time.Time:
			rc = sqlite3.Xsqlite3_bind_int64(c.tls, s.ptr, idx, v.Unix())
		case string:
			p, err := libc.CString(v)
			if err != nil {
				return err
			}
			rc = sqlite3.Xsqlite3_bind_text(c.tls, s.ptr, idx, p, int32(len(v)), sqlite3.SQLITE_TRANSIENT)
			c.free(p)
		case []byte:
			if v == nil {
				rc = sqlite3.Xsqlite3_bind_null(c.tls, s.ptr, idx)
				break
			}
			if len(v) == 0 {
				rc = sqlite3.Xsqlite3_bind_zeroblob(c.tls, s.ptr, idx, 0)
				break
			}
			p, err := c.malloc(len(v))
			if err != nil {
				return err
			}
			copy((*libc.RawMem)(unsafe.Pointer(p))[:len(v):len(v)], v)
			rc = sqlite3.Xsqlite3_bind_blob(c.tls, s.ptr, idx, p, int32(len(v)), sqlite3.SQLITE_TRANSIENT)
			c.free(p)
		default:
			return fmt.Errorf("sqlite: unsupported bind type %T for parameter %d", arg, idx)
		}
		if rc != sqlite3.SQLITE_OK {
			return c.errstr(rc)
		}
	}
	return nil
}

// Step advances to the next row. It reports false when the statement is
// done. Errors raised by user functions surface here.
func (s *Stmt) Step() (bool, error) {
	switch rc := sqlite3.Xsqlite3_step(s.conn.tls, s.ptr); rc {
	case sqlite3.SQLITE_ROW:
		return true, nil
	case sqlite3.SQLITE_DONE:
		return false, nil
	default:
		return false, s.conn.errstr(rc)
	}
}

// Reset rewinds the statement so it can be stepped again. Bindings are kept.
func (s *Stmt) Reset() error {
	if rc := sqlite3.Xsqlite3_reset(s.conn.tls, s.ptr); rc != sqlite3.SQLITE_OK {
		return s.conn.errstr(rc)
	}
	return nil
}

// ClearBindings sets every parameter back to NULL.
func (s *Stmt) ClearBindings() error {
	if rc := sqlite3.Xsqlite3_clear_bindings(s.conn.tls, s.ptr); rc != sqlite3.SQLITE_OK {
		return s.conn.errstr(rc)
	}
	return nil
}

// Finalize destroys the statement.
func (s *Stmt) Finalize() error {
	if s.ptr == 0 {
		return nil
	}
	rc := sqlite3.Xsqlite3_finalize(s.conn.tls, s.ptr)
	s.ptr = 0
	if rc != sqlite3.SQLITE_OK {
		return s.conn.errstr(rc)
	}
	return nil
}

// ParamCount returns the number of bind parameters.
func (s *Stmt) ParamCount() int {
	return int(sqlite3.Xsqlite3_bind_parameter_count(s.conn.tls, s.ptr))
}

// ReadOnly reports whether the statement makes no direct changes to the
// database file.
func (s *Stmt) ReadOnly() bool {
	return sqlite3.Xsqlite3_stmt_readonly(s.conn.tls, s.ptr) != 0
}

// ColumnCount returns the number of result columns.
func (s *Stmt) ColumnCount() int {
	return int(sqlite3.Xsqlite3_column_count(s.conn.tls, s.ptr))
}

// ColumnName returns the name of result column i as it appears in the
// result set (the alias, if any).
func (s *Stmt) ColumnName(i int) string {
	return libc.GoString(sqlite3.Xsqlite3_column_name(s.conn.tls, s.ptr, int32(i)))
}

// ColumnDeclType returns the declared type of the column result column i
// comes from, or "" for expressions.
func (s *Stmt) ColumnDeclType(i int) string {
	return libc.GoString(sqlite3.Xsqlite3_column_decltype(s.conn.tls, s.ptr, int32(i)))
}

// ColumnDatabaseName returns the schema name ("main", "temp" or an attached
// name) of the origin table of result column i, or "" for expressions.
func (s *Stmt) ColumnDatabaseName(i int) string {
	return libc.GoString(sqlite3.Xsqlite3_column_database_name(s.conn.tls, s.ptr, int32(i)))
}

// ColumnTableName returns the origin table of result column i, or "" if the
// column is not taken directly from a table.
func (s *Stmt) ColumnTableName(i int) string {
	return libc.GoString(sqlite3.Xsqlite3_column_table_name(s.conn.tls, s.ptr, int32(i)))
}

// ColumnOriginName returns the origin column name of result column i, or ""
// if the column is not taken directly from a table.
func (s *Stmt) ColumnOriginName(i int) string {
	return libc.GoString(sqlite3.Xsqlite3_column_origin_name(s.conn.tls, s.ptr, int32(i)))
}

// ColumnType returns the storage class of column i in the current row.
func (s *Stmt) ColumnType(i int) ColumnType {
	return ColumnType(sqlite3.Xsqlite3_column_type(s.conn.tls, s.ptr, int32(i)))
}

// ColumnInt64 returns column i of the current row as an integer.
func (s *Stmt) ColumnInt64(i int) int64 {
	return sqlite3.Xsqlite3_column_int64(s.conn.tls, s.ptr, int32(i))
}

// ColumnFloat returns column i of the current row as a float64.
func (s *Stmt) ColumnFloat(i int) float64 {
	return sqlite3.Xsqlite3_column_double(s.conn.tls, s.ptr, int32(i))
}

// ColumnText returns column i of the current row as a string.
func (s *Stmt) ColumnText(i int) string {
	p := sqlite3.Xsqlite3_column_text(s.conn.tls, s.ptr, int32(i))
	n := int(sqlite3.Xsqlite3_column_bytes(s.conn.tls, s.ptr, int32(i)))
	if p == 0 || n == 0 {
		return ""
	}
	return string((*libc.RawMem)(unsafe.Pointer(p))[:n:n])
}

// ColumnBlob returns a copy of column i of the current row.
func (s *Stmt) ColumnBlob(i int) []byte {
	p := sqlite3.Xsqlite3_column_blob(s.conn.tls, s.ptr, int32(i))
	n := int(sqlite3.Xsqlite3_column_bytes(s.conn.tls, s.ptr, int32(i)))
	if p == 0 || n == 0 {
		return nil
	}
	b := make([]byte, n)
	copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:n:n])
	return b
}

// ColumnValue returns column i of the current row as int64, float64,
// string, []byte or nil according to its storage class.
func (s *Stmt) ColumnValue(i int) any {
	switch s.ColumnType(i) {
	case TypeInteger:
		return s.ColumnInt64(i)
	case TypeFloat:
		return s.ColumnFloat(i)
	case TypeText:
		return s.ColumnText(i)
	case TypeBlob:
		if b := s.ColumnBlob(i); b != nil {
			return b
		}
		return []byte{}
	default:
		return nil
	}
}

// Row returns every column of the current row.
func (s *Stmt) Row() []any {
	row := make([]any, s.ColumnCount())
	for i := range row {
		row[i] = s.ColumnValue(i)
	}
	return row
}
