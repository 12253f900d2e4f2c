package sqlite

import (
	"fmt"
	"strconv"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// ColumnType is a storage class.
type ColumnType int

const (
	TypeInteger ColumnType = sqlite3.SQLITE_INTEGER
	TypeFloat   ColumnType = sqlite3.SQLITE_FLOAT
	TypeText    ColumnType = sqlite3.SQLITE_TEXT
	TypeBlob    ColumnType = sqlite3.SQLITE_BLOB
	TypeNull    ColumnType = sqlite3.SQLITE_NULL
)

func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeBlob:
		return "BLOB"
	case TypeNull:
		return "NULL"
	default:
		return "ColumnType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Value is a function argument. It is only valid during the callback that
// received it.
type Value struct {
	tls *libc.TLS
	ptr uintptr
}

// IsValid reports whether v refers to an engine value.
func (v Value) IsValid() bool { return v.ptr != 0 }

// Type returns the storage class of v.
func (v Value) Type() ColumnType {
	return ColumnType(sqlite3.Xsqlite3_value_type(v.tls, v.ptr))
}

// Int returns v converted to an int.
func (v Value) Int() int { return int(v.Int64()) }

// Int64 returns v converted to a 64-bit integer.
func (v Value) Int64() int64 {
	return sqlite3.Xsqlite3_value_int64(v.tls, v.ptr)
}

// Float returns v converted to a float64.
func (v Value) Float() float64 {
	return sqlite3.Xsqlite3_value_double(v.tls, v.ptr)
}

// Bytes returns the size of v's text or blob representation.
func (v Value) Bytes() int {
	return int(sqlite3.Xsqlite3_value_bytes(v.tls, v.ptr))
}

// Text returns v converted to a string.
func (v Value) Text() string {
	p := sqlite3.Xsqlite3_value_text(v.tls, v.ptr)
	n := v.Bytes()
	if p == 0 || n == 0 {
		return ""
	}
	return string((*libc.RawMem)(unsafe.Pointer(p))[:n:n])
}

// Blob returns a copy of v's bytes, or nil for an empty blob.
func (v Value) Blob() []byte {
	p := sqlite3.Xsqlite3_value_blob(v.tls, v.ptr)
	n := v.Bytes()
	if p == 0 || n == 0 {
		return nil
	}
	b := make([]byte, n)
	copy(b, (*libc.RawMem)(unsafe.Pointer(p))[:n:n])
	return b
}

// Interface returns v as int64, float64, string, []byte or nil according to
// its storage class.
func (v Value) Interface() any {
	switch t := v.Type(); t {
	case TypeInteger:
		return v.Int64()
	case TypeFloat:
		return v.Float()
	case TypeText:
		return v.Text()
	case TypeBlob:
		if b := v.Blob(); b != nil {
			return b
		}
		return []byte{}
	case TypeNull:
		return nil
	default:
		panic(fmt.Sprintf("sqlite: unexpected value type %v", t))
	}
}
