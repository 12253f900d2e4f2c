package sqlite

import (
	"fmt"
	"time"
	"unsafe"

	"modernc.org/libc"
	"modernc.org/libc/sys/types"
	sqlite3 "modernc.org/sqlite/lib"
)

// Context is the engine's execution context for one function callback. It
// is obtained from a Handle with Conn.Context and is only valid until the
// callback returns.
type Context struct {
	conn *Conn
	ptr  uintptr
}

// Conn returns the connection running the function.
func (ctx Context) Conn() *Conn { return ctx.conn }

// UserData returns the position the function was registered with.
func (ctx Context) UserData() int {
	return int(sqlite3.Xsqlite3_user_data(ctx.conn.tls, ctx.ptr))
}

// AggregateID returns an identifier that stays the same for every step and
// the final call of one aggregate group, and differs between groups. It
// reports false if the engine could not allocate the group's state.
func (ctx Context) AggregateID() (uint64, bool) {
	p := sqlite3.Xsqlite3_aggregate_context(ctx.conn.tls, ctx.ptr, int32(unsafe.Sizeof(uint64(0))))
	if p == 0 {
		return 0, false
	}
	id := (*uint64)(unsafe.Pointer(p))
	if *id == 0 {
		ctx.conn.nextAggID++
		*id = ctx.conn.nextAggID
	}
	return *id, true
}

// ResultNull sets the function result to NULL.
func (ctx Context) ResultNull() {
	sqlite3.Xsqlite3_result_null(ctx.conn.tls, ctx.ptr)
}

// ResultInt64 sets an integer result.
func (ctx Context) ResultInt64(v int64) {
	sqlite3.Xsqlite3_result_int64(ctx.conn.tls, ctx.ptr, v)
}

// ResultFloat sets a floating point result.
func (ctx Context) ResultFloat(v float64) {
	sqlite3.Xsqlite3_result_double(ctx.conn.tls, ctx.ptr, v)
}

// ResultText sets a text result. The engine keeps its own copy.
func (ctx Context) ResultText(v string) {
	tls := ctx.conn.tls
	p, err := libc.CString(v)
	if err != nil {
		sqlite3.Xsqlite3_result_error_nomem(tls, ctx.ptr)
		return
	}
	defer libc.Xfree(tls, p)
	sqlite3.Xsqlite3_result_text(tls, ctx.ptr, p, int32(len(v)), sqlite3.SQLITE_TRANSIENT)
}

// ResultBlob sets a blob result. The engine keeps its own copy.
func (ctx Context) ResultBlob(v []byte) {
	tls := ctx.conn.tls
	if len(v) == 0 {
		sqlite3.Xsqlite3_result_zeroblob(tls, ctx.ptr, 0)
		return
	}
	p := libc.Xmalloc(tls, types.Size_t(len(v)))
	if p == 0 {
		sqlite3.Xsqlite3_result_error_nomem(tls, ctx.ptr)
		return
	}
	defer libc.Xfree(tls, p)
	copy((*libc.RawMem)(unsafe.Pointer(p))[:len(v):len(v)], v)
	sqlite3.Xsqlite3_result_blob(tls, ctx.ptr, p, int32(len(v)), sqlite3.SQLITE_TRANSIENT)
}

// ResultError makes the current row fail with msg. The statement being
// stepped returns SQLITE_ERROR carrying the message.
func (ctx Context) ResultError(msg string) {
	tls := ctx.conn.tls
	p, err := libc.CString(msg)
	if err != nil {
		sqlite3.Xsqlite3_result_error_nomem(tls, ctx.ptr)
		return
	}
	defer libc.Xfree(tls, p)
	sqlite3.Xsqlite3_result_error(tls, ctx.ptr, p, int32(len(msg)))
	sqlite3.Xsqlite3_result_error_code(tls, ctx.ptr, sqlite3.SQLITE_ERROR)
}

// ResultErrorCode overrides the error code reported for the current row.
func (ctx Context) ResultErrorCode(code int) {
	sqlite3.Xsqlite3_result_error_code(ctx.conn.tls, ctx.ptr, int32(code))
}

// Result sets the function result from a Go value. Supported types are nil,
// int, int32, int64, float64, bool, string, []byte and time.Time (stored as
// unix seconds). Other types leave the result unset and return an error.
func (ctx Context) Result(v any) error {
	switch v := v.(type) {
	case nil:
		ctx.ResultNull()
	case int:
		ctx.ResultInt64(int64(v))
	case int32:
		ctx.ResultInt64(int64(v))
	case int64:
		ctx.ResultInt64(v)
	case float64:
		ctx.ResultFloat(v)
	case bool:
		if v {
			ctx.ResultInt64(1)
		} else {
			ctx.ResultInt64(0)
		}
	case string:
		ctx.ResultText(v)
	case []byte:
		ctx.ResultBlob(v)
	case time.Time:
		ctx.ResultInt64(v.Unix())
	default:
		return fmt.Errorf("sqlite: unsupported function result type %T", v)
	}
	return nil
}
