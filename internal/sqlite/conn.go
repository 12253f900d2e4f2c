// Package sqlite binds Go code to the embedded SQLite engine: it opens
// connections, prepares and steps statements, wires user-defined SQL
// functions to three fixed callback trampolines and resolves extended column
// metadata.
//
// A Conn is not safe for concurrent use. Registration, statement execution
// and every callback it triggers run on the goroutine that drives the
// connection; callers sharing a Conn must serialize access themselves.
package sqlite

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"modernc.org/libc"
	"modernc.org/libc/sys/types"
	sqlite3 "modernc.org/sqlite/lib"
)

const ptrSize = unsafe.Sizeof(uintptr(0))

// conns routes engine callbacks back to the Conn that owns the native
// database handle.
var conns = struct {
	mu sync.RWMutex
	m  map[uintptr]*Conn
}{
	m: make(map[uintptr]*Conn),
}

func lookupConn(db uintptr) *Conn {
	conns.mu.RLock()
	defer conns.mu.RUnlock()
	return conns.m[db]
}

// Conn is an open database connection.
type Conn struct {
	tls *libc.TLS
	db  uintptr

	dispatcher Dispatcher
	handles    *handleTable
	nextAggID  uint64
}

// Open opens the database at path, creating it if needed. URI filenames and
// ":memory:" are accepted.
func Open(path string) (*Conn, error) {
	c := &Conn{
		tls:     libc.NewTLS(),
		handles: newHandleTable(),
	}
	c.dispatcher = unboundDispatcher{conn: c}

	db, err := c.openV2(path, sqlite3.SQLITE_OPEN_READWRITE|sqlite3.SQLITE_OPEN_CREATE|
		sqlite3.SQLITE_OPEN_FULLMUTEX|sqlite3.SQLITE_OPEN_URI)
	if err != nil {
		c.tls.Close()
		return nil, err
	}
	c.db = db

	if rc := sqlite3.Xsqlite3_extended_result_codes(c.tls, c.db, 1); rc != sqlite3.SQLITE_OK {
		err := c.errstr(rc)
		c.Close()
		return nil, err
	}

	conns.mu.Lock()
	conns.m[c.db] = c
	conns.mu.Unlock()
	return c, nil
}

func (c *Conn) openV2(name string, flags int32) (uintptr, error) {
	p, err := c.malloc(int(ptrSize))
	if err != nil {
		return 0, err
	}
	defer c.free(p)

	s, err := libc.CString(name)
	if err != nil {
		return 0, err
	}
	defer c.free(s)

	rc := sqlite3.Xsqlite3_open_v2(c.tls, s, p, flags, 0)
	db := *(*uintptr)(unsafe.Pointer(p))
	if rc != sqlite3.SQLITE_OK {
		c.db = db
		err := c.errstr(rc)
		if db != 0 {
			sqlite3.Xsqlite3_close_v2(c.tls, db)
		}
		c.db = 0
		return 0, err
	}
	return db, nil
}

// Close closes the connection. Functions registered on it go away with it.
func (c *Conn) Close() error {
	if c.db != 0 {
		conns.mu.Lock()
		delete(conns.m, c.db)
		conns.mu.Unlock()

		if rc := sqlite3.Xsqlite3_close_v2(c.tls, c.db); rc != sqlite3.SQLITE_OK {
			return c.errstr(rc)
		}
		c.db = 0
	}
	if c.tls != nil {
		c.tls.Close()
		c.tls = nil
	}
	return nil
}

// SetDispatcher installs the dispatcher that receives every function
// callback on this connection. A nil dispatcher reports an error result for
// every call.
func (c *Conn) SetDispatcher(d Dispatcher) {
	if d == nil {
		d = unboundDispatcher{conn: c}
	}
	c.dispatcher = d
}

// Exec runs one or more SQL statements that return no rows.
func (c *Conn) Exec(sql string) error {
	s, err := libc.CString(sql)
	if err != nil {
		return err
	}
	defer c.free(s)

	if rc := sqlite3.Xsqlite3_exec(c.tls, c.db, s, 0, 0, 0); rc != sqlite3.SQLITE_OK {
		return c.errstr(rc)
	}
	return nil
}

// Prepare compiles the first statement in sql.
func (c *Conn) Prepare(sql string) (*Stmt, error) {
	s, err := libc.CString(sql)
	if err != nil {
		return nil, err
	}
	defer c.free(s)

	pp, err := c.malloc(int(ptrSize))
	if err != nil {
		return nil, err
	}
	defer c.free(pp)

	if rc := sqlite3.Xsqlite3_prepare_v2(c.tls, c.db, s, -1, pp, 0); rc != sqlite3.SQLITE_OK {
		return nil, c.errstr(rc)
	}
	pstmt := *(*uintptr)(unsafe.Pointer(pp))
	if pstmt == 0 {
		return nil, fmt.Errorf("sqlite: no statement in %q", sql)
	}
	return &Stmt{conn: c, ptr: pstmt}, nil
}

// BusyTimeout sets how long the engine retries before reporting SQLITE_BUSY.
func (c *Conn) BusyTimeout(d time.Duration) error {
	if rc := sqlite3.Xsqlite3_busy_timeout(c.tls, c.db, int32(d/time.Millisecond)); rc != sqlite3.SQLITE_OK {
		return c.errstr(rc)
	}
	return nil
}

// Changes reports the rows modified by the most recent statement.
func (c *Conn) Changes() int {
	return int(sqlite3.Xsqlite3_changes(c.tls, c.db))
}

// LastInsertRowID reports the rowid of the most recent insert.
func (c *Conn) LastInsertRowID() int64 {
	return sqlite3.Xsqlite3_last_insert_rowid(c.tls, c.db)
}

func (c *Conn) malloc(n int) (uintptr, error) {
	if p := libc.Xmalloc(c.tls, types.Size_t(n)); p != 0 || n == 0 {
		return p, nil
	}
	return 0, fmt.Errorf("sqlite: cannot allocate %d bytes of memory", n)
}

func (c *Conn) free(p uintptr) {
	if p != 0 {
		libc.Xfree(c.tls, p)
	}
}

// Context exchanges a context handle for the function context it stands
// for. It reports false once the callback that minted the handle returned.
func (c *Conn) Context(h Handle) (Context, bool) {
	p, ok := c.handles.lookup(contextHandle, h)
	if !ok {
		return Context{}, false
	}
	return Context{conn: c, ptr: p}, true
}

// Value exchanges an argument handle for the value it stands for.
func (c *Conn) Value(h Handle) (Value, bool) {
	p, ok := c.handles.lookup(valueHandle, h)
	if !ok {
		return Value{}, false
	}
	return Value{tls: c.tls, ptr: p}, true
}

// Values exchanges every handle in hs. It reports false if any is stale.
func (c *Conn) Values(hs []Handle) ([]Value, bool) {
	vals := make([]Value, len(hs))
	for i, h := range hs {
		v, ok := c.Value(h)
		if !ok {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

// unboundDispatcher fails every call; it is installed until a real
// dispatcher is set.
type unboundDispatcher struct {
	conn *Conn
}

func (d unboundDispatcher) Dispatch(call Call) {
	if ctx, ok := d.conn.Context(call.Context()); ok {
		ctx.ResultError(fmt.Sprintf("sqlite: no dispatcher bound for %s call", call.Kind()))
	}
}
