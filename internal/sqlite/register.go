package sqlite

import (
	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// wiring is the set of callbacks handed to the engine for one function.
// A zero field leaves that callback unwired.
type wiring struct {
	xFunc  uintptr
	xStep  uintptr
	xFinal uintptr
}

// wire decides which trampolines a registration uses. A negative position
// wires nothing and so removes the function.
func wire(position int, aggregate bool) wiring {
	switch {
	case position < 0:
		return wiring{}
	case aggregate:
		return wiring{
			xStep:  cFuncPointer(stepTrampoline),
			xFinal: cFuncPointer(finalTrampoline),
		}
	default:
		return wiring{xFunc: cFuncPointer(scalarTrampoline)}
	}
}

// Register creates, replaces or (with a negative position) removes the SQL
// function name on this connection. The function accepts any number of
// arguments in any text encoding. position is stored as the function's user
// data and comes back through Context.UserData on every call; the connection
// never interprets it otherwise. The engine's status code is returned as is.
func (c *Conn) Register(name string, position int, aggregate bool) int32 {
	cname, err := libc.CString(name)
	if err != nil {
		return sqlite3.SQLITE_NOMEM
	}
	defer c.free(cname)

	var pApp uintptr
	if position >= 0 {
		pApp = uintptr(position)
	}
	w := wire(position, aggregate)
	return sqlite3.Xsqlite3_create_function(c.tls, c.db, cname, -1, sqlite3.SQLITE_ANY, pApp,
		w.xFunc, w.xStep, w.xFinal)
}
