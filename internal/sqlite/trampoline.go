package sqlite

import (
	"fmt"
	"unsafe"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// The engine calls one of three fixed entry points for every registered
// function, whatever the number of functions. Each entry point exchanges the
// native context and argument pointers for handles, forwards a tagged Call to
// the connection's Dispatcher and returns. Results and errors travel back
// only through the Context the dispatcher resolves.

func scalarTrampoline(tls *libc.TLS, ctx uintptr, argc int32, argv uintptr) {
	c := callbackConn(tls, ctx)
	if c == nil {
		return
	}
	h, args := c.handles.enter(ctx, valuePointers(argc, argv))
	defer c.leave(ctx, h, args)
	forwardScalar(c.dispatcher, h, args)
}

func stepTrampoline(tls *libc.TLS, ctx uintptr, argc int32, argv uintptr) {
	c := callbackConn(tls, ctx)
	if c == nil {
		return
	}
	h, args := c.handles.enter(ctx, valuePointers(argc, argv))
	defer c.leave(ctx, h, args)
	forwardStep(c.dispatcher, h, args)
}

func finalTrampoline(tls *libc.TLS, ctx uintptr) {
	c := callbackConn(tls, ctx)
	if c == nil {
		return
	}
	h, _ := c.handles.enter(ctx, nil)
	defer c.leave(ctx, h, nil)
	forwardFinal(c.dispatcher, h)
}

// leave releases the callback's handles. A panic must not unwind through
// the engine's frames, so it is turned into an error result here.
func (c *Conn) leave(ctx uintptr, h Handle, args []Handle) {
	c.handles.leave(h, args)
	if r := recover(); r != nil {
		Context{conn: c, ptr: ctx}.ResultError(fmt.Sprintf("sqlite: function panicked: %v", r))
	}
}

func forwardScalar(d Dispatcher, ctx Handle, args []Handle) {
	d.Dispatch(ScalarCall{Ctx: ctx, Argv: args})
}

func forwardStep(d Dispatcher, ctx Handle, args []Handle) {
	d.Dispatch(StepCall{Ctx: ctx, Argv: args})
}

func forwardFinal(d Dispatcher, ctx Handle) {
	d.Dispatch(FinalCall{Ctx: ctx})
}

// callbackConn finds the connection a callback runs on. A callback for a
// connection that is not (or no longer) open gets an error result and nil.
func callbackConn(tls *libc.TLS, ctx uintptr) *Conn {
	c := lookupConn(sqlite3.Xsqlite3_context_db_handle(tls, ctx))
	if c == nil {
		msg := "sqlite: function called on unknown connection"
		if p, err := libc.CString(msg); err == nil {
			sqlite3.Xsqlite3_result_error(tls, ctx, p, int32(len(msg)))
			libc.Xfree(tls, p)
		}
	}
	return c
}

// valuePointers reads the engine's sqlite3_value* array.
func valuePointers(argc int32, argv uintptr) []uintptr {
	if argc <= 0 || argv == 0 {
		return nil
	}
	ptrs := make([]uintptr, argc)
	for i := range ptrs {
		ptrs[i] = *(*uintptr)(unsafe.Pointer(argv + uintptr(i)*ptrSize))
	}
	return ptrs
}

// cFuncPointer converts a function defined by a function declaration to a C
// pointer, assuming the representation described in
// https://golang.org/s/go11func. The result of using it on closures is
// undefined.
func cFuncPointer[T any](f T) uintptr {
	return *(*uintptr)(unsafe.Pointer(&struct{ f T }{f}))
}
