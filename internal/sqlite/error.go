package sqlite

import (
	"fmt"

	"modernc.org/libc"
	sqlite3 "modernc.org/sqlite/lib"
)

// Error is an engine status code together with the engine's message for it.
type Error struct {
	msg  string
	code int
}

// Error implements error.
func (e *Error) Error() string { return e.msg }

// Code returns the engine result code. Extended result codes are enabled on
// every connection, so the low byte holds the primary code.
func (e *Error) Code() int { return e.code }

// Status codes callers commonly compare against.
const (
	OK     = sqlite3.SQLITE_OK
	ERROR  = sqlite3.SQLITE_ERROR
	NOMEM  = sqlite3.SQLITE_NOMEM
	MISUSE = sqlite3.SQLITE_MISUSE
)

// errstr builds an *Error from rc and the connection's last error message.
func (c *Conn) errstr(rc int32) error {
	str := libc.GoString(sqlite3.Xsqlite3_errstr(c.tls, rc))
	msg := libc.GoString(sqlite3.Xsqlite3_errmsg(c.tls, c.db))
	if msg == str || msg == "" {
		return &Error{msg: fmt.Sprintf("%s (%d)", str, rc), code: int(rc)}
	}
	return &Error{msg: fmt.Sprintf("%s: %s (%d)", str, msg, rc), code: int(rc)}
}

// StatusError converts a raw status into an error, or nil for OK.
func (c *Conn) StatusError(rc int32) error {
	if rc == sqlite3.SQLITE_OK {
		return nil
	}
	return c.errstr(rc)
}
