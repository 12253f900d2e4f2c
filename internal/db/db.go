// Package db opens configured SQLite connections together with their user
// function registry.
package db

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/markb/sqlbridge/internal/function"
	"github.com/markb/sqlbridge/internal/sqlite"
)

// Config controls how a database is opened.
type Config struct {
	Path        string
	JournalMode string // "wal", "delete", "memory", ...; "" leaves the default
	ForeignKeys bool
	BusyTimeout time.Duration
	Builtins    bool // register the built-in function library
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() Config {
	return Config{
		JournalMode: "wal",
		ForeignKeys: true,
		BusyTimeout: 5 * time.Second,
		Builtins:    true,
	}
}

var journalModes = map[string]bool{
	"delete": true, "truncate": true, "persist": true,
	"memory": true, "wal": true, "off": true,
}

// DB is an open connection and the registry serving its user functions.
// Servers that share a DB between goroutines hold its lock around every use
// of Conn.
type DB struct {
	sync.Mutex

	Conn      *sqlite.Conn
	Functions *function.Registry
	Path      string
}

// Open opens cfg.Path, applies the pragmas and installs a function
// registry. opts are passed on to the registry.
func Open(cfg Config, opts ...function.Option) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("failed to open database: no path given")
	}

	conn, err := sqlite.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.BusyTimeout > 0 {
		if err := conn.BusyTimeout(cfg.BusyTimeout); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	// Enable WAL mode for concurrent reads
	if cfg.JournalMode != "" {
		if !journalModes[strings.ToLower(cfg.JournalMode)] {
			conn.Close()
			return nil, fmt.Errorf("failed to set journal mode: unknown mode %q", cfg.JournalMode)
		}
		if err := conn.Exec("PRAGMA journal_mode=" + strings.ToUpper(cfg.JournalMode)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set journal mode %s: %w", cfg.JournalMode, err)
		}
	}

	if cfg.ForeignKeys {
		if err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	registry := function.NewRegistry(conn, opts...)
	if cfg.Builtins {
		if err := function.RegisterBuiltins(registry); err != nil {
			conn.Close()
			return nil, err
		}
	}

	return &DB{Conn: conn, Functions: registry, Path: cfg.Path}, nil
}

// Close closes the connection.
func (db *DB) Close() error {
	return db.Conn.Close()
}
