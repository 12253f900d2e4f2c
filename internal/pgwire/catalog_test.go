package pgwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogHandler(t *testing.T) {
	srv, err := NewServer(setupTestDB(t), Config{Address: ":5437"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		query      string
		wantHandle bool // true if catalogHandler should handle this query
	}{
		// Should be handled by catalog
		{"version function", "SELECT VERSION()", true},
		{"version lowercase", "select version()", true},
		{"current_database", "SELECT CURRENT_DATABASE()", true},
		{"current_user", "SELECT CURRENT_USER", true},
		{"current_schema", "SELECT CURRENT_SCHEMA", true},
		{"pg_catalog query", "SELECT * FROM pg_catalog.pg_tables", true},
		{"pg_tables query", "SELECT * FROM pg_tables", true},
		{"information_schema.tables", "SELECT * FROM information_schema.tables", true},
		{"information_schema.columns", "SELECT * FROM information_schema.columns", true},
		{"SET statement", "SET client_encoding = 'UTF8'", true},
		{"SHOW server_version", "SHOW server_version", true},
		{"SHOW timezone", "SHOW timezone", true},

		// Should NOT be handled by catalog (regular queries)
		{"regular select", "SELECT * FROM users", false},
		{"user function", "SELECT double_it(id) FROM users", false},
		{"insert", "INSERT INTO users (name) VALUES ('test')", false},
		{"update", "UPDATE users SET name = 'new'", false},
		{"create table", "CREATE TABLE test (id INT)", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := srv.catalogHandler(tt.query)
			assert.Equal(t, tt.wantHandle, result != nil, "catalogHandler(%q)", tt.query)
		})
	}
}

func TestShowSettings(t *testing.T) {
	tests := []struct {
		query string
		name  string
		want  string
	}{
		{"SHOW server_version", "server_version", "15.0"},
		{"show client_encoding;", "client_encoding", "UTF8"},
		{"SHOW TimeZone", "timezone", "UTC"},
		{"SHOW DateStyle", "datestyle", "ISO, MDY"},
		{"SHOW TRANSACTION ISOLATION LEVEL", "transaction_isolation", "serializable"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, settings[tt.name], tt.query)
		assert.NotNil(t, showQuery(tt.query), tt.query)
	}
}

func TestDatabaseName(t *testing.T) {
	srv, err := NewServer(setupTestDB(t), Config{})
	require.NoError(t, err)
	assert.Equal(t, "bridge", srv.databaseName())
}
