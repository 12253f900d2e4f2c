package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/markb/sqlbridge/internal/schema"
	"github.com/markb/sqlbridge/internal/sqlite"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type FunctionInfo struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Position int    `json:"position"`
	Usage    string `json:"usage,omitempty"`
}

type ColumnInfo struct {
	Name          string `json:"name"`
	DeclType      string `json:"decl_type"`
	TableName     string `json:"table_name,omitempty"`
	ColumnName    string `json:"column_name,omitempty"`
	NotNull       bool   `json:"not_null"`
	PrimaryKey    bool   `json:"primary_key"`
	AutoIncrement bool   `json:"autoincrement"`
}

type QueryRequest struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args,omitempty"`
}

type QueryResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Changes int      `json:"changes"`
}

// errForbidden marks statements the caller's key may not run.
var errForbidden = errors.New("statement modifies the database")

func (s *Server) writeError(w http.ResponseWriter, status int, errCode, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

func (s *Server) handleFunctions(w http.ResponseWriter, r *http.Request) {
	s.db.Lock()
	registry := s.db.Functions
	infos := make([]FunctionInfo, 0, registry.Len())
	for _, name := range registry.Names() {
		def, _ := registry.Lookup(name)
		pos, _ := registry.Position(name)
		infos = append(infos, FunctionInfo{Name: name, Kind: def.Kind(), Position: pos, Usage: def.Usage})
	}
	s.db.Unlock()

	json.NewEncoder(w).Encode(infos)
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	s.db.Lock()
	cols, err := schema.Describe(s.db.Conn, req.SQL)
	s.db.Unlock()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	infos := make([]ColumnInfo, len(cols))
	for i, c := range cols {
		infos[i] = ColumnInfo{
			Name:          c.Name,
			DeclType:      c.DeclType,
			TableName:     c.TableName,
			ColumnName:    c.ColumnName,
			NotNull:       c.NotNull,
			PrimaryKey:    c.IsPrimary,
			AutoIncrement: c.AutoIncrement,
		}
	}
	json.NewEncoder(w).Encode(infos)
}

// handleQuery runs the first statement of the request. anon keys may only
// run read-only statements.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	var resp *QueryResponse
	var err error
	_, done := s.telemetry.StartQuery(r.Context(), req.SQL)
	defer func() {
		rows := 0
		if resp != nil {
			rows = len(resp.Rows)
		}
		done(rows, err)
	}()

	s.db.Lock()
	resp, err = s.run(req, apiKeyType(r).CanWrite())
	s.db.Unlock()

	var sqliteErr *sqlite.Error
	switch {
	case errors.Is(err, errForbidden):
		s.writeError(w, http.StatusForbidden, "read_only", "This API key may only run read-only statements")
	case errors.As(err, &sqliteErr):
		s.writeError(w, http.StatusBadRequest, "query_failed", err.Error())
	case err != nil:
		s.writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
	default:
		json.NewEncoder(w).Encode(resp)
	}
}

// run executes req on the connection. The caller holds the database lock.
func (s *Server) run(req QueryRequest, canWrite bool) (*QueryResponse, error) {
	conn := s.db.Conn
	stmt, err := conn.Prepare(req.SQL)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Finalize()

	if !canWrite && !stmt.ReadOnly() {
		return nil, errForbidden
	}

	args, err := bindArgs(req.Args)
	if err != nil {
		return nil, err
	}
	if err := stmt.Bind(args...); err != nil {
		return nil, fmt.Errorf("failed to bind arguments: %w", err)
	}

	resp := &QueryResponse{
		Columns: make([]string, stmt.ColumnCount()),
		Rows:    [][]any{},
	}
	for i := range resp.Columns {
		resp.Columns[i] = stmt.ColumnName(i)
	}
	for {
		ok, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		resp.Rows = append(resp.Rows, stmt.Row())
	}
	if !stmt.ReadOnly() {
		resp.Changes = conn.Changes()
	}
	return resp, nil
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (QueryRequest, bool) {
	var req QueryRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return req, false
	}
	if req.SQL == "" {
		s.writeError(w, http.StatusBadRequest, "validation_failed", "sql is required")
		return req, false
	}
	return req, true
}

// bindArgs converts decoded JSON values to bind arguments. Whole numbers
// bind as integers.
func bindArgs(in []any) ([]any, error) {
	out := make([]any, len(in))
	for i, v := range in {
		switch x := v.(type) {
		case json.Number:
			if n, err := x.Int64(); err == nil {
				out[i] = n
			} else if f, err := x.Float64(); err == nil {
				out[i] = f
			} else {
				return nil, fmt.Errorf("argument %d: invalid number %s", i+1, x)
			}
		case nil, string, bool:
			out[i] = x
		default:
			return nil, fmt.Errorf("argument %d: unsupported %T value", i+1, x)
		}
	}
	return out, nil
}
