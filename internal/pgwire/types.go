package pgwire

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// declTypeToOID maps declared column types that have a natural PostgreSQL
// counterpart. Anything else is resolved by SQLite's affinity rules.
var declTypeToOID = map[string]uint32{
	"BOOLEAN": pgtype.BoolOID,
	"BOOL":    pgtype.BoolOID,
	"VARCHAR": pgtype.VarcharOID,
	"BYTEA":   pgtype.ByteaOID,
	"BLOB":    pgtype.ByteaOID,
}

// GetOID returns the PostgreSQL OID for a declared SQLite column type. The
// affinity rules of SQLite decide when the name is not known: INT means
// int8, REAL/FLOA/DOUB means float8 and everything else, including
// expressions without a declared type, is sent as text.
func GetOID(declType string) uint32 {
	upper := strings.ToUpper(strings.TrimSpace(declType))
	if i := strings.IndexByte(upper, '('); i >= 0 {
		upper = strings.TrimSpace(upper[:i])
	}
	if oid, ok := declTypeToOID[upper]; ok {
		return oid
	}
	switch {
	case strings.Contains(upper, "INT"):
		return pgtype.Int8OID
	case strings.Contains(upper, "CHAR"), strings.Contains(upper, "CLOB"), strings.Contains(upper, "TEXT"):
		return pgtype.TextOID
	case strings.Contains(upper, "REAL"), strings.Contains(upper, "FLOA"), strings.Contains(upper, "DOUB"):
		return pgtype.Float8OID
	default:
		return pgtype.TextOID
	}
}

// encodeValue converts a value read from SQLite into the Go type the
// column's OID is encoded from. SQLite columns are dynamically typed, so a
// value that cannot be represented is an error.
func encodeValue(oid uint32, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch oid {
	case pgtype.Int8OID:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			if x == math.Trunc(x) && x >= math.MinInt64 && x <= math.MaxInt64 {
				return int64(x), nil
			}
		case string:
			if n, err := strconv.ParseInt(x, 10, 64); err == nil {
				return n, nil
			}
		}
	case pgtype.Float8OID:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case string:
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f, nil
			}
		}
	case pgtype.BoolOID:
		switch x := v.(type) {
		case int64:
			return x != 0, nil
		case string:
			if b, err := strconv.ParseBool(x); err == nil {
				return b, nil
			}
		}
	case pgtype.ByteaOID:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	default:
		return textValue(v), nil
	}
	return nil, fmt.Errorf("cannot send %T value %v as type oid %d", v, v, oid)
}

func textValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
