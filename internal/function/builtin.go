package function

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/google/uuid"

	"github.com/markb/sqlbridge/internal/sqlite"
)

// Builtins returns the functions every connection opened with builtins
// enabled gets. Each call returns fresh definitions.
func Builtins() map[string]Definition {
	return map[string]Definition{
		"uuid": {
			Scalar: func(args []sqlite.Value) (any, error) {
				if err := arity("uuid", args, 0); err != nil {
					return nil, err
				}
				return uuid.NewString(), nil
			},
			Usage: "uuid() returns a random version 4 UUID as text",
		},
		"regexp": {
			Scalar: newRegexpFunc(),
			Usage:  "regexp(pattern, text) reports whether text matches pattern; enables X REGEXP Y",
		},
		"double_it": {
			Scalar: doubleIt,
			Usage:  "double_it(x) returns x * 2 for numeric x",
		},
		"count_pos": {
			NewAggregate: func() Aggregate { return &countPositive{} },
			Usage:        "count_pos(x) counts the rows where x > 0",
		},
		"median": {
			NewAggregate: func() Aggregate { return &median{} },
			Usage:        "median(x) returns the median of the non-NULL numeric x",
		},
	}
}

// RegisterBuiltins creates every built-in function on r.
func RegisterBuiltins(r *Registry) error {
	defs := Builtins()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := r.Create(name, defs[name]); err != nil {
			return fmt.Errorf("failed to register builtins: %w", err)
		}
	}
	return nil
}

func arity(name string, args []sqlite.Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: expected %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func isNumeric(v sqlite.Value) bool {
	t := v.Type()
	return t == sqlite.TypeInteger || t == sqlite.TypeFloat
}

func doubleIt(args []sqlite.Value) (any, error) {
	if err := arity("double_it", args, 1); err != nil {
		return nil, err
	}
	switch x := args[0]; x.Type() {
	case sqlite.TypeNull:
		return nil, nil
	case sqlite.TypeInteger:
		return x.Int64() * 2, nil
	case sqlite.TypeFloat:
		return x.Float() * 2, nil
	default:
		return nil, fmt.Errorf("double_it: argument must be numeric, got %s", x.Type())
	}
}

// newRegexpFunc returns regexp(pattern, text). Compiled patterns are cached
// per definition; statements usually repeat one pattern across rows.
func newRegexpFunc() ScalarFunc {
	cache := make(map[string]*regexp.Regexp)
	return func(args []sqlite.Value) (any, error) {
		if err := arity("regexp", args, 2); err != nil {
			return nil, err
		}
		if args[0].Type() == sqlite.TypeNull || args[1].Type() == sqlite.TypeNull {
			return nil, nil
		}
		pattern := args[0].Text()
		re, ok := cache[pattern]
		if !ok {
			var err error
			re, err = regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("regexp: %w", err)
			}
			cache[pattern] = re
		}
		return re.MatchString(args[1].Text()), nil
	}
}

type countPositive struct {
	n int64
}

func (c *countPositive) Step(args []sqlite.Value) error {
	if err := arity("count_pos", args, 1); err != nil {
		return err
	}
	if x := args[0]; isNumeric(x) && x.Float() > 0 {
		c.n++
	}
	return nil
}

func (c *countPositive) Final() (any, error) { return c.n, nil }

type median struct {
	xs []float64
}

func (m *median) Step(args []sqlite.Value) error {
	if err := arity("median", args, 1); err != nil {
		return err
	}
	switch x := args[0]; {
	case x.Type() == sqlite.TypeNull:
	case isNumeric(x):
		m.xs = append(m.xs, x.Float())
	default:
		return fmt.Errorf("median: argument must be numeric, got %s", x.Type())
	}
	return nil
}

func (m *median) Final() (any, error) {
	if len(m.xs) == 0 {
		return nil, nil
	}
	sort.Float64s(m.xs)
	mid := len(m.xs) / 2
	if len(m.xs)%2 == 1 {
		return m.xs[mid], nil
	}
	return (m.xs[mid-1] + m.xs[mid]) / 2, nil
}
