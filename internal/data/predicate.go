// Package data implements the DML manager: parameterized CRUD against one
// tenant, gated by lazy-materialization and maintenance-mode checks
// (spec.md §4.12).
package data

import "fmt"

// Op is a predicate comparison operator. Suffix-based filter kwargs
// (column__gt=value, ...) are modeled as this small AST instead, per
// spec.md §9's redesign note.
type Op string

const (
	Eq   Op = "eq"
	Gt   Op = "gt"
	Gte  Op = "gte"
	Lt   Op = "lt"
	Lte  Op = "lte"
	Like Op = "like"
	In   Op = "in"
)

// Predicate is one column comparison in a filter set.
type Predicate struct {
	Column string
	Op     Op
	Value  interface{}
}

// Logic joins a set of Predicates into one WHERE clause.
type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

func (p Predicate) sql() (string, []interface{}, error) {
	switch p.Op {
	case Eq:
		return fmt.Sprintf("%s = ?", p.Column), []interface{}{p.Value}, nil
	case Gt:
		return fmt.Sprintf("%s > ?", p.Column), []interface{}{p.Value}, nil
	case Gte:
		return fmt.Sprintf("%s >= ?", p.Column), []interface{}{p.Value}, nil
	case Lt:
		return fmt.Sprintf("%s < ?", p.Column), []interface{}{p.Value}, nil
	case Lte:
		return fmt.Sprintf("%s <= ?", p.Column), []interface{}{p.Value}, nil
	case Like:
		return fmt.Sprintf("%s LIKE ?", p.Column), []interface{}{p.Value}, nil
	case In:
		values, ok := p.Value.([]interface{})
		if !ok {
			return "", nil, fmt.Errorf("data: In predicate on %q requires a slice value", p.Column)
		}
		if len(values) == 0 {
			return "0", nil, nil
		}
		placeholders := ""
		for i := range values {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
		}
		return fmt.Sprintf("%s IN (%s)", p.Column, placeholders), values, nil
	default:
		return "", nil, fmt.Errorf("data: unknown predicate operator %q", p.Op)
	}
}

// compileWhere renders predicates into a "WHERE ..." clause (empty string
// if predicates is empty) joined by logic, plus its positional args.
func compileWhere(predicates []Predicate, logic Logic) (string, []interface{}, error) {
	if len(predicates) == 0 {
		return "", nil, nil
	}
	if logic == "" {
		logic = And
	}
	clause := ""
	var args []interface{}
	for i, p := range predicates {
		frag, frargs, err := p.sql()
		if err != nil {
			return "", nil, err
		}
		if i > 0 {
			clause += fmt.Sprintf(" %s ", logic)
		}
		clause += frag
		args = append(args, frargs...)
	}
	return " WHERE " + clause, args, nil
}
