// Package query plans and executes predicate queries, choosing between
// an index-driven path and a full record scan.
package query

import (
	"fmt"
)

type Operator string

const (
	Equal        Operator = "="
	Less         Operator = "<"
	LessEqual    Operator = "<="
	Greater      Operator = ">"
	GreaterEqual Operator = ">="
)

// Predicate is an immutable filter expression over one field.
type Predicate interface {
	Field() string
	fmt.Stringer
}

// Binary compares a field against a literal value.
type Binary struct {
	Column string
	Op     Operator
	Value  any
}

func (p *Binary) Field() string {
	return p.Column
}

func (p *Binary) String() string {
	return fmt.Sprintf("%s %s %v", p.Column, p.Op, p.Value)
}

// Between matches field values between Min and Max, inclusive on both
// sides.
type Between struct {
	Column string
	Min    any
	Max    any
}

func (p *Between) Field() string {
	return p.Column
}

func (p *Between) String() string {
	return fmt.Sprintf("%s BETWEEN %v AND %v", p.Column, p.Min, p.Max)
}
