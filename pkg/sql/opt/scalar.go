// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package opt

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/cascades/pkg/sql/types"
	"github.com/cockroachdb/errors"
)

// ScalarExpr is a scalar expression embedded in a relational operator: a
// filter, a join condition, a projection or an argument. The set of scalar
// expressions is closed; all of them are immutable once built.
type ScalarExpr interface {
	// Format writes the expression to the buffer. Column names are taken from
	// md when it is not nil; otherwise columns are written as @id, which is
	// the canonical form used for fingerprinting.
	Format(buf *strings.Builder, md *Metadata)

	scalarExpr()
}

// Variable is a reference to a column.
type Variable struct {
	Col ColumnID
}

// Const is a constant value. Value is nil for NULL, or one of bool, int64,
// float64 and string.
type Const struct {
	Type  *types.T
	Value interface{}
}

// CmpOp is a comparison operator.
type CmpOp uint8

const (
	EqOp CmpOp = iota
	NeOp
	LtOp
	LeOp
	GtOp
	GeOp
)

var cmpOpNames = [...]string{
	EqOp: "=",
	NeOp: "!=",
	LtOp: "<",
	LeOp: "<=",
	GtOp: ">",
	GeOp: ">=",
}

func (op CmpOp) String() string {
	return cmpOpNames[op]
}

// Commute returns the operator to use when the operands are swapped.
func (op CmpOp) Commute() CmpOp {
	switch op {
	case LtOp:
		return GtOp
	case LeOp:
		return GeOp
	case GtOp:
		return LtOp
	case GeOp:
		return LeOp
	}
	return op
}

// CmpOpByName returns the comparison operator with the given symbol.
func CmpOpByName(name string) (CmpOp, bool) {
	for i, n := range cmpOpNames {
		if n == name {
			return CmpOp(i), true
		}
	}
	if name == "<>" {
		return NeOp, true
	}
	return EqOp, false
}

// Comparison compares two scalar expressions.
type Comparison struct {
	Op          CmpOp
	Left, Right ScalarExpr
}

// And is a logical conjunction.
type And struct {
	Left, Right ScalarExpr
}

// Or is a logical disjunction.
type Or struct {
	Left, Right ScalarExpr
}

// Not is a logical negation.
type Not struct {
	Input ScalarExpr
}

// IsNull tests its input for NULL.
type IsNull struct {
	Input ScalarExpr
}

// Func is a call to a scalar function or an arithmetic operator.
type Func struct {
	Name string
	Args []ScalarExpr
	Type *types.T
}

func (*Variable) scalarExpr()   {}
func (*Const) scalarExpr()      {}
func (*Comparison) scalarExpr() {}
func (*And) scalarExpr()        {}
func (*Or) scalarExpr()         {}
func (*Not) scalarExpr()        {}
func (*IsNull) scalarExpr()     {}
func (*Func) scalarExpr()       {}

// Commonly used constants.
var (
	TrueConst  = &Const{Type: types.Bool, Value: true}
	FalseConst = &Const{Type: types.Bool, Value: false}
	NullConst  = &Const{Type: types.Unknown}
)

// NewIntConst returns an integer constant.
func NewIntConst(v int64) *Const { return &Const{Type: types.Int, Value: v} }

// NewFloatConst returns a float constant.
func NewFloatConst(v float64) *Const { return &Const{Type: types.Float, Value: v} }

// NewStringConst returns a string constant.
func NewStringConst(v string) *Const { return &Const{Type: types.String, Value: v} }

// NewVariable returns a reference to the column.
func NewVariable(col ColumnID) *Variable { return &Variable{Col: col} }

// NewEq returns the equality of two columns.
func NewEq(left, right ColumnID) *Comparison {
	return &Comparison{Op: EqOp, Left: NewVariable(left), Right: NewVariable(right)}
}

func formatCol(buf *strings.Builder, col ColumnID, md *Metadata) {
	if md == nil {
		buf.WriteByte('@')
		buf.WriteString(strconv.Itoa(int(col)))
		return
	}
	buf.WriteString(md.QualifiedAlias(col))
}

// Format implements ScalarExpr.
func (v *Variable) Format(buf *strings.Builder, md *Metadata) {
	formatCol(buf, v.Col, md)
}

// Format implements ScalarExpr.
func (c *Const) Format(buf *strings.Builder, _ *Metadata) {
	switch v := c.Value.(type) {
	case nil:
		buf.WriteString("NULL")
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case int64:
		buf.WriteString(strconv.FormatInt(v, 10))
	case float64:
		buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case string:
		buf.WriteString(strconv.Quote(v))
	default:
		panic(errors.AssertionFailedf("unexpected constant %T", c.Value))
	}
}

// Format implements ScalarExpr.
func (c *Comparison) Format(buf *strings.Builder, md *Metadata) {
	formatOperand(buf, c.Left, md)
	buf.WriteByte(' ')
	buf.WriteString(c.Op.String())
	buf.WriteByte(' ')
	formatOperand(buf, c.Right, md)
}

// Format implements ScalarExpr.
func (a *And) Format(buf *strings.Builder, md *Metadata) {
	formatBoolOperand(buf, a.Left, md, true)
	buf.WriteString(" AND ")
	formatBoolOperand(buf, a.Right, md, true)
}

// Format implements ScalarExpr.
func (o *Or) Format(buf *strings.Builder, md *Metadata) {
	formatBoolOperand(buf, o.Left, md, false)
	buf.WriteString(" OR ")
	formatBoolOperand(buf, o.Right, md, false)
}

// Format implements ScalarExpr.
func (n *Not) Format(buf *strings.Builder, md *Metadata) {
	buf.WriteString("NOT ")
	formatOperand(buf, n.Input, md)
}

// Format implements ScalarExpr.
func (n *IsNull) Format(buf *strings.Builder, md *Metadata) {
	formatOperand(buf, n.Input, md)
	buf.WriteString(" IS NULL")
}

// Format implements ScalarExpr.
func (f *Func) Format(buf *strings.Builder, md *Metadata) {
	if isInfix(f.Name) && len(f.Args) == 2 {
		buf.WriteByte('(')
		f.Args[0].Format(buf, md)
		buf.WriteByte(' ')
		buf.WriteString(f.Name)
		buf.WriteByte(' ')
		f.Args[1].Format(buf, md)
		buf.WriteByte(')')
		return
	}
	buf.WriteString(f.Name)
	buf.WriteByte('(')
	for i, arg := range f.Args {
		if i > 0 {
			buf.WriteString(", ")
		}
		arg.Format(buf, md)
	}
	buf.WriteByte(')')
}

func isInfix(name string) bool {
	switch name {
	case "+", "-", "*", "/", "%", "||":
		return true
	}
	return false
}

func formatOperand(buf *strings.Builder, e ScalarExpr, md *Metadata) {
	switch e.(type) {
	case *Variable, *Const, *Func:
		e.Format(buf, md)
	default:
		buf.WriteByte('(')
		e.Format(buf, md)
		buf.WriteByte(')')
	}
}

func formatBoolOperand(buf *strings.Builder, e ScalarExpr, md *Metadata, inAnd bool) {
	_, isAnd := e.(*And)
	_, isOr := e.(*Or)
	if (inAnd && isOr) || (!inAnd && isAnd) {
		buf.WriteByte('(')
		e.Format(buf, md)
		buf.WriteByte(')')
		return
	}
	e.Format(buf, md)
}

// FormatScalar returns the text of the expression, using md for column names.
func FormatScalar(e ScalarExpr, md *Metadata) string {
	if e == nil {
		return "true"
	}
	var buf strings.Builder
	e.Format(&buf, md)
	return buf.String()
}

// VisitScalar calls fn for e and all of its descendants, parents first.
func VisitScalar(e ScalarExpr, fn func(ScalarExpr)) {
	if e == nil {
		return
	}
	fn(e)
	switch t := e.(type) {
	case *Comparison:
		VisitScalar(t.Left, fn)
		VisitScalar(t.Right, fn)
	case *And:
		VisitScalar(t.Left, fn)
		VisitScalar(t.Right, fn)
	case *Or:
		VisitScalar(t.Left, fn)
		VisitScalar(t.Right, fn)
	case *Not:
		VisitScalar(t.Input, fn)
	case *IsNull:
		VisitScalar(t.Input, fn)
	case *Func:
		for _, arg := range t.Args {
			VisitScalar(arg, fn)
		}
	}
}

// OuterCols returns the set of columns referenced by the expression.
func OuterCols(e ScalarExpr) ColSet {
	var cols ColSet
	VisitScalar(e, func(e ScalarExpr) {
		if v, ok := e.(*Variable); ok {
			cols.Add(v.Col)
		}
	})
	return cols
}

// Conjuncts splits the expression into its top-level conjuncts. A nil or true
// expression has no conjuncts.
func Conjuncts(e ScalarExpr) []ScalarExpr {
	var res []ScalarExpr
	var walk func(e ScalarExpr)
	walk = func(e ScalarExpr) {
		if and, ok := e.(*And); ok {
			walk(and.Left)
			walk(and.Right)
			return
		}
		if !IsTrue(e) {
			res = append(res, e)
		}
	}
	walk(e)
	return res
}

// MakeAnd builds a left-deep conjunction of the expressions. It returns nil
// for an empty list.
func MakeAnd(conjuncts []ScalarExpr) ScalarExpr {
	var res ScalarExpr
	for _, c := range conjuncts {
		if IsTrue(c) {
			continue
		}
		if res == nil {
			res = c
		} else {
			res = &And{Left: res, Right: c}
		}
	}
	return res
}

// IsTrue returns true for a nil expression and the true constant.
func IsTrue(e ScalarExpr) bool {
	if e == nil {
		return true
	}
	c, ok := e.(*Const)
	return ok && c.Value == true
}

// IsFalse returns true for the false and NULL constants. A filter with such a
// condition returns no rows.
func IsFalse(e ScalarExpr) bool {
	c, ok := e.(*Const)
	return ok && (c.Value == false || c.Value == nil)
}

// RemapScalar returns a copy of the expression with its column references
// mapped. Unmapped columns are left unchanged.
func RemapScalar(e ScalarExpr, m ColMap) ScalarExpr {
	switch t := e.(type) {
	case nil:
		return nil
	case *Variable:
		return &Variable{Col: m.Get(t.Col)}
	case *Const:
		return t
	case *Comparison:
		return &Comparison{Op: t.Op, Left: RemapScalar(t.Left, m), Right: RemapScalar(t.Right, m)}
	case *And:
		return &And{Left: RemapScalar(t.Left, m), Right: RemapScalar(t.Right, m)}
	case *Or:
		return &Or{Left: RemapScalar(t.Left, m), Right: RemapScalar(t.Right, m)}
	case *Not:
		return &Not{Input: RemapScalar(t.Input, m)}
	case *IsNull:
		return &IsNull{Input: RemapScalar(t.Input, m)}
	case *Func:
		args := make([]ScalarExpr, len(t.Args))
		for i := range t.Args {
			args[i] = RemapScalar(t.Args[i], m)
		}
		return &Func{Name: t.Name, Args: args, Type: t.Type}
	}
	panic(errors.AssertionFailedf("unhandled scalar expression %T", e))
}

// ExtractEquality returns the two columns of a column = column condition,
// with the first column taken from left and the second from right.
func ExtractEquality(e ScalarExpr, left, right ColSet) (l, r ColumnID, ok bool) {
	cmp, isCmp := e.(*Comparison)
	if !isCmp || cmp.Op != EqOp {
		return 0, 0, false
	}
	lv, lok := cmp.Left.(*Variable)
	rv, rok := cmp.Right.(*Variable)
	if !lok || !rok {
		return 0, 0, false
	}
	switch {
	case left.Contains(lv.Col) && right.Contains(rv.Col):
		return lv.Col, rv.Col, true
	case left.Contains(rv.Col) && right.Contains(lv.Col):
		return rv.Col, lv.Col, true
	}
	return 0, 0, false
}

// ExtractConstBound matches a comparison between a column and a numeric
// constant, normalized so that the column is on the left.
func ExtractConstBound(e ScalarExpr) (col ColumnID, op CmpOp, val float64, ok bool) {
	cmp, isCmp := e.(*Comparison)
	if !isCmp {
		return 0, 0, 0, false
	}
	if v, isVar := cmp.Left.(*Variable); isVar {
		if f, isNum := numericValue(cmp.Right); isNum {
			return v.Col, cmp.Op, f, true
		}
	}
	if v, isVar := cmp.Right.(*Variable); isVar {
		if f, isNum := numericValue(cmp.Left); isNum {
			return v.Col, cmp.Op.Commute(), f, true
		}
	}
	return 0, 0, 0, false
}

// ExtractConstEquality matches a column = constant condition of any type.
func ExtractConstEquality(e ScalarExpr) (ColumnID, bool) {
	cmp, isCmp := e.(*Comparison)
	if !isCmp || cmp.Op != EqOp {
		return 0, false
	}
	if v, isVar := cmp.Left.(*Variable); isVar {
		if _, isConst := cmp.Right.(*Const); isConst {
			return v.Col, true
		}
	}
	if v, isVar := cmp.Right.(*Variable); isVar {
		if _, isConst := cmp.Left.(*Const); isConst {
			return v.Col, true
		}
	}
	return 0, false
}

func numericValue(e ScalarExpr) (float64, bool) {
	c, ok := e.(*Const)
	if !ok {
		return 0, false
	}
	switch v := c.Value.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// ScalarType returns the type of the expression's result.
func ScalarType(e ScalarExpr, md *Metadata) *types.T {
	switch t := e.(type) {
	case *Variable:
		return md.ColumnMeta(t.Col).Type
	case *Const:
		if t.Type == nil {
			return types.Unknown
		}
		return t.Type
	case *Comparison, *And, *Or, *Not, *IsNull:
		return types.Bool
	case *Func:
		if t.Type != nil {
			return t.Type
		}
		if isInfix(t.Name) && len(t.Args) > 0 {
			return ScalarType(t.Args[0], md)
		}
	}
	return types.Unknown
}
