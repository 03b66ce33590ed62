// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package optbuilder

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/types"
)

// scalarFuncs maps the supported scalar functions to their arity and result
// type. A nil type means the result type is derived from the arguments.
var scalarFuncs = map[string]struct {
	minArgs, maxArgs int
	typ              *types.T
}{
	"+":        {2, 2, nil},
	"-":        {1, 2, nil},
	"*":        {2, 2, nil},
	"/":        {2, 2, nil},
	"%":        {2, 2, nil},
	"||":       {2, 2, types.String},
	"abs":      {1, 1, nil},
	"lower":    {1, 1, types.String},
	"upper":    {1, 1, types.String},
	"length":   {1, 1, types.Int},
	"substr":   {2, 3, types.String},
	"coalesce": {1, -1, nil},
	"now":      {0, 0, types.Timestamp},
}

// buildScalar builds a scalar expression whose columns resolve against s.
func (b *Builder) buildScalar(n *node, s *scope) opt.ScalarExpr {
	switch n.kind {
	case stringNode:
		return opt.NewStringConst(n.text)

	case atomNode:
		return b.buildAtom(n, s)

	case bracketNode:
		errorf(n.pos, "unexpected list %s in scalar expression", n)
	}

	name := n.head()
	if name == "" {
		errorf(n.pos, "expected operator at the start of %s", n)
	}
	args := n.children[1:]

	if op, ok := opt.CmpOpByName(name); ok {
		checkArgs(n, args, 2)
		left, right := b.buildScalar(args[0], s), b.buildScalar(args[1], s)
		lt, rt := opt.ScalarType(left, b.md), opt.ScalarType(right, b.md)
		if !canCompare(lt, rt) {
			errorf(n.pos, "cannot compare %s with %s", lt, rt)
		}
		return &opt.Comparison{Op: op, Left: left, Right: right}
	}

	switch name {
	case "and", "or":
		if len(args) < 2 {
			errorf(n.pos, "%s expects at least 2 arguments", name)
		}
		res := b.buildBool(args[0], s)
		for _, a := range args[1:] {
			if name == "and" {
				res = &opt.And{Left: res, Right: b.buildBool(a, s)}
			} else {
				res = &opt.Or{Left: res, Right: b.buildBool(a, s)}
			}
		}
		return res

	case "not":
		checkArgs(n, args, 1)
		return &opt.Not{Input: b.buildBool(args[0], s)}

	case "is-null", "is-not-null":
		checkArgs(n, args, 1)
		var res opt.ScalarExpr = &opt.IsNull{Input: b.buildScalar(args[0], s)}
		if name == "is-not-null" {
			res = &opt.Not{Input: res}
		}
		return res
	}

	if isAggregate(name) {
		errorf(n.pos, "aggregate function %s is not allowed in a scalar expression", name)
	}
	def, ok := scalarFuncs[name]
	if !ok {
		errorf(n.pos, "unknown function %s", name)
	}
	if len(args) < def.minArgs || (def.maxArgs >= 0 && len(args) > def.maxArgs) {
		errorf(n.pos, "wrong number of arguments to %s", name)
	}
	f := &opt.Func{Name: name, Args: make([]opt.ScalarExpr, len(args)), Type: def.typ}
	for i := range args {
		f.Args[i] = b.buildScalar(args[i], s)
	}
	if f.Type == nil {
		f.Type = b.resultType(n, f)
	}
	return f
}

func (b *Builder) buildAtom(n *node, s *scope) opt.ScalarExpr {
	switch strings.ToLower(n.text) {
	case "true":
		return opt.TrueConst
	case "false":
		return opt.FalseConst
	case "null":
		return opt.NullConst
	}
	if c := n.text[0]; c == '-' || c == '.' || (c >= '0' && c <= '9') {
		if v, err := strconv.ParseInt(n.text, 10, 64); err == nil {
			return opt.NewIntConst(v)
		}
		if v, err := strconv.ParseFloat(n.text, 64); err == nil {
			return opt.NewFloatConst(v)
		}
		errorf(n.pos, "invalid number %s", n.text)
	}
	return opt.NewVariable(s.resolve(n.text, n.pos).id)
}

// buildBool builds an operand of a logical operator.
func (b *Builder) buildBool(n *node, s *scope) opt.ScalarExpr {
	e := b.buildScalar(n, s)
	if typ := opt.ScalarType(e, b.md); typ.Family != types.BoolFamily && typ.Family != types.UnknownFamily {
		errorf(n.pos, "argument of %s must be of type bool, not %s", describe(n), typ)
	}
	return e
}

// resultType derives the type of arithmetic and of functions returning the
// type of their arguments. Mixing integers with floats yields a float.
func (b *Builder) resultType(n *node, f *opt.Func) *types.T {
	res := types.Unknown
	for _, a := range f.Args {
		typ := opt.ScalarType(a, b.md)
		switch {
		case typ.Family == types.UnknownFamily:
		case res.Family == types.UnknownFamily:
			res = typ
		case isNumeric(res) && isNumeric(typ):
			if typ.Family > res.Family {
				res = typ
			}
		case !res.Equivalent(typ):
			errorf(n.pos, "incompatible argument types %s and %s for %s", res, typ, f.Name)
		}
	}
	if f.Name == "/" && res.Family == types.IntFamily {
		res = types.Float
	}
	return res
}

func isNumeric(t *types.T) bool {
	switch t.Family {
	case types.IntFamily, types.FloatFamily, types.DecimalFamily:
		return true
	}
	return false
}

func canCompare(a, b *types.T) bool {
	if a.Family == types.UnknownFamily || b.Family == types.UnknownFamily {
		return true
	}
	return a.Equivalent(b) || (isNumeric(a) && isNumeric(b))
}
