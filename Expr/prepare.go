package Expr

import (
	"github.com/apache/arrow/go/v17/arrow"

	"opti-lambda-go/column"
	"opti-lambda-go/operators"
)

// Prepare validates the tree against the outer scope and freezes it. It
// resolves function references and output types, checks lambda parameter
// declarations and computes every lambda's bound/captured partition.
//
// A reference to a slot missing from scope is accepted when it declares
// its type; evaluation reports it if the chunk lacks the slot too.
func (t *Tree) Prepare(scope operators.Scope) error {
	if t.prepared {
		return lifecycleErrorf("tree already prepared")
	}
	if len(t.nodes) == 0 {
		return configErrorf("cannot prepare an empty tree")
	}
	if scope == nil {
		scope = operators.NewScope(nil)
	}

	referenced := make([]bool, len(t.nodes))
	for id, e := range t.nodes {
		if a, ok := e.(*ArrayMap); ok {
			if a.Lambda == nil || int(a.Lambda.id) >= len(t.nodes) || t.nodes[a.Lambda.id] != a.Lambda {
				return configErrorf("array_map #%d refers to a lambda from another tree", id)
			}
		}
		for _, c := range e.children() {
			if int(c) < 0 || int(c) >= len(t.nodes) {
				return configErrorf("node #%d refers to missing node #%d", id, c)
			}
			referenced[c] = true
		}
	}

	p := &preparer{
		tree:     t,
		scope:    scope,
		types:    make([]arrow.DataType, len(t.nodes)),
		visiting: make([]bool, len(t.nodes)),
		literals: make(map[ExprID]column.Column),
	}
	var roots []ExprID
	for id := range t.nodes {
		if referenced[id] {
			continue
		}
		roots = append(roots, ExprID(id))
		if _, err := p.resolve(ExprID(id), nil); err != nil {
			return err
		}
	}
	if len(roots) == 0 {
		return configErrorf("tree has no root")
	}

	t.roots = roots
	t.types = p.types
	t.literals = p.literals
	t.prepared = true
	return nil
}

type preparer struct {
	tree     *Tree
	scope    operators.Scope
	types    []arrow.DataType
	visiting []bool
	literals map[ExprID]column.Column
}

// params maps the parameter slots visible at a node to their types.
type params map[operators.SlotID]arrow.DataType

func (p *preparer) resolve(id ExprID, env params) (arrow.DataType, error) {
	if dt := p.types[id]; dt != nil {
		return dt, nil
	}
	if p.visiting[id] {
		return nil, configErrorf("node #%d is part of a cycle", id)
	}
	p.visiting[id] = true
	defer func() { p.visiting[id] = false }()

	dt, err := p.resolveNode(id, env)
	if err != nil {
		return nil, err
	}
	p.types[id] = dt
	return dt, nil
}

func (p *preparer) resolveNode(id ExprID, env params) (arrow.DataType, error) {
	switch e := p.tree.nodes[id].(type) {
	case *ColumnRef:
		if dt, ok := env[e.Slot]; ok {
			if e.Type != nil && !sameType(e.Type, dt) {
				return nil, configErrorf("reference to parameter $%d declares %s, parameter is %s", e.Slot, e.Type, dt)
			}
			return dt, nil
		}
		if dt, ok := p.scope.SlotType(e.Slot); ok {
			if e.Type != nil && !sameType(e.Type, dt) {
				return nil, configErrorf("reference to $%d declares %s, scope has %s", e.Slot, e.Type, dt)
			}
			return dt, nil
		}
		if e.Type == nil {
			return nil, configErrorf("reference to $%d has no type and the slot is not in scope", e.Slot)
		}
		return e.Type, nil

	case *Literal:
		if e.Value == nil {
			return nil, configErrorf("literal #%d has no value", id)
		}
		col, err := column.FromScalar(e.Value)
		if err != nil {
			return nil, configWrapf(err, "literal #%d", id)
		}
		p.literals[id] = col
		return e.Value.DataType(), nil

	case *Call:
		fn, ok := p.tree.registry.Lookup(e.Fn)
		if !ok {
			return nil, configErrorf("unknown function %q", e.Fn)
		}
		argTypes := make([]arrow.DataType, len(e.Args))
		for i, a := range e.Args {
			dt, err := p.resolve(a, env)
			if err != nil {
				return nil, err
			}
			argTypes[i] = dt
		}
		dt, err := fn.ResultType(argTypes)
		if err != nil {
			return nil, configWrapf(err, "resolving %s", e.Fn)
		}
		e.fn = fn
		return dt, nil

	case *IsNull:
		if _, err := p.resolve(e.Arg, env); err != nil {
			return nil, err
		}
		return arrow.FixedWidthTypes.Boolean, nil

	case *Cast:
		if e.Type == nil {
			return nil, configErrorf("cast #%d has no target type", id)
		}
		if _, err := p.resolve(e.Arg, env); err != nil {
			return nil, err
		}
		return e.Type, nil

	case *LambdaFunction:
		return p.resolveLambda(e, env)

	case *ArrayMap:
		return p.resolveArrayMap(e, env)
	}
	return nil, ErrUnsupportedExpression(p.tree.nodes[id].String())
}

func (p *preparer) resolveLambda(l *LambdaFunction, env params) (arrow.DataType, error) {
	inner := make(params, len(env)+len(l.Params))
	for s, dt := range env {
		inner[s] = dt
	}
	own := make(map[operators.SlotID]struct{}, len(l.Params))
	for _, prm := range l.Params {
		if prm.Type == nil {
			return nil, configErrorf("lambda parameter $%d has no type", prm.Slot)
		}
		if _, ok := own[prm.Slot]; ok {
			return nil, configErrorf("lambda declares parameter $%d twice", prm.Slot)
		}
		if _, ok := env[prm.Slot]; ok {
			return nil, configErrorf("lambda parameter $%d shadows an enclosing lambda parameter", prm.Slot)
		}
		if _, ok := p.scope.SlotType(prm.Slot); ok {
			return nil, configErrorf("lambda parameter $%d shadows an outer column", prm.Slot)
		}
		own[prm.Slot] = struct{}{}
		inner[prm.Slot] = prm.Type
	}
	dt, err := p.resolve(l.Body, inner)
	if err != nil {
		return nil, err
	}
	l.partition(p.tree)
	return dt, nil
}

func (p *preparer) resolveArrayMap(a *ArrayMap, env params) (arrow.DataType, error) {
	l := a.Lambda
	if len(a.Args) != len(l.Params) {
		return nil, arityErrorf("lambda takes %d parameters but array_map passes %d arrays", len(l.Params), len(a.Args))
	}
	for i, arg := range a.Args {
		dt, err := p.resolve(arg, env)
		if err != nil {
			return nil, err
		}
		list, ok := dt.(*arrow.ListType)
		if !ok {
			return nil, configErrorf("array_map operand %d is %s, not an array", i, dt)
		}
		switch prm := &l.Params[i]; {
		case prm.Type == nil:
			prm.Type = list.Elem()
		case !sameType(prm.Type, list.Elem()):
			return nil, configErrorf("lambda parameter $%d declares %s, array elements are %s", prm.Slot, prm.Type, list.Elem())
		}
	}
	body, err := p.resolve(l.id, env)
	if err != nil {
		return nil, err
	}
	return arrow.ListOf(body), nil
}

// sameType compares types structurally, ignoring list field names.
func sameType(a, b arrow.DataType) bool {
	la, aok := a.(*arrow.ListType)
	lb, bok := b.(*arrow.ListType)
	if aok || bok {
		return aok && bok && sameType(la.Elem(), lb.Elem())
	}
	return arrow.TypeEqual(a, b)
}
