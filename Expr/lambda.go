package Expr

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/bitutil"

	"opti-lambda-go/column"
	"opti-lambda-go/operators"
)

// Param is a lambda parameter: the slot its bound values are stored under
// while the body runs, and its element type (nil until inferred).
type Param struct {
	Slot operators.SlotID
	Type arrow.DataType
}

// LambdaFunction is a closure over its body. After Prepare every column
// reference in the body is either bound to a parameter or captured from
// the enclosing scope.
type LambdaFunction struct {
	Body   ExprID
	Params []Param

	id       ExprID
	captured []operators.SlotID
}

// Lambda adds a closure with the given body and parameters.
func (t *Tree) Lambda(body ExprID, params ...Param) *LambdaFunction {
	l := &LambdaFunction{Body: body, Params: params}
	l.id = t.add(l)
	return l
}

func (l *LambdaFunction) ID() ExprID         { return l.id }
func (l *LambdaFunction) ExprNode()          {}
func (l *LambdaFunction) children() []ExprID { return []ExprID{l.Body} }
func (l *LambdaFunction) String() string {
	return fmt.Sprintf("Lambda(%v -> #%d)", l.BoundParameterIDs(), l.Body)
}

// BoundParameterIDs returns the parameter slots in declared order.
func (l *LambdaFunction) BoundParameterIDs() []operators.SlotID {
	out := make([]operators.SlotID, len(l.Params))
	for i, p := range l.Params {
		out[i] = p.Slot
	}
	return out
}

// CapturedSlotIDs returns the outer slots the body reads, in first-seen
// order. Only valid after Prepare.
func (l *LambdaFunction) CapturedSlotIDs() []operators.SlotID {
	out := make([]operators.SlotID, len(l.captured))
	copy(out, l.captured)
	return out
}

func (l *LambdaFunction) isParam(slot operators.SlotID) bool {
	for _, p := range l.Params {
		if p.Slot == slot {
			return true
		}
	}
	return false
}

// partition walks the body pre-order and records every reference that is
// neither a parameter nor bound by a nested lambda.
func (l *LambdaFunction) partition(t *Tree) {
	seen := make(map[operators.SlotID]struct{})
	l.captured = l.captured[:0]
	var walk func(id ExprID, nested map[operators.SlotID]struct{})
	walk = func(id ExprID, nested map[operators.SlotID]struct{}) {
		switch e := t.nodes[id].(type) {
		case *ColumnRef:
			if _, ok := nested[e.Slot]; ok || l.isParam(e.Slot) {
				return
			}
			if _, ok := seen[e.Slot]; !ok {
				seen[e.Slot] = struct{}{}
				l.captured = append(l.captured, e.Slot)
			}
		case *LambdaFunction:
			inner := make(map[operators.SlotID]struct{}, len(nested)+len(e.Params))
			for s := range nested {
				inner[s] = struct{}{}
			}
			for _, p := range e.Params {
				inner[p.Slot] = struct{}{}
			}
			walk(e.Body, inner)
		default:
			for _, c := range e.children() {
				walk(c, nested)
			}
		}
	}
	walk(l.Body, nil)
}

// ArrayMap applies Lambda to the elements of its array operands, producing
// one array per row.
type ArrayMap struct {
	Lambda *LambdaFunction
	Args   []ExprID
}

// ArrayMap applies lambda element-wise to the array operands args, one
// operand per lambda parameter.
func (t *Tree) ArrayMap(lambda *LambdaFunction, args ...ExprID) ExprID {
	return t.add(&ArrayMap{Lambda: lambda, Args: args})
}

func (a *ArrayMap) ExprNode() {}
func (a *ArrayMap) children() []ExprID {
	return append([]ExprID{a.Lambda.id}, a.Args...)
}
func (a *ArrayMap) String() string {
	return fmt.Sprintf("ArrayMap(#%d, %v)", a.Lambda.id, a.Args)
}

func (c *ExecContext) evalArrayMap(ctx context.Context, a *ArrayMap, chunk *operators.Chunk) (column.Column, error) {
	lambda := a.Lambda
	if len(a.Args) != len(lambda.Params) {
		return nil, arityErrorf("lambda takes %d parameters but array_map passes %d arrays", len(lambda.Params), len(a.Args))
	}
	rows := chunk.NumRows()

	operands := make([]column.Column, len(a.Args))
	allConst := true
	for i, arg := range a.Args {
		col, err := c.eval(ctx, arg, chunk)
		if err != nil {
			return nil, err
		}
		if col.Len() != rows {
			return nil, configErrorf("array_map operand %d has %d rows, chunk has %d", i, col.Len(), rows)
		}
		operands[i] = col
		allConst = allConst && column.IsConst(col)
	}

	captured := make([]column.Column, len(lambda.captured))
	for i, slot := range lambda.captured {
		col, ok := chunk.Column(slot)
		if !ok {
			return nil, unresolvedError(slot)
		}
		captured[i] = col
		allConst = allConst && column.IsConst(col)
	}

	if c.opts.ConstFastPath && allConst && rows > 0 {
		for i := range operands {
			operands[i] = operands[i].(*column.Const).Value()
		}
		for i := range captured {
			captured[i] = captured[i].(*column.Const).Value()
		}
		res, err := c.mapRows(ctx, lambda, operands, captured, 1, true)
		if err != nil {
			return nil, err
		}
		return column.NewConst(res, rows), nil
	}

	for i := range operands {
		m, err := column.Materialize(operands[i], rows)
		if err != nil {
			return nil, err
		}
		operands[i] = m
	}
	return c.mapRows(ctx, lambda, operands, captured, rows, false)
}

// mapRows flattens the operands into one chunk of elements, evaluates the
// lambda body over it and rewraps the result with the operands' row
// structure. A row that is null in any operand is null in the result and
// contributes no elements.
func (c *ExecContext) mapRows(ctx context.Context, lambda *LambdaFunction, operands, captured []column.Column, rows int, fast bool) (column.Column, error) {
	arrays := make([]*column.Array, len(operands))
	for i, op := range operands {
		arr, _, ok := column.AsArray(op)
		if !ok {
			return nil, configErrorf("array_map operand %d is %s, not an array", i, op.DataType())
		}
		arrays[i] = arr
	}

	nullRows := roaring.New()
	offsets := make([]int32, rows+1)
	gather := false
	for i := 0; i < rows; i++ {
		null := false
		for _, op := range operands {
			if op.IsNull(i) {
				null = true
				break
			}
		}
		if null {
			nullRows.Add(uint32(i))
			offsets[i+1] = offsets[i]
			for _, arr := range arrays {
				if start, end := arr.Span(i); end > start {
					gather = true
				}
			}
			continue
		}
		start, end := arrays[0].Span(i)
		n := end - start
		for k, arr := range arrays[1:] {
			if s, e := arr.Span(i); e-s != n {
				return nil, errArrayLength(i, n, k+1, e-s)
			}
		}
		offsets[i+1] = offsets[i] + int32(n)
	}
	total := int(offsets[rows])
	c.opts.Metrics.ArrayMapEvaluated(total, fast)

	var values column.Column
	if total == 0 {
		values = column.Empty(c.tree.types[lambda.Body])
	} else {
		flat, err := flatten(lambda, arrays, captured, nullRows, offsets, gather)
		if err != nil {
			return nil, err
		}
		res, err := c.eval(ctx, lambda.Body, flat)
		if err != nil {
			return nil, err
		}
		if res.Len() != total {
			return nil, configErrorf("lambda body returned %d rows for %d elements", res.Len(), total)
		}
		if values, err = column.Materialize(res, total); err != nil {
			return nil, err
		}
	}

	nulls := make([]byte, bitutil.BytesForBits(int64(rows)))
	for it := nullRows.Iterator(); it.HasNext(); {
		bitutil.SetBit(nulls, int(it.Next()))
	}
	return column.NewNullable(column.NewArray(values, offsets), nulls), nil
}

// flatten builds the chunk the lambda body runs over: one row per element
// of every non-null operand row, parameters bound to the elements and
// captured columns repeated once per element of their row.
func flatten(lambda *LambdaFunction, arrays []*column.Array, captured []column.Column, nullRows *roaring.Bitmap, offsets []int32, gather bool) (*operators.Chunk, error) {
	rows := len(offsets) - 1
	total := int(offsets[rows])
	flat := operators.NewChunk(total)

	for k, arr := range arrays {
		elems := arr.Elements()
		if gather {
			idx := make([]int32, 0, total)
			for i := 0; i < rows; i++ {
				if nullRows.Contains(uint32(i)) {
					continue
				}
				start, end := arr.Span(i)
				for j := start; j < end; j++ {
					idx = append(idx, int32(j))
				}
			}
			var err error
			if elems, err = column.Take(elems, idx); err != nil {
				return nil, err
			}
		}
		if err := flat.Append(lambda.Params[k].Slot, elems); err != nil {
			return nil, err
		}
	}

	var repeat []int32
	for k, col := range captured {
		if cst, ok := col.(*column.Const); ok {
			if err := flat.Append(lambda.captured[k], column.NewConst(cst.Value(), total)); err != nil {
				return nil, err
			}
			continue
		}
		if repeat == nil {
			repeat = make([]int32, 0, total)
			for i := 0; i < rows; i++ {
				for j := offsets[i]; j < offsets[i+1]; j++ {
					repeat = append(repeat, int32(i))
				}
			}
		}
		rep, err := column.Take(col, repeat)
		if err != nil {
			return nil, err
		}
		if err := flat.Append(lambda.captured[k], rep); err != nil {
			return nil, err
		}
	}
	return flat, nil
}

func errArrayLength(row, want, operand, got int) error {
	return markArrayLength(fmt.Sprintf("row %d: operand 0 has %d elements, operand %d has %d", row, want, operand, got))
}
