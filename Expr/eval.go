package Expr

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/cockroachdb/errors"

	"opti-lambda-go/column"
	"opti-lambda-go/operators"
)

func (c *ExecContext) eval(ctx context.Context, id ExprID, chunk *operators.Chunk) (column.Column, error) {
	switch e := c.tree.nodes[id].(type) {
	case *ColumnRef:
		col, ok := chunk.Column(e.Slot)
		if !ok {
			return nil, unresolvedError(e.Slot)
		}
		return col, nil
	case *Literal:
		return column.NewConst(c.tree.literals[id], chunk.NumRows()), nil
	case *Call:
		return c.evalCall(ctx, id, e, chunk)
	case *IsNull:
		return c.evalIsNull(ctx, e, chunk)
	case *Cast:
		return c.evalCast(ctx, e, chunk)
	case *LambdaFunction:
		return c.eval(ctx, e.Body, chunk)
	case *ArrayMap:
		return c.evalArrayMap(ctx, e, chunk)
	default:
		return nil, ErrUnsupportedExpression(e.String())
	}
}

// evalCall runs the function over materialized arguments. When every
// argument is constant it runs over the single value instead and the result
// stays constant.
func (c *ExecContext) evalCall(ctx context.Context, id ExprID, e *Call, chunk *operators.Chunk) (column.Column, error) {
	args := make([]column.Column, len(e.Args))
	allConst := len(e.Args) > 0
	for i, a := range e.Args {
		col, err := c.eval(ctx, a, chunk)
		if err != nil {
			return nil, err
		}
		args[i] = col
		allConst = allConst && column.IsConst(col)
	}

	rows := chunk.NumRows()
	if allConst {
		for i := range args {
			args[i] = args[i].(*column.Const).Value()
		}
		res, err := c.callFunction(ctx, id, e, args, 1)
		if err != nil {
			return nil, err
		}
		return column.NewConst(res, rows), nil
	}
	return c.callFunction(ctx, id, e, args, rows)
}

func (c *ExecContext) callFunction(ctx context.Context, id ExprID, e *Call, args []column.Column, rows int) (column.Column, error) {
	arrs := make([]arrow.Array, len(args))
	for i, a := range args {
		m, err := column.Materialize(a, rows)
		if err != nil {
			return nil, err
		}
		if arrs[i], err = column.ToArrow(m); err != nil {
			return nil, err
		}
	}
	out, err := e.fn.Eval(ctx, c.state(id), arrs)
	if err != nil {
		return nil, err
	}
	if out.Len() != rows {
		return nil, errors.AssertionFailedf("%s returned %d rows for %d", e.Fn, out.Len(), rows)
	}
	return column.FromArrow(out), nil
}

func (c *ExecContext) evalIsNull(ctx context.Context, e *IsNull, chunk *operators.Chunk) (column.Column, error) {
	arg, err := c.eval(ctx, e.Arg, chunk)
	if err != nil {
		return nil, err
	}
	if cst, ok := arg.(*column.Const); ok {
		return column.NewConst(column.Bools([]bool{cst.IsNull(0)}, nil), cst.Len()), nil
	}
	isNull := make([]bool, arg.Len())
	for i := range isNull {
		isNull[i] = arg.IsNull(i)
	}
	return column.Bools(isNull, nil), nil
}

func (c *ExecContext) evalCast(ctx context.Context, e *Cast, chunk *operators.Chunk) (column.Column, error) {
	arg, err := c.eval(ctx, e.Arg, chunk)
	if err != nil {
		return nil, err
	}
	if cst, ok := arg.(*column.Const); ok {
		v, err := castColumn(ctx, cst.Value(), e.Type)
		if err != nil {
			return nil, err
		}
		return column.NewConst(v, cst.Len()), nil
	}
	return castColumn(ctx, arg, e.Type)
}

func castColumn(ctx context.Context, col column.Column, dt arrow.DataType) (column.Column, error) {
	if sameType(col.DataType(), dt) {
		return col, nil
	}
	arr, err := column.ToArrow(col)
	if err != nil {
		return nil, err
	}
	out, err := compute.CastArray(ctx, arr, compute.SafeCastOptions(dt))
	if err != nil {
		return nil, errors.Wrapf(err, "cast error: cannot cast %s to %s", arr.DataType(), dt)
	}
	return column.FromArrow(out), nil
}
