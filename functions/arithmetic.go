package functions

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/cockroachdb/errors"
)

type binaryKernel func(ctx context.Context, opts compute.ArithmeticOptions, left, right compute.Datum) (compute.Datum, error)

type arithmetic struct {
	name   string
	kernel binaryKernel
}

func newArithmetic(name string, k binaryKernel) *arithmetic {
	return &arithmetic{name: name, kernel: k}
}

func (a *arithmetic) Name() string { return a.name }

func (a *arithmetic) ResultType(args []arrow.DataType) (arrow.DataType, error) {
	if err := checkArity(a.name, args, 2); err != nil {
		return nil, err
	}
	return numericPromotion(a.name, args[0], args[1])
}

func (a *arithmetic) Eval(ctx context.Context, _ State, args []arrow.Array) (arrow.Array, error) {
	out, err := a.ResultType([]arrow.DataType{args[0].DataType(), args[1].DataType()})
	if err != nil {
		return nil, err
	}
	left, err := castTo(ctx, args[0], out)
	if err != nil {
		return nil, err
	}
	right, err := castTo(ctx, args[1], out)
	if err != nil {
		return nil, err
	}
	datum, err := a.kernel(ctx, compute.ArithmeticOptions{}, compute.NewDatum(left), compute.NewDatum(right))
	if err != nil {
		return nil, err
	}
	return unpackDatum(datum)
}

type comparison struct {
	name string
}

func (c *comparison) Name() string { return c.name }

func (c *comparison) ResultType(args []arrow.DataType) (arrow.DataType, error) {
	if err := checkArity(c.name, args, 2); err != nil {
		return nil, err
	}
	if _, err := commonType(c.name, args[0], args[1]); err != nil {
		return nil, err
	}
	return arrow.FixedWidthTypes.Boolean, nil
}

func (c *comparison) Eval(ctx context.Context, _ State, args []arrow.Array) (arrow.Array, error) {
	common, err := commonType(c.name, args[0].DataType(), args[1].DataType())
	if err != nil {
		return nil, err
	}
	left, err := castTo(ctx, args[0], common)
	if err != nil {
		return nil, err
	}
	right, err := castTo(ctx, args[1], common)
	if err != nil {
		return nil, err
	}
	datum, err := compute.CallFunction(ctx, c.name, nil, compute.NewDatum(left), compute.NewDatum(right))
	if err != nil {
		return nil, err
	}
	return unpackDatum(datum)
}

type logical struct {
	name string
}

func (l *logical) Name() string { return l.name }

func (l *logical) ResultType(args []arrow.DataType) (arrow.DataType, error) {
	if err := checkArity(l.name, args, 2); err != nil {
		return nil, err
	}
	for _, a := range args {
		if a.ID() != arrow.BOOL {
			return nil, ErrInvalidArguments(l.name, fmt.Sprintf("expected bool, got %s", a))
		}
	}
	return arrow.FixedWidthTypes.Boolean, nil
}

func (l *logical) Eval(ctx context.Context, _ State, args []arrow.Array) (arrow.Array, error) {
	datum, err := compute.CallFunction(ctx, l.name, nil, compute.NewDatum(args[0]), compute.NewDatum(args[1]))
	if err != nil {
		return nil, err
	}
	return unpackDatum(datum)
}

type unaryNumeric struct {
	name      string
	floatOnly bool
}

func (u *unaryNumeric) Name() string { return u.name }

func (u *unaryNumeric) ResultType(args []arrow.DataType) (arrow.DataType, error) {
	if err := checkArity(u.name, args, 1); err != nil {
		return nil, err
	}
	switch {
	case isFloating(args[0]):
	case isInteger(args[0]) && !u.floatOnly:
	default:
		return nil, ErrInvalidArguments(u.name, fmt.Sprintf("unsupported type %s", args[0]))
	}
	return args[0], nil
}

func (u *unaryNumeric) Eval(ctx context.Context, _ State, args []arrow.Array) (arrow.Array, error) {
	in := compute.NewDatum(args[0])
	var (
		datum compute.Datum
		err   error
	)
	switch u.name {
	case "abs":
		datum, err = compute.AbsoluteValue(ctx, compute.ArithmeticOptions{}, in)
	case "negate":
		datum, err = compute.Negate(ctx, compute.ArithmeticOptions{}, in)
	case "round":
		datum, err = compute.Round(ctx, compute.DefaultRoundOptions, in)
	default:
		return nil, errors.AssertionFailedf("unknown unary function %s", u.name)
	}
	if err != nil {
		return nil, err
	}
	return unpackDatum(datum)
}

func isInteger(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return true
	}
	return false
}

func isFloating(dt arrow.DataType) bool {
	return dt.ID() == arrow.FLOAT32 || dt.ID() == arrow.FLOAT64
}

// numericPromotion keeps matching types as they are. Mixed integers widen to
// int64 and anything mixed with a float becomes float64.
func numericPromotion(fn string, a, b arrow.DataType) (arrow.DataType, error) {
	numeric := func(dt arrow.DataType) bool { return isInteger(dt) || isFloating(dt) || dt.ID() == arrow.NULL }
	if !numeric(a) || !numeric(b) {
		return nil, ErrInvalidArguments(fn, fmt.Sprintf("expected numeric arguments, got %s and %s", a, b))
	}
	switch {
	case arrow.TypeEqual(a, b):
		if a.ID() == arrow.NULL {
			return arrow.PrimitiveTypes.Int64, nil
		}
		return a, nil
	case a.ID() == arrow.NULL:
		return b, nil
	case b.ID() == arrow.NULL:
		return a, nil
	case isFloating(a) || isFloating(b):
		return arrow.PrimitiveTypes.Float64, nil
	}
	return arrow.PrimitiveTypes.Int64, nil
}

func commonType(fn string, a, b arrow.DataType) (arrow.DataType, error) {
	if arrow.TypeEqual(a, b) {
		return a, nil
	}
	if a.ID() == arrow.NULL {
		return b, nil
	}
	if b.ID() == arrow.NULL {
		return a, nil
	}
	return numericPromotion(fn, a, b)
}

func castTo(ctx context.Context, arr arrow.Array, dt arrow.DataType) (arrow.Array, error) {
	if arrow.TypeEqual(arr.DataType(), dt) {
		return arr, nil
	}
	if arr.DataType().ID() == arrow.NULL {
		return array.MakeArrayOfNull(memory.DefaultAllocator, dt, arr.Len()), nil
	}
	return compute.CastArray(ctx, arr, compute.SafeCastOptions(dt))
}
