package column

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/cockroachdb/errors"
)

// FromValues builds a column of type dt from Go values. nil is a null, and
// list types take []any rows whose entries follow the same rules.
func FromValues(dt arrow.DataType, vals []any) (Column, error) {
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	for i, v := range vals {
		if err := AppendValue(b, v); err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
	}
	arr := b.NewArray()
	return FromArrow(arr), nil
}

// MustFromValues is FromValues for literals in tests and examples.
func MustFromValues(dt arrow.DataType, vals ...any) Column {
	c, err := FromValues(dt, vals)
	if err != nil {
		panic(err)
	}
	return c
}

// AppendValue appends one Go value to b using the conversions of FromValues.
func AppendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bb := b.(type) {
	case *array.Int8Builder:
		n, err := toInt64(v)
		bb.Append(int8(n))
		return err
	case *array.Int16Builder:
		n, err := toInt64(v)
		bb.Append(int16(n))
		return err
	case *array.Int32Builder:
		n, err := toInt64(v)
		bb.Append(int32(n))
		return err
	case *array.Int64Builder:
		n, err := toInt64(v)
		bb.Append(n)
		return err
	case *array.Uint8Builder:
		n, err := toInt64(v)
		bb.Append(uint8(n))
		return err
	case *array.Uint16Builder:
		n, err := toInt64(v)
		bb.Append(uint16(n))
		return err
	case *array.Uint32Builder:
		n, err := toInt64(v)
		bb.Append(uint32(n))
		return err
	case *array.Uint64Builder:
		n, err := toInt64(v)
		bb.Append(uint64(n))
		return err
	case *array.Float32Builder:
		f, err := toFloat64(v)
		bb.Append(float32(f))
		return err
	case *array.Float64Builder:
		f, err := toFloat64(v)
		bb.Append(f)
		return err
	case *array.BooleanBuilder:
		x, ok := v.(bool)
		if !ok {
			return errors.Newf("expected bool, got %T", v)
		}
		bb.Append(x)
	case *array.StringBuilder:
		bb.Append(fmt.Sprint(v))
	case *array.BinaryBuilder:
		switch x := v.(type) {
		case []byte:
			bb.Append(x)
		case string:
			bb.Append([]byte(x))
		default:
			return errors.Newf("expected bytes, got %T", v)
		}
	case *array.ListBuilder:
		elems, ok := v.([]any)
		if !ok {
			return errors.Newf("expected []any for list row, got %T", v)
		}
		bb.Append(true)
		for _, e := range elems {
			if err := AppendValue(bb.ValueBuilder(), e); err != nil {
				return err
			}
		}
	default:
		return errors.Newf("unsupported builder %T", b)
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case float32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	}
	return 0, errors.Newf("expected integer, got %T", v)
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	}
	n, err := toInt64(v)
	return float64(n), err
}

// Int32s builds an int32 column. valid may be nil; a false entry marks the
// row null.
func Int32s(vals []int32, valid []bool) Column {
	b := array.NewInt32Builder(mem)
	defer b.Release()
	b.AppendValues(vals, valid)
	return FromArrow(b.NewArray())
}

func Int64s(vals []int64, valid []bool) Column {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(vals, valid)
	return FromArrow(b.NewArray())
}

func Float64s(vals []float64, valid []bool) Column {
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.AppendValues(vals, valid)
	return FromArrow(b.NewArray())
}

func Strings(vals []string, valid []bool) Column {
	b := array.NewStringBuilder(mem)
	defer b.Release()
	b.AppendValues(vals, valid)
	return FromArrow(b.NewArray())
}

func Bools(vals []bool, valid []bool) Column {
	b := array.NewBooleanBuilder(mem)
	defer b.Release()
	b.AppendValues(vals, valid)
	return FromArrow(b.NewArray())
}
