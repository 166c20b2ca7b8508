package column

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/bitutil"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/arrow/scalar"
	"github.com/cockroachdb/errors"
)

// FromArrow converts an Arrow array into a column. List arrays become Array
// columns with offsets rebased to zero and validity bitmaps become Nullable
// wrappers.
func FromArrow(arr arrow.Array) Column {
	var col Column
	switch a := arr.(type) {
	case *array.Null:
		nulls := make([]byte, bitutil.BytesForBits(int64(a.Len())))
		for i := 0; i < a.Len(); i++ {
			bitutil.SetBit(nulls, i)
		}
		return NewNullable(NewPrimitive(a), nulls)
	case *array.List:
		col = listFromArrow(a)
	default:
		col = NewPrimitive(arr)
	}
	if arr.NullN() == 0 {
		return col
	}
	nulls := make([]byte, bitutil.BytesForBits(int64(arr.Len())))
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			bitutil.SetBit(nulls, i)
		}
	}
	return NewNullable(col, nulls)
}

func listFromArrow(l *array.List) *Array {
	n := l.Len()
	offsets := make([]int32, n+1)
	if n == 0 {
		return NewArray(Empty(l.DataType().(*arrow.ListType).Elem()), offsets)
	}
	base, _ := l.ValueOffsets(0)
	end := base
	for i := 0; i < n; i++ {
		_, e := l.ValueOffsets(i)
		offsets[i+1] = int32(e - base)
		end = e
	}
	values := array.NewSlice(l.ListValues(), base, end)
	return NewArray(FromArrow(values), offsets)
}

// ToArrow converts a column back into an Arrow array. Const columns are
// materialized first.
func ToArrow(c Column) (arrow.Array, error) {
	switch col := c.(type) {
	case *Primitive:
		return col.arr, nil
	case *Const:
		m, err := Materialize(col, col.n)
		if err != nil {
			return nil, err
		}
		if _, ok := m.(*Const); ok {
			return nil, errors.AssertionFailedf("materialized constant is still constant")
		}
		return ToArrow(m)
	case *Array:
		elems, err := ToArrow(col.elements)
		if err != nil {
			return nil, err
		}
		offsets := memory.NewBufferBytes(arrow.Int32Traits.CastToBytes(col.offsets))
		data := array.NewData(arrow.ListOf(elems.DataType()), col.Len(),
			[]*memory.Buffer{nil, offsets}, []arrow.ArrayData{elems.Data()}, 0, 0)
		defer data.Release()
		return array.MakeFromData(data), nil
	case *Nullable:
		inner, err := ToArrow(col.inner)
		if err != nil {
			return nil, err
		}
		if inner.DataType().ID() == arrow.NULL {
			return inner, nil
		}
		return withValidity(inner, col), nil
	}
	return nil, errors.AssertionFailedf("unknown column variant %T", c)
}

func withValidity(inner arrow.Array, col *Nullable) arrow.Array {
	data := inner.Data()
	off := data.Offset()
	validity := make([]byte, bitutil.BytesForBits(int64(off+data.Len())))
	nullN := 0
	for i := 0; i < data.Len(); i++ {
		if col.IsNull(i) || inner.IsNull(i) {
			nullN++
			continue
		}
		bitutil.SetBit(validity, off+i)
	}
	bufs := make([]*memory.Buffer, len(data.Buffers()))
	copy(bufs, data.Buffers())
	bufs[0] = memory.NewBufferBytes(validity)
	nd := array.NewData(data.DataType(), data.Len(), bufs, data.Children(), nullN, off)
	defer nd.Release()
	return array.MakeFromData(nd)
}

// FromScalar returns a one-row column holding s.
func FromScalar(s scalar.Scalar) (Column, error) {
	if !s.IsValid() {
		b := array.NewBuilder(mem, s.DataType())
		defer b.Release()
		b.AppendNull()
		return FromArrow(b.NewArray()), nil
	}
	arr, err := makeArray(s)
	if err != nil {
		return nil, errors.Wrapf(err, "materializing scalar %s", s)
	}
	return FromArrow(arr), nil
}

// makeArray turns a panic inside the Arrow scalar code into an error.
func makeArray(s scalar.Scalar) (arr arrow.Array, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("%v", r)
		}
	}()
	return scalar.MakeArrayFromScalar(s, 1, mem)
}

// Materialize expands a Const column into n physical rows. Other variants
// are returned unchanged.
func Materialize(c Column, n int) (Column, error) {
	cst, ok := c.(*Const)
	if !ok {
		return c, nil
	}
	return Take(cst.value, make([]int32, n))
}

// Take gathers rows of c by index. Indices may repeat, which is how outer
// values are broadcast across flattened elements.
func Take(c Column, idx []int32) (Column, error) {
	if len(idx) == 0 {
		return Empty(c.DataType()), nil
	}
	switch col := c.(type) {
	case *Const:
		return NewConst(col.value, len(idx)), nil
	case *Primitive:
		if col.arr.DataType().ID() == arrow.NULL {
			return NewPrimitive(array.MakeArrayOfNull(mem, arrow.Null, len(idx))), nil
		}
		out, err := compute.TakeArray(context.Background(), col.arr, indexArray(idx))
		if err != nil {
			return nil, errors.Wrap(err, "gathering primitive column")
		}
		return NewPrimitive(out), nil
	case *Nullable:
		inner, err := Take(col.inner, idx)
		if err != nil {
			return nil, err
		}
		nulls := make([]byte, bitutil.BytesForBits(int64(len(idx))))
		for i, j := range idx {
			if col.IsNull(int(j)) {
				bitutil.SetBit(nulls, i)
			}
		}
		return NewNullable(inner, nulls), nil
	case *Array:
		offsets := make([]int32, len(idx)+1)
		var elemIdx []int32
		for i, j := range idx {
			start, end := col.Span(int(j))
			for k := start; k < end; k++ {
				elemIdx = append(elemIdx, int32(k))
			}
			offsets[i+1] = offsets[i] + int32(end-start)
		}
		elems, err := Take(col.elements, elemIdx)
		if err != nil {
			return nil, err
		}
		if len(elemIdx) == 0 {
			elems = Empty(col.elements.DataType())
		}
		return NewArray(elems, offsets), nil
	}
	return nil, errors.AssertionFailedf("unknown column variant %T", c)
}

func indexArray(idx []int32) arrow.Array {
	buf := memory.NewBufferBytes(arrow.Int32Traits.CastToBytes(idx))
	data := array.NewData(arrow.PrimitiveTypes.Int32, len(idx), []*memory.Buffer{nil, buf}, nil, 0, 0)
	defer data.Release()
	return array.NewInt32Data(data)
}
