package column

import (
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/scalar"
	"github.com/stretchr/testify/require"
)

var int32List = arrow.ListOf(arrow.PrimitiveTypes.Int32)

func rows(c Column) []string {
	out := make([]string, c.Len())
	for i := range out {
		out[i] = c.Get(i).String()
	}
	return out
}

func TestFromValues(t *testing.T) {
	t.Run("primitive without nulls stays bare", func(t *testing.T) {
		c := MustFromValues(arrow.PrimitiveTypes.Int32, 1, 2, 3)
		require.Equal(t, KindPrimitive, c.Kind())
		require.Equal(t, []string{"1", "2", "3"}, rows(c))
	})

	t.Run("nulls wrap in nullable", func(t *testing.T) {
		c := MustFromValues(arrow.PrimitiveTypes.Int32, 1, nil, 3)
		require.Equal(t, KindNullable, c.Kind())
		require.True(t, c.IsNull(1))
		require.False(t, c.IsNull(0))
		require.Equal(t, KindPrimitive, c.(*Nullable).Inner().Kind())
		require.Equal(t, []string{"1", "NULL", "3"}, rows(c))
	})

	t.Run("lists", func(t *testing.T) {
		c := MustFromValues(int32List, []any{1, 4}, []any{nil, nil}, []any{nil, 12}, nil, []any{})
		arr, nulls, ok := AsArray(c)
		require.True(t, ok)
		require.NotNil(t, nulls)
		require.Equal(t, []int32{0, 2, 4, 6, 6, 6}, arr.Offsets())
		require.Equal(t, []string{"[1, 4]", "[NULL, NULL]", "[NULL, 12]", "NULL", "[]"}, rows(c))
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := FromValues(arrow.FixedWidthTypes.Boolean, []any{1})
		require.Error(t, err)
	})
}

func TestFromArrowRebasesSlicedLists(t *testing.T) {
	c := MustFromValues(int32List, []any{1}, []any{2, 3}, []any{4, 5, 6})
	full, err := ToArrow(c)
	require.NoError(t, err)

	sliced := array.NewSlice(full, 1, 3)
	col := FromArrow(sliced)
	arr, _, ok := AsArray(col)
	require.True(t, ok)
	require.Equal(t, []int32{0, 2, 5}, arr.Offsets())
	require.Equal(t, 5, arr.Elements().Len())
	require.Equal(t, []string{"[2, 3]", "[4, 5, 6]"}, rows(col))
}

func TestToArrowRoundTrip(t *testing.T) {
	c := MustFromValues(int32List, []any{1, nil}, nil, []any{})
	arr, err := ToArrow(c)
	require.NoError(t, err)
	require.True(t, arrow.TypeEqual(int32List, arr.DataType()))
	require.Equal(t, 3, arr.Len())
	require.Equal(t, 1, arr.NullN())
	require.True(t, arr.IsNull(1))
	require.Equal(t, rows(c), rows(FromArrow(arr)))
}

func TestConst(t *testing.T) {
	one := MustFromValues(int32List, []any{nil, 12})
	c := NewConst(one, 4)
	require.Equal(t, 4, c.Len())
	require.Equal(t, "[NULL, 12]", c.Get(3).String())

	m, err := Materialize(c, c.Len())
	require.NoError(t, err)
	require.False(t, IsConst(m))
	require.Equal(t, []string{"[NULL, 12]", "[NULL, 12]", "[NULL, 12]", "[NULL, 12]"}, rows(m))

	arr, err := ToArrow(c)
	require.NoError(t, err)
	require.Equal(t, 4, arr.Len())

	nested := NewConst(c, 2)
	require.Equal(t, 2, nested.Len())
	require.Equal(t, 1, nested.Value().Len())
}

func TestConstNull(t *testing.T) {
	s := scalar.MakeNullScalar(int32List)
	one, err := FromScalar(s)
	require.NoError(t, err)
	c := NewConst(one, 3)
	require.True(t, c.IsNull(0))
	require.True(t, c.Get(2).IsNull())

	nested, err := FromScalar(scalar.MakeNullScalar(arrow.ListOf(int32List)))
	require.NoError(t, err)
	require.Equal(t, 1, nested.Len())
	require.True(t, nested.IsNull(0))
	arr, _, ok := AsArray(nested)
	require.True(t, ok)
	require.Equal(t, []int32{0, 0}, arr.Offsets())
}

func TestTake(t *testing.T) {
	t.Run("broadcast", func(t *testing.T) {
		c := MustFromValues(arrow.PrimitiveTypes.Int64, 7, nil, 9)
		out, err := Take(c, []int32{0, 0, 1, 2, 2, 2})
		require.NoError(t, err)
		require.Equal(t, []string{"7", "7", "NULL", "9", "9", "9"}, rows(out))
	})

	t.Run("arrays", func(t *testing.T) {
		c := MustFromValues(int32List, []any{1, 2}, nil, []any{3})
		out, err := Take(c, []int32{2, 0})
		require.NoError(t, err)
		arr, _, ok := AsArray(out)
		require.True(t, ok)
		require.Equal(t, []int32{0, 1, 3}, arr.Offsets())
		require.Equal(t, []string{"[3]", "[1, 2]"}, rows(out))
	})

	t.Run("empty", func(t *testing.T) {
		out, err := Take(Strings([]string{"a"}, nil), nil)
		require.NoError(t, err)
		require.Equal(t, 0, out.Len())
		require.Equal(t, arrow.BinaryTypes.String, out.DataType())
	})
}

func TestNewArrayInvariants(t *testing.T) {
	elems := Int32s([]int32{1, 2, 3}, nil)
	require.Panics(t, func() { NewArray(elems, []int32{0, 2}) })
	require.Panics(t, func() { NewArray(elems, []int32{1, 3}) })
	require.Panics(t, func() { NewArray(elems, []int32{0, 3, 2, 3}) })
	require.NotPanics(t, func() { NewArray(elems, []int32{0, 0, 3}) })
}

func TestNullableMergesNestedWrappers(t *testing.T) {
	inner := NewNullableFromBools(Int32s([]int32{1, 2, 3}, nil), []bool{true, false, false})
	outer := NewNullableFromBools(inner, []bool{false, false, true})
	require.Equal(t, KindPrimitive, outer.Inner().Kind())
	require.Equal(t, 2, outer.NullN())
	require.Equal(t, []string{"NULL", "2", "NULL"}, rows(outer))
}

func TestDatumAccessors(t *testing.T) {
	c := MustFromValues(arrow.FixedWidthTypes.Boolean, true, false)
	require.Equal(t, int8(1), c.Get(0).Int8())
	require.Equal(t, int8(0), c.Get(1).Int8())

	f := Float64s([]float64{1.5}, nil)
	require.Equal(t, 1.5, f.Get(0).Float64())
	require.Equal(t, int64(1), f.Get(0).Int64())
}
