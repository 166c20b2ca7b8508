// Package column implements the in-memory column variants evaluated by the
// expression engine: dense primitive columns, nullable wrappers, array
// (list) columns and constant columns. All variants are backed by Arrow
// memory and are immutable once constructed.
package column

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/bitutil"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/arrow/scalar"
	"github.com/cockroachdb/errors"
)

var mem = memory.DefaultAllocator

type Kind int

const (
	KindPrimitive Kind = iota
	KindNullable
	KindArray
	KindConst
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindNullable:
		return "nullable"
	case KindArray:
		return "array"
	case KindConst:
		return "const"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	_ = (Column)(&Primitive{})
	_ = (Column)(&Nullable{})
	_ = (Column)(&Array{})
	_ = (Column)(&Const{})
)

// Column is a sequence of Len() values of one logical type.
type Column interface {
	Kind() Kind
	// DataType is the logical Arrow type of the values, ignoring nullability.
	DataType() arrow.DataType
	Len() int
	IsNull(i int) bool
	// Get returns the value at row i as a tagged Datum.
	Get(i int) Datum
	fmt.Stringer
}

// Primitive is a dense run of values. The backing array never carries a
// validity bitmap, nulls are expressed by wrapping it in a Nullable.
type Primitive struct {
	arr arrow.Array
}

func NewPrimitive(arr arrow.Array) *Primitive {
	if arr.NullN() > 0 && arr.DataType().ID() != arrow.NULL {
		arr = stripValidity(arr)
	}
	return &Primitive{arr: arr}
}

func (p *Primitive) Kind() Kind               { return KindPrimitive }
func (p *Primitive) DataType() arrow.DataType { return p.arr.DataType() }
func (p *Primitive) Len() int                 { return p.arr.Len() }
func (p *Primitive) IsNull(int) bool          { return false }
func (p *Primitive) Arrow() arrow.Array       { return p.arr }

func (p *Primitive) Get(i int) Datum {
	if p.arr.DataType().ID() == arrow.NULL {
		return Datum{}
	}
	s, err := scalar.GetScalar(p.arr, i)
	if err != nil {
		return Datum{}
	}
	return Datum{scalar: s}
}

func (p *Primitive) String() string {
	return fmt.Sprintf("Primitive(%s, %d)", p.arr.DataType(), p.arr.Len())
}

// Nullable wraps a column with a null bitmap of the same length. A set bit
// marks the row as null.
type Nullable struct {
	inner Column
	nulls []byte
}

func NewNullable(inner Column, nulls []byte) *Nullable {
	if int64(len(nulls)) < bitutil.BytesForBits(int64(inner.Len())) {
		panic(errors.AssertionFailedf("null bitmap holds %d bytes, %d rows need %d",
			len(nulls), inner.Len(), bitutil.BytesForBits(int64(inner.Len()))))
	}
	if n, ok := inner.(*Nullable); ok {
		merged := make([]byte, len(nulls))
		for i := 0; i < inner.Len(); i++ {
			if bitutil.BitIsSet(nulls, i) || n.IsNull(i) {
				bitutil.SetBit(merged, i)
			}
		}
		return &Nullable{inner: n.inner, nulls: merged}
	}
	return &Nullable{inner: inner, nulls: nulls}
}

// NewNullableFromBools is NewNullable with a bool-per-row indicator.
func NewNullableFromBools(inner Column, isNull []bool) *Nullable {
	if len(isNull) != inner.Len() {
		panic(errors.AssertionFailedf("null indicator length %d != column length %d", len(isNull), inner.Len()))
	}
	nulls := make([]byte, bitutil.BytesForBits(int64(len(isNull))))
	for i, null := range isNull {
		if null {
			bitutil.SetBit(nulls, i)
		}
	}
	return NewNullable(inner, nulls)
}

func (n *Nullable) Kind() Kind               { return KindNullable }
func (n *Nullable) DataType() arrow.DataType { return n.inner.DataType() }
func (n *Nullable) Len() int                 { return n.inner.Len() }
func (n *Nullable) IsNull(i int) bool        { return bitutil.BitIsSet(n.nulls, i) }
func (n *Nullable) Inner() Column            { return n.inner }
func (n *Nullable) NullBitmap() []byte       { return n.nulls }

func (n *Nullable) NullN() int {
	count := 0
	for i := 0; i < n.Len(); i++ {
		if n.IsNull(i) {
			count++
		}
	}
	return count
}

func (n *Nullable) Get(i int) Datum {
	if n.IsNull(i) {
		return Datum{}
	}
	return n.inner.Get(i)
}

func (n *Nullable) String() string {
	return fmt.Sprintf("Nullable(%s)", n.inner)
}

// Array is a list column: row i holds elements[offsets[i]:offsets[i+1]].
type Array struct {
	elements Column
	offsets  []int32
}

func NewArray(elements Column, offsets []int32) *Array {
	if len(offsets) == 0 {
		panic(errors.AssertionFailedf("array offsets must hold at least one entry"))
	}
	if offsets[0] != 0 {
		panic(errors.AssertionFailedf("array offsets must start at 0, got %d", offsets[0]))
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] < offsets[i-1] {
			panic(errors.AssertionFailedf("array offsets decrease at %d: %d < %d", i, offsets[i], offsets[i-1]))
		}
	}
	if last := offsets[len(offsets)-1]; int(last) != elements.Len() {
		panic(errors.AssertionFailedf("array offsets end at %d but element column has %d rows", last, elements.Len()))
	}
	return &Array{elements: elements, offsets: offsets}
}

func (a *Array) Kind() Kind               { return KindArray }
func (a *Array) DataType() arrow.DataType { return arrow.ListOf(a.elements.DataType()) }
func (a *Array) Len() int                 { return len(a.offsets) - 1 }
func (a *Array) IsNull(int) bool          { return false }
func (a *Array) Elements() Column         { return a.elements }
func (a *Array) Offsets() []int32         { return a.offsets }

// Span returns the half-open element range of row i.
func (a *Array) Span(i int) (start, end int) {
	return int(a.offsets[i]), int(a.offsets[i+1])
}

func (a *Array) Get(i int) Datum {
	start, end := a.Span(i)
	elems := make([]Datum, 0, end-start)
	for j := start; j < end; j++ {
		elems = append(elems, a.elements.Get(j))
	}
	return Datum{array: elems, isArray: true}
}

func (a *Array) String() string {
	return fmt.Sprintf("Array(%s, %d)", a.elements, a.Len())
}

// Const is a single value logically repeated n times.
type Const struct {
	value Column
	n     int
}

func NewConst(value Column, n int) *Const {
	if c, ok := value.(*Const); ok {
		value = c.value
	}
	if value.Len() != 1 {
		panic(errors.AssertionFailedf("constant value must hold exactly one row, got %d", value.Len()))
	}
	return &Const{value: value, n: n}
}

func (c *Const) Kind() Kind               { return KindConst }
func (c *Const) DataType() arrow.DataType { return c.value.DataType() }
func (c *Const) Len() int                 { return c.n }
func (c *Const) IsNull(int) bool          { return c.value.IsNull(0) }
func (c *Const) Get(int) Datum            { return c.value.Get(0) }

// Value returns the one-row column holding the repeated value.
func (c *Const) Value() Column { return c.value }

func (c *Const) String() string {
	return fmt.Sprintf("Const(%s x %d)", c.value, c.n)
}

// AsArray unwraps c into its array column and optional null wrapper.
func AsArray(c Column) (*Array, *Nullable, bool) {
	switch col := c.(type) {
	case *Array:
		return col, nil, true
	case *Nullable:
		if arr, ok := col.inner.(*Array); ok {
			return arr, col, true
		}
	}
	return nil, nil, false
}

func IsConst(c Column) bool {
	_, ok := c.(*Const)
	return ok
}

// Empty returns a zero-row column of type dt.
func Empty(dt arrow.DataType) Column {
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	return FromArrow(b.NewArray())
}

func stripValidity(arr arrow.Array) arrow.Array {
	data := arr.Data()
	bufs := make([]*memory.Buffer, len(data.Buffers()))
	copy(bufs, data.Buffers())
	bufs[0] = nil
	nd := array.NewData(data.DataType(), data.Len(), bufs, data.Children(), 0, data.Offset())
	defer nd.Release()
	return array.MakeFromData(nd)
}
