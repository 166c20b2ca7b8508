package column

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v17/arrow/scalar"
)

// Datum is a single value read out of a column: null, a scalar, or the
// elements of one array row.
type Datum struct {
	scalar  scalar.Scalar
	array   []Datum
	isArray bool
}

func NewDatum(s scalar.Scalar) Datum {
	if s == nil || !s.IsValid() {
		return Datum{}
	}
	return Datum{scalar: s}
}

func (d Datum) IsNull() bool          { return !d.isArray && d.scalar == nil }
func (d Datum) IsArray() bool         { return d.isArray }
func (d Datum) Array() []Datum        { return d.array }
func (d Datum) Scalar() scalar.Scalar { return d.scalar }

func (d Datum) Int8() int8 {
	switch s := d.scalar.(type) {
	case *scalar.Int8:
		return s.Value
	case *scalar.Boolean:
		if s.Value {
			return 1
		}
		return 0
	}
	return int8(d.Int64())
}

func (d Datum) Int32() int32 {
	if s, ok := d.scalar.(*scalar.Int32); ok {
		return s.Value
	}
	return int32(d.Int64())
}

func (d Datum) Int64() int64 {
	switch s := d.scalar.(type) {
	case *scalar.Int8:
		return int64(s.Value)
	case *scalar.Int16:
		return int64(s.Value)
	case *scalar.Int32:
		return int64(s.Value)
	case *scalar.Int64:
		return s.Value
	case *scalar.Uint8:
		return int64(s.Value)
	case *scalar.Uint16:
		return int64(s.Value)
	case *scalar.Uint32:
		return int64(s.Value)
	case *scalar.Uint64:
		return int64(s.Value)
	case *scalar.Float32:
		return int64(s.Value)
	case *scalar.Float64:
		return int64(s.Value)
	case *scalar.Boolean:
		if s.Value {
			return 1
		}
	}
	return 0
}

func (d Datum) Float64() float64 {
	switch s := d.scalar.(type) {
	case *scalar.Float32:
		return float64(s.Value)
	case *scalar.Float64:
		return s.Value
	}
	return float64(d.Int64())
}

func (d Datum) Bool() bool {
	if s, ok := d.scalar.(*scalar.Boolean); ok {
		return s.Value
	}
	return d.Int64() != 0
}

// String renders the datum the way rows are printed by the CLI: NULL for
// nulls and bracketed element lists for arrays.
func (d Datum) String() string {
	switch {
	case d.isArray:
		parts := make([]string, len(d.array))
		for i, e := range d.array {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case d.scalar == nil:
		return "NULL"
	}
	switch s := d.scalar.(type) {
	case *scalar.String:
		return string(s.Data())
	case *scalar.Binary:
		return fmt.Sprintf("%x", s.Data())
	}
	return d.scalar.String()
}
