package operators

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"

	"opti-lambda-go/column"
)

var (
	ErrInvalidSchema = func(info string) error {
		return ErrInvalidChunk("invalid schema was provided: " + info)
	}
)

// SlotBinding maps a record field name to the slot it is loaded into.
type SlotBinding map[string]SlotID

// DefaultBinding assigns slots 0..n-1 in schema field order.
func DefaultBinding(schema *arrow.Schema) SlotBinding {
	b := make(SlotBinding, len(schema.Fields()))
	for i, f := range schema.Fields() {
		b[f.Name] = SlotID(i)
	}
	return b
}

// ChunkFromRecord converts the bound fields of rec into a chunk. Fields
// without a binding are skipped.
func ChunkFromRecord(rec arrow.Record, binding SlotBinding) (*Chunk, error) {
	if binding == nil {
		binding = DefaultBinding(rec.Schema())
	}
	chunk := NewChunk(int(rec.NumRows()))
	for i, f := range rec.Schema().Fields() {
		slot, ok := binding[f.Name]
		if !ok {
			continue
		}
		if err := chunk.Append(slot, column.FromArrow(rec.Column(i))); err != nil {
			return nil, err
		}
	}
	for name := range binding {
		if len(rec.Schema().FieldIndices(name)) == 0 {
			return nil, ErrInvalidSchema(fmt.Sprintf("field %q is bound but missing from record", name))
		}
	}
	return chunk, nil
}

// ChunkToRecord exports a chunk as an Arrow record. names supplies field
// names per slot; unnamed slots are called by their id.
func ChunkToRecord(chunk *Chunk, names map[SlotID]string) (arrow.Record, error) {
	fields := make([]arrow.Field, 0, chunk.NumColumns())
	cols := make([]arrow.Array, 0, chunk.NumColumns())
	for _, s := range chunk.Slots() {
		col, _ := chunk.Column(s)
		arr, err := column.ToArrow(col)
		if err != nil {
			return nil, err
		}
		name, ok := names[s]
		if !ok {
			name = strconv.Itoa(int(s))
		}
		fields = append(fields, arrow.Field{Name: name, Type: arr.DataType(), Nullable: true})
		cols = append(cols, arr)
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, int64(chunk.NumRows())), nil
}
