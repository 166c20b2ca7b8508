package operators

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/cockroachdb/errors"

	"opti-lambda-go/column"
)

var (
	ErrInvalidChunk = func(info string) error {
		return errors.Newf("invalid chunk was provided. context: %s", info)
	}
)

// SlotID names a column position in a chunk. Outer columns and lambda
// parameters share one id space.
type SlotID int32

// Source produces chunks. Next returns io.EOF once exhausted; call Close
// afterwards to release resources.
type Source interface {
	Next(ctx context.Context) (*Chunk, error)
	Scope() Scope
	Close() error
}

// Chunk is an ordered set of equally sized columns keyed by slot id.
type Chunk struct {
	slots []SlotID
	cols  []column.Column
	index map[SlotID]int
	rows  int
}

func NewChunk(rows int) *Chunk {
	return &Chunk{
		index: make(map[SlotID]int),
		rows:  rows,
	}
}

func (c *Chunk) Append(slot SlotID, col column.Column) error {
	if col.Len() != c.rows {
		return ErrInvalidChunk(fmt.Sprintf("slot %d has %d rows, chunk has %d", slot, col.Len(), c.rows))
	}
	if _, ok := c.index[slot]; ok {
		return ErrInvalidChunk(fmt.Sprintf("slot %d appended twice", slot))
	}
	c.index[slot] = len(c.cols)
	c.slots = append(c.slots, slot)
	c.cols = append(c.cols, col)
	return nil
}

func (c *Chunk) Column(slot SlotID) (column.Column, bool) {
	i, ok := c.index[slot]
	if !ok {
		return nil, false
	}
	return c.cols[i], true
}

func (c *Chunk) NumRows() int    { return c.rows }
func (c *Chunk) NumColumns() int { return len(c.cols) }

func (c *Chunk) Slots() []SlotID {
	out := make([]SlotID, len(c.slots))
	copy(out, c.slots)
	return out
}

// Project returns a chunk holding only the requested slots, in the order
// given. Missing slots are an error.
func (c *Chunk) Project(slots ...SlotID) (*Chunk, error) {
	out := NewChunk(c.rows)
	for _, s := range slots {
		col, ok := c.Column(s)
		if !ok {
			return nil, ErrInvalidChunk(fmt.Sprintf("slot %d not present", s))
		}
		if err := out.Append(s, col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Chunk) Scope() Scope {
	types := make(map[SlotID]arrow.DataType, len(c.slots))
	for i, s := range c.slots {
		types[s] = c.cols[i].DataType()
	}
	return NewScope(types)
}

func (c *Chunk) String() string {
	var sb strings.Builder
	for i, s := range c.slots {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%d:%s", s, c.cols[i])
	}
	return sb.String()
}

// Scope reports the declared type of every slot visible to an expression.
type Scope interface {
	SlotType(SlotID) (arrow.DataType, bool)
	Slots() []SlotID
}

type mapScope map[SlotID]arrow.DataType

func NewScope(types map[SlotID]arrow.DataType) Scope {
	s := make(mapScope, len(types))
	for k, v := range types {
		s[k] = v
	}
	return s
}

func (m mapScope) SlotType(id SlotID) (arrow.DataType, bool) {
	dt, ok := m[id]
	return dt, ok
}

func (m mapScope) Slots() []SlotID {
	out := make([]SlotID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
