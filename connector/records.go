package connector

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"opti-lambda-go/operators"
)

// recordReader is the subset of array.RecordReader the sources consume.
type recordReader interface {
	Schema() *arrow.Schema
	Next() bool
	Record() arrow.Record
	Err() error
	Release()
}

// recordSource turns the records of a reader into chunks of at most
// batchSize rows.
type recordSource struct {
	reader    recordReader
	binding   operators.SlotBinding
	scope     operators.Scope
	batchSize int
	logger    log.Logger
	closers   []io.Closer

	pending arrow.Record
	offset  int64
	done    bool
}

func newRecordSource(reader recordReader, spec SourceSpec, closers ...io.Closer) (*recordSource, error) {
	schema := reader.Schema()
	binding := spec.Binding
	if binding == nil {
		binding = operators.DefaultBinding(schema)
	}
	types := make(map[operators.SlotID]arrow.DataType, len(binding))
	for name, slot := range binding {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, ErrInvalidSource(fmt.Sprintf("bound field %q is not in the source schema", name))
		}
		types[slot] = schema.Field(idx[0]).Type
	}
	return &recordSource{
		reader:    reader,
		binding:   binding,
		scope:     operators.NewScope(types),
		batchSize: spec.batchSize(),
		logger:    spec.logger(),
		closers:   closers,
	}, nil
}

func (s *recordSource) Scope() operators.Scope { return s.scope }

func (s *recordSource) Next(ctx context.Context) (*operators.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.reader == nil {
		return nil, io.EOF
	}
	for s.pending == nil {
		if s.done || !s.reader.Next() {
			s.done = true
			if err := s.reader.Err(); err != nil && err != io.EOF {
				return nil, err
			}
			return nil, io.EOF
		}
		rec := s.reader.Record()
		if rec.NumRows() == 0 {
			continue
		}
		// chunks keep referencing the record's buffers after the reader
		// moves on, so it is retained and never released here
		rec.Retain()
		s.pending, s.offset = rec, 0
	}

	end := s.pending.NumRows()
	if s.batchSize > 0 && end-s.offset > int64(s.batchSize) {
		end = s.offset + int64(s.batchSize)
	}
	rec := s.pending.NewSlice(s.offset, end)
	if end == s.pending.NumRows() {
		s.pending = nil
	} else {
		s.offset = end
	}

	chunk, err := operators.ChunkFromRecord(rec, s.binding)
	if err != nil {
		return nil, err
	}
	level.Debug(s.logger).Log("msg", "chunk read", "rows", chunk.NumRows(), "columns", chunk.NumColumns())
	return chunk, nil
}

func (s *recordSource) Close() error {
	if s.reader == nil {
		return nil
	}
	s.pending = nil
	s.done = true
	s.reader.Release()
	s.reader = nil
	var errs error
	for _, c := range s.closers {
		errs = errors.CombineErrors(errs, c.Close())
	}
	s.closers = nil
	return errs
}
