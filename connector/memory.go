package connector

import (
	"context"

	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/cockroachdb/errors"
	"github.com/go-kit/log/level"

	"opti-lambda-go/operators"
)

// MemoryConnector serves records already held in memory. All records must
// share one schema.
type MemoryConnector struct{}

func (MemoryConnector) Open(_ context.Context, spec SourceSpec) (operators.Source, error) {
	if len(spec.Records) == 0 {
		return nil, ErrInvalidSource("memory source needs at least one record")
	}
	reader, err := array.NewRecordReader(spec.Records[0].Schema(), spec.Records)
	if err != nil {
		return nil, errors.Wrap(err, "memory source")
	}
	src, err := newRecordSource(reader, spec)
	if err != nil {
		reader.Release()
		return nil, err
	}
	level.Debug(spec.logger()).Log("msg", "memory source opened", "records", len(spec.Records))
	return src, nil
}
