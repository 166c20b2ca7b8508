package connector

import (
	"context"
	"io"
	"os"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/cockroachdb/errors"
	"github.com/go-kit/log/level"

	"opti-lambda-go/operators"
)

// ParquetConnector reads a parquet file through pqarrow. List columns
// arrive as array columns.
type ParquetConnector struct{}

func (ParquetConnector) Open(ctx context.Context, spec SourceSpec) (operators.Source, error) {
	f, err := os.Open(spec.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening parquet source %s", spec.Path)
	}
	// the parquet file reader closes f
	src, err := openParquet(ctx, f, spec)
	if err != nil {
		f.Close()
		return nil, err
	}
	level.Info(spec.logger()).Log("msg", "parquet source opened", "path", spec.Path)
	return src, nil
}

// openParquet builds a source over r. The parquet file reader stays open
// until the source is closed.
func openParquet(ctx context.Context, r parquet.ReaderAtSeeker, spec SourceSpec, closers ...io.Closer) (*recordSource, error) {
	fileReader, err := file.NewParquetReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading parquet footer")
	}
	arrowReader, err := pqarrow.NewFileReader(
		fileReader,
		pqarrow.ArrowReadProperties{BatchSize: int64(spec.batchSize())},
		memory.DefaultAllocator,
	)
	if err != nil {
		fileReader.Close()
		return nil, errors.Wrap(err, "creating parquet arrow reader")
	}
	rdr, err := arrowReader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		fileReader.Close()
		return nil, errors.Wrap(err, "creating parquet record reader")
	}
	src, err := newRecordSource(rdr, spec, append([]io.Closer{fileReader}, closers...)...)
	if err != nil {
		rdr.Release()
		fileReader.Close()
		return nil, err
	}
	return src, nil
}
