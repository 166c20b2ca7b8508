package connector

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/go-kit/log/level"

	"opti-lambda-go/column"
	"opti-lambda-go/config"
	"opti-lambda-go/operators"
)

// CSVConnector reads a headered CSV file. Column types are inferred from
// the first data row; a cell like [1,NULL,3] makes an array column.
type CSVConnector struct{}

func (CSVConnector) Open(_ context.Context, spec SourceSpec) (operators.Source, error) {
	f, err := os.Open(spec.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening csv source %s", spec.Path)
	}
	src, err := openCSV(f, spec, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	level.Info(spec.logger()).Log("msg", "csv source opened", "path", spec.Path)
	return src, nil
}

func openCSV(r io.Reader, spec SourceSpec, closers ...io.Closer) (*recordSource, error) {
	reader, err := newCSVReader(r, spec.batchSize())
	if err != nil {
		return nil, err
	}
	return newRecordSource(reader, spec, closers...)
}

// csvReader decodes CSV rows into records of up to batchSize rows.
type csvReader struct {
	r            *csv.Reader
	schema       *arrow.Schema
	batchSize    int
	firstDataRow []string
	cur          arrow.Record
	err          error
	done         bool
}

func newCSVReader(source io.Reader, batchSize int) (*csvReader, error) {
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	c := &csvReader{r: csv.NewReader(source), batchSize: batchSize}
	var err error
	c.schema, err = c.parseHeader()
	return c, err
}

func (c *csvReader) Schema() *arrow.Schema { return c.schema }
func (c *csvReader) Record() arrow.Record  { return c.cur }
func (c *csvReader) Err() error            { return c.err }

func (c *csvReader) Release() {
	c.cur = nil
	c.done = true
}

func (c *csvReader) Next() bool {
	if c.done {
		return false
	}
	builders := c.initBuilders()
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	rows := 0
	if c.firstDataRow != nil {
		if c.err = c.processRow(c.firstDataRow, builders); c.err != nil {
			return false
		}
		c.firstDataRow = nil
		rows++
	}
	for rows < c.batchSize {
		row, err := c.r.Read()
		if err == io.EOF {
			c.done = true
			break
		}
		if err != nil {
			c.err = err
			return false
		}
		if c.err = c.processRow(row, builders); c.err != nil {
			return false
		}
		rows++
	}
	if rows == 0 {
		return false
	}

	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
	}
	c.cur = array.NewRecord(c.schema, cols, int64(rows))
	return true
}

func (c *csvReader) initBuilders() []array.Builder {
	fields := c.schema.Fields()
	builders := make([]array.Builder, len(fields))
	for i, f := range fields {
		builders[i] = array.NewBuilder(memory.DefaultAllocator, f.Type)
	}
	return builders
}

// processRow appends one row. Cells that do not parse as the column type
// become nulls.
func (c *csvReader) processRow(content []string, builders []array.Builder) error {
	if len(content) != len(builders) {
		return ErrInvalidSource(fmt.Sprintf("csv row has %d cells, header has %d", len(content), len(builders)))
	}
	for i, f := range c.schema.Fields() {
		if err := column.AppendValue(builders[i], parseCell(content[i], f.Type)); err != nil {
			return errors.Wrapf(err, "column %s", f.Name)
		}
	}
	return nil
}

// first call to csv.Reader
func (c *csvReader) parseHeader() (*arrow.Schema, error) {
	header, err := c.r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading csv header")
	}
	firstDataRow, err := c.r.Read()
	if err == io.EOF {
		c.done = true
		firstDataRow = make([]string, len(header))
	} else if err != nil {
		return nil, errors.Wrap(err, "reading first csv row")
	} else {
		c.firstDataRow = firstDataRow
	}
	fields := make([]arrow.Field, 0, len(header))
	for i, name := range header {
		fields = append(fields, arrow.Field{
			Name:     strings.TrimSpace(name),
			Type:     parseDataType(firstDataRow[i]),
			Nullable: true,
		})
	}
	return arrow.NewSchema(fields, nil), nil
}

func isNullCell(s string) bool {
	return s == "" || strings.EqualFold(s, "NULL")
}

func arrayCell(s string) ([]string, bool) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, false
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return []string{}, true
	}
	items := strings.Split(inner, ",")
	for i := range items {
		items[i] = strings.TrimSpace(items[i])
	}
	return items, true
}

func parseDataType(sample string) arrow.DataType {
	sample = strings.TrimSpace(sample)

	if isNullCell(sample) {
		return arrow.BinaryTypes.String
	}

	if items, ok := arrayCell(sample); ok {
		for _, item := range items {
			if !isNullCell(item) {
				return arrow.ListOf(parseDataType(item))
			}
		}
		return arrow.ListOf(arrow.PrimitiveTypes.Int64)
	}

	if sample == "true" || sample == "false" {
		return arrow.FixedWidthTypes.Boolean
	}
	if _, err := strconv.ParseInt(sample, 10, 64); err == nil {
		return arrow.PrimitiveTypes.Int64
	}
	if _, err := strconv.ParseFloat(sample, 64); err == nil {
		return arrow.PrimitiveTypes.Float64
	}
	return arrow.BinaryTypes.String
}

// parseCell converts a cell into the value AppendValue expects for dt, or
// nil for a null.
func parseCell(cell string, dt arrow.DataType) any {
	cell = strings.TrimSpace(cell)
	if isNullCell(cell) {
		return nil
	}
	switch dt.ID() {
	case arrow.INT64:
		if v, err := strconv.ParseInt(cell, 10, 64); err == nil {
			return v
		}
	case arrow.FLOAT64:
		if v, err := strconv.ParseFloat(cell, 64); err == nil {
			return v
		}
	case arrow.BOOL:
		if v, err := strconv.ParseBool(cell); err == nil {
			return v
		}
	case arrow.STRING:
		return cell
	case arrow.LIST:
		items, ok := arrayCell(cell)
		if !ok {
			return nil
		}
		elem := dt.(*arrow.ListType).Elem()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = parseCell(item, elem)
		}
		return out
	}
	return nil
}
