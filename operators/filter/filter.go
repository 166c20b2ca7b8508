package filter

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/cockroachdb/errors"

	"opti-lambda-go/Expr"
	"opti-lambda-go/column"
	"opti-lambda-go/functions"
	"opti-lambda-go/operators"
)

var (
	_ = (operators.Source)(&FilterExec{})
)

var (
	ErrInvalidPredicate = func(info string) error {
		return errors.Newf("invalid filter predicate: %s", info)
	}
	ErrInvalidLimit = func(count int) error {
		return errors.Newf("limit must not be negative, got %d", count)
	}
)

// FilterExec keeps the rows of each input chunk for which the predicate is
// true. Null predicate results drop the row.
type FilterExec struct {
	input operators.Source
	exec  *Expr.ExecContext
	done  bool
}

// NewFilterExec opens an execution context for predicate, which must be a
// boolean root of a prepared tree.
func NewFilterExec(input operators.Source, tree *Expr.Tree, predicate Expr.ExprID, opts Expr.ExecOptions) (*FilterExec, error) {
	if !tree.Prepared() {
		return nil, ErrInvalidPredicate("tree must be prepared")
	}
	if dt := tree.Type(predicate); dt == nil || dt.ID() != arrow.BOOL {
		return nil, ErrInvalidPredicate("predicate " + tree.Format(predicate) + " is not boolean")
	}
	exec, err := Expr.NewExecContext(tree, predicate, opts)
	if err != nil {
		return nil, err
	}
	if err := exec.Open(functions.FragmentLocal); err != nil {
		return nil, errors.CombineErrors(err, exec.Close())
	}
	return &FilterExec{input: input, exec: exec}, nil
}

func (f *FilterExec) Next(ctx context.Context) (*operators.Chunk, error) {
	if f.done {
		return nil, io.EOF
	}
	chunk, err := f.input.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			f.done = true
		}
		return nil, err
	}
	mask, err := f.exec.EvaluateContext(ctx, chunk)
	if err != nil {
		return nil, err
	}
	keep := make([]int32, 0, chunk.NumRows())
	for i := 0; i < mask.Len(); i++ {
		if v := mask.Get(i); !v.IsNull() && v.Bool() {
			keep = append(keep, int32(i))
		}
	}
	if len(keep) == chunk.NumRows() {
		return chunk, nil
	}
	return TakeRows(chunk, keep)
}

func (f *FilterExec) Scope() operators.Scope { return f.input.Scope() }

func (f *FilterExec) Close() error {
	return errors.CombineErrors(f.exec.Close(), f.input.Close())
}

// TakeRows gathers the given rows of every column into a new chunk.
func TakeRows(chunk *operators.Chunk, rows []int32) (*operators.Chunk, error) {
	out := operators.NewChunk(len(rows))
	for _, s := range chunk.Slots() {
		col, _ := chunk.Column(s)
		taken, err := column.Take(col, rows)
		if err != nil {
			return nil, errors.Wrapf(err, "slot %d", s)
		}
		if err := out.Append(s, taken); err != nil {
			return nil, err
		}
	}
	return out, nil
}
