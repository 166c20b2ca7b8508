package filter

import (
	"context"
	"io"

	"opti-lambda-go/operators"
)

var (
	_ = (operators.Source)(&LimitExec{})
)

// LimitExec passes through at most count rows of its input.
type LimitExec struct {
	input     operators.Source
	remaining int
}

func NewLimitExec(input operators.Source, count int) (*LimitExec, error) {
	if count < 0 {
		return nil, ErrInvalidLimit(count)
	}
	return &LimitExec{input: input, remaining: count}, nil
}

func (l *LimitExec) Next(ctx context.Context) (*operators.Chunk, error) {
	if l.remaining == 0 {
		return nil, io.EOF
	}
	chunk, err := l.input.Next(ctx)
	if err != nil {
		return nil, err
	}
	if chunk.NumRows() <= l.remaining {
		l.remaining -= chunk.NumRows()
		return chunk, nil
	}
	rows := make([]int32, l.remaining)
	for i := range rows {
		rows[i] = int32(i)
	}
	l.remaining = 0
	return TakeRows(chunk, rows)
}

func (l *LimitExec) Scope() operators.Scope { return l.input.Scope() }

func (l *LimitExec) Close() error {
	return l.input.Close()
}
