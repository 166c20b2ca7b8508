package functions

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

type stringMap struct {
	name string
	fn   func(arrow.Array) (arrow.Array, error)
}

func (s *stringMap) Name() string { return s.name }

func (s *stringMap) ResultType(args []arrow.DataType) (arrow.DataType, error) {
	if err := checkArity(s.name, args, 1); err != nil {
		return nil, err
	}
	if args[0].ID() != arrow.STRING {
		return nil, ErrInvalidArguments(s.name, fmt.Sprintf("only supports string arrays, got %s", args[0]))
	}
	return arrow.BinaryTypes.String, nil
}

func (s *stringMap) Eval(_ context.Context, _ State, args []arrow.Array) (arrow.Array, error) {
	return s.fn(args[0])
}

func upperImpl(arr arrow.Array) (arrow.Array, error) {
	return mapStrings("upper", arr, strings.ToUpper)
}

func lowerImpl(arr arrow.Array) (arrow.Array, error) {
	return mapStrings("lower", arr, strings.ToLower)
}

func mapStrings(name string, arr arrow.Array, fn func(string) string) (arrow.Array, error) {
	strArr, ok := arr.(*array.String)
	if !ok {
		return nil, ErrInvalidArguments(name, fmt.Sprintf("only supports string arrays, got %s", arr.DataType()))
	}
	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < strArr.Len(); i++ {
		if strArr.IsNull(i) {
			b.AppendNull()
		} else {
			b.Append(fn(strArr.Value(i)))
		}
	}
	return b.NewArray(), nil
}
