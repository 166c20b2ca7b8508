package Expr

import (
	"github.com/cockroachdb/errors"

	"opti-lambda-go/operators"
)

// Sentinels. Concrete errors are marked with one of these, test with
// errors.Is.
var (
	ErrArity               = errors.New("lambda arity mismatch")
	ErrConfiguration       = errors.New("invalid expression configuration")
	ErrUnresolvedReference = errors.New("unresolved column reference")
	ErrArrayLength         = errors.New("array operands differ in length")
	ErrLifecycle           = errors.New("execution context used out of order")
)

var (
	ErrUnsupportedExpression = func(info string) error {
		return errors.Mark(errors.Newf("unsupported expression: %s", info), ErrConfiguration)
	}
)

type Code int

const (
	CodeUnknown Code = iota
	CodeArity
	CodeConfiguration
	CodeUnresolvedReference
	CodeArrayLength
	CodeLifecycle
)

func (c Code) String() string {
	switch c {
	case CodeArity:
		return "arity"
	case CodeConfiguration:
		return "configuration"
	case CodeUnresolvedReference:
		return "unresolved_reference"
	case CodeArrayLength:
		return "array_length"
	case CodeLifecycle:
		return "lifecycle"
	}
	return "unknown"
}

// CodeOf classifies err. Errors raised by scalar functions or other
// collaborators are CodeUnknown.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, ErrArity):
		return CodeArity
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrUnresolvedReference):
		return CodeUnresolvedReference
	case errors.Is(err, ErrArrayLength):
		return CodeArrayLength
	case errors.Is(err, ErrLifecycle):
		return CodeLifecycle
	}
	return CodeUnknown
}

func arityErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrArity)
}

func configErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfiguration)
}

func configWrapf(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrConfiguration)
}

func lifecycleErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrLifecycle)
}

func unresolvedError(slot operators.SlotID) error {
	return errors.Mark(errors.Newf("slot %d is not present in the chunk", slot), ErrUnresolvedReference)
}

func markArrayLength(info string) error {
	return errors.Mark(errors.Newf("array_map operands differ in length: %s", info), ErrArrayLength)
}
