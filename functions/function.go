// Package functions is the scalar-function library the expression engine
// calls into. Functions operate on whole Arrow arrays of equal length and
// propagate nulls unless they document otherwise.
package functions

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidArguments = func(fn string, info string) error {
		return errors.Newf("invalid arguments to %s: %s", fn, info)
	}
	ErrDuplicateFunction = func(name string) error {
		return errors.Newf("function %q already registered", name)
	}
)

// StateScope says who owns a function's per-execution state.
type StateScope int

const (
	// ThreadLocal state is created for every execution context, including
	// clones, and never shared across goroutines.
	ThreadLocal StateScope = iota
	// FragmentLocal state is created once by the first execution context
	// and shared by all of its clones; it must be safe for concurrent use.
	FragmentLocal
)

func (s StateScope) String() string {
	switch s {
	case ThreadLocal:
		return "thread_local"
	case FragmentLocal:
		return "fragment_local"
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

// ParseStateScope accepts the names printed by StateScope.String.
func ParseStateScope(s string) (StateScope, error) {
	switch s {
	case "thread_local", "":
		return ThreadLocal, nil
	case "fragment_local":
		return FragmentLocal, nil
	}
	return 0, errors.Newf("unknown state scope %q", s)
}

// State is whatever a Stateful function keeps between Eval calls. States
// implementing io.Closer are closed when their execution context closes.
type State any

type Function interface {
	Name() string
	// ResultType validates argument types and returns the output type.
	ResultType(args []arrow.DataType) (arrow.DataType, error)
	Eval(ctx context.Context, state State, args []arrow.Array) (arrow.Array, error)
}

// Stateful functions receive the state created by NewState on every Eval.
type Stateful interface {
	Function
	StateScope() StateScope
	NewState() (State, error)
}

// CloseState closes s if it holds resources.
func CloseState(s State) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type Registry struct {
	mu  sync.RWMutex
	fns map[string]Function
}

func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Function)}
}

func (r *Registry) Register(fn Function) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fns[fn.Name()]; ok {
		return ErrDuplicateFunction(fn.Name())
	}
	r.fns[fn.Name()] = fn
	return nil
}

func (r *Registry) Lookup(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fns))
	for n := range r.fns {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry holding the built-in functions.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		RegisterBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

// RegisterBuiltins adds every built-in function to r.
func RegisterBuiltins(r *Registry) {
	for _, fn := range builtins() {
		if err := r.Register(fn); err != nil {
			panic(err)
		}
	}
}

func builtins() []Function {
	fns := []Function{
		newArithmetic("add", compute.Add),
		newArithmetic("subtract", compute.Subtract),
		newArithmetic("multiply", compute.Multiply),
		newArithmetic("divide", compute.Divide),
		&unaryNumeric{name: "negate"},
		&unaryNumeric{name: "abs"},
		&unaryNumeric{name: "round", floatOnly: true},
		&logical{name: "and"},
		&logical{name: "or"},
		&stringMap{name: "upper", fn: upperImpl},
		&stringMap{name: "lower", fn: lowerImpl},
		&like{},
		&regexpMatch{},
	}
	for _, name := range []string{"equal", "not_equal", "less", "less_equal", "greater", "greater_equal"} {
		fns = append(fns, &comparison{name: name})
	}
	return fns
}

func unpackDatum(d compute.Datum) (arrow.Array, error) {
	arr, ok := d.(*compute.ArrayDatum)
	if !ok {
		return nil, errors.Newf("datum %v is not of type array", d)
	}
	return arr.MakeArray(), nil
}

func checkArity(fn string, args []arrow.DataType, n int) error {
	if len(args) != n {
		return ErrInvalidArguments(fn, fmt.Sprintf("expected %d arguments, got %d", n, len(args)))
	}
	return nil
}
