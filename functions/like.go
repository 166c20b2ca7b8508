package functions

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/cockroachdb/errors"
	"github.com/grafana/regexp"
)

// patternCache is the per-context state of like: compiled patterns keyed by
// their SQL form. Not safe for concurrent use.
type patternCache struct {
	compiled map[string]*regexp.Regexp
	closed   bool
}

func (p *patternCache) get(pattern string) (*regexp.Regexp, error) {
	if re, ok := p.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(compileSqlRegEx(pattern))
	if err != nil {
		return nil, errors.Wrapf(err, "compiling like pattern %q", pattern)
	}
	p.compiled[pattern] = re
	return re, nil
}

func (p *patternCache) Close() error {
	p.compiled = nil
	p.closed = true
	return nil
}

// like matches a string against a SQL pattern where % is any run and _ any
// single character. Patterns may vary per row.
type like struct{}

func (*like) Name() string           { return "like" }
func (*like) StateScope() StateScope { return ThreadLocal }
func (*like) NewState() (State, error) {
	return &patternCache{compiled: make(map[string]*regexp.Regexp)}, nil
}
func (*like) ResultType(args []arrow.DataType) (arrow.DataType, error) {
	return matchResultType("like", args)
}

func (l *like) Eval(_ context.Context, state State, args []arrow.Array) (arrow.Array, error) {
	cache, ok := state.(*patternCache)
	if !ok || cache.closed {
		return nil, errors.AssertionFailedf("like evaluated without an open pattern cache")
	}
	return matchStrings("like", args, cache.get)
}

// sharedPatterns is the fragment-wide state of regexp_match. Compiled
// regexps are safe for concurrent use so clones share one cache.
type sharedPatterns struct {
	compiled sync.Map
}

func (s *sharedPatterns) get(pattern string) (*regexp.Regexp, error) {
	if re, ok := s.compiled.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling pattern %q", pattern)
	}
	actual, _ := s.compiled.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

type regexpMatch struct{}

func (*regexpMatch) Name() string             { return "regexp_match" }
func (*regexpMatch) StateScope() StateScope   { return FragmentLocal }
func (*regexpMatch) NewState() (State, error) { return &sharedPatterns{}, nil }
func (*regexpMatch) ResultType(args []arrow.DataType) (arrow.DataType, error) {
	return matchResultType("regexp_match", args)
}

func (*regexpMatch) Eval(_ context.Context, state State, args []arrow.Array) (arrow.Array, error) {
	shared, ok := state.(*sharedPatterns)
	if !ok {
		return nil, errors.AssertionFailedf("regexp_match evaluated without shared state")
	}
	return matchStrings("regexp_match", args, shared.get)
}

func matchResultType(name string, args []arrow.DataType) (arrow.DataType, error) {
	if err := checkArity(name, args, 2); err != nil {
		return nil, err
	}
	for _, a := range args {
		if a.ID() != arrow.STRING && a.ID() != arrow.NULL {
			return nil, ErrInvalidArguments(name, fmt.Sprintf("only works on strings, got %s", a))
		}
	}
	return arrow.FixedWidthTypes.Boolean, nil
}

func matchStrings(name string, args []arrow.Array, compile func(string) (*regexp.Regexp, error)) (arrow.Array, error) {
	b := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer b.Release()
	values, vok := args[0].(*array.String)
	patterns, pok := args[1].(*array.String)
	if !vok || !pok {
		// a null-typed argument makes every row null
		if args[0].DataType().ID() == arrow.NULL || args[1].DataType().ID() == arrow.NULL {
			for i := 0; i < args[0].Len(); i++ {
				b.AppendNull()
			}
			return b.NewArray(), nil
		}
		return nil, ErrInvalidArguments(name, "only works on arrays of strings")
	}
	for i := 0; i < values.Len(); i++ {
		if values.IsNull(i) || patterns.IsNull(i) {
			b.AppendNull()
			continue
		}
		re, err := compile(patterns.Value(i))
		if err != nil {
			return nil, err
		}
		b.Append(re.MatchString(values.Value(i)))
	}
	return b.NewArray(), nil
}

func compileSqlRegEx(s string) string {
	var buf bytes.Buffer

	startsWithWildcard := len(s) > 0 && s[0] == '%'
	endsWithWildcard := len(s) > 0 && s[len(s)-1] == '%'

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '_':
			buf.WriteString(".")
		case '%':
			buf.WriteString(".*")
		default:
			if strings.ContainsRune(`.^$|()[]*+?{}\`, rune(s[i])) {
				buf.WriteByte('\\')
			}
			buf.WriteByte(s[i])
		}
	}

	regex := buf.String()
	if !startsWithWildcard {
		regex = "^" + regex
	}
	if !endsWithWildcard {
		regex = regex + "$"
	}
	return "(?s)" + regex
}
