package project

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"opti-lambda-go/Expr"
	"opti-lambda-go/column"
	"opti-lambda-go/functions"
	"opti-lambda-go/metrics"
	"opti-lambda-go/operators"
)

// sliceSource serves pre-built chunks.
type sliceSource struct {
	chunks []*operators.Chunk
	scope  operators.Scope
	pos    int
	closed bool
	failAt int
}

func (s *sliceSource) Next(ctx context.Context) (*operators.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.failAt > 0 && s.pos == s.failAt {
		return nil, fmt.Errorf("source broke at chunk %d", s.pos)
	}
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceSource) Scope() operators.Scope { return s.scope }
func (s *sliceSource) Close() error           { s.closed = true; return nil }

const (
	numbersSlot operators.SlotID = 0
	offsetSlot  operators.SlotID = 1
	wordsSlot   operators.SlotID = 2
)

var (
	int32List  = arrow.ListOf(arrow.PrimitiveTypes.Int32)
	stringList = arrow.ListOf(arrow.BinaryTypes.String)
)

func mustAppend(c *operators.Chunk, slot operators.SlotID, col column.Column) {
	if err := c.Append(slot, col); err != nil {
		panic(err)
	}
}

func newSource(n int) *sliceSource {
	src := &sliceSource{scope: operators.NewScope(map[operators.SlotID]arrow.DataType{
		numbersSlot: int32List,
		offsetSlot:  arrow.PrimitiveTypes.Int32,
		wordsSlot:   stringList,
	})}
	for i := 0; i < n; i++ {
		c := operators.NewChunk(2)
		base := i * 10
		mustAppend(c, numbersSlot, column.MustFromValues(int32List, []any{base, nil}, nil))
		mustAppend(c, offsetSlot, column.Int32s([]int32{int32(i), int32(i)}, nil))
		mustAppend(c, wordsSlot, column.MustFromValues(stringList, []any{"apple", "kiwi"}, []any{}))
		src.chunks = append(src.chunks, c)
	}
	return src
}

const projectPlan = `
outputs:
  - name: shifted
    slot: 10
    expr:
      kind: array_map
      children:
        - kind: lambda
          params: [{slot: 1000, type: int32}]
          children:
            - kind: call
              fn: add
              children:
                - {kind: column_ref, slot: 1000}
                - {kind: column_ref, slot: 1}
        - {kind: column_ref, slot: 0}
  - name: a_words
    slot: 11
    expr:
      kind: array_map
      children:
        - kind: lambda
          params: [{slot: 1001, type: string}]
          children:
            - kind: call
              fn: like
              children:
                - {kind: column_ref, slot: 1001}
                - {kind: literal, type: string, value: "a%"}
        - {kind: column_ref, slot: 2}
`

func buildPlan(t *testing.T, scope operators.Scope) *Expr.BuiltPlan {
	t.Helper()
	p, err := Expr.DecodePlan(strings.NewReader(projectPlan))
	if err != nil {
		t.Fatalf("DecodePlan: %v", err)
	}
	built, err := p.Build(functions.Default())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := built.Tree.Prepare(scope); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return built
}

func TestProjectExec(t *testing.T) {
	wantSlots := []operators.SlotID{offsetSlot, 10, 11}
	for _, scope := range []functions.StateScope{functions.FragmentLocal, functions.ThreadLocal} {
		for _, workers := range []int{1, 4} {
			t.Run(fmt.Sprintf("%s/%d workers", scope, workers), func(t *testing.T) {
				src := newSource(9)
				opts := DefaultOptions()
				opts.Workers = workers
				opts.StateScope = scope
				opts.Keep = []operators.SlotID{offsetSlot}

				proj, err := NewProjectExec(src, buildPlan(t, src.Scope()), opts)
				if err != nil {
					t.Fatalf("NewProjectExec: %v", err)
				}
				if got := proj.Scope().Slots(); !reflect.DeepEqual(got, wantSlots) {
					t.Fatalf("Expected output scope %v, got %v", wantSlots, got)
				}

				chunks, err := proj.Run(context.Background())
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
				if len(chunks) != 9 {
					t.Fatalf("Expected 9 chunks, got %d", len(chunks))
				}
				for i, c := range chunks {
					if got := c.Slots(); !reflect.DeepEqual(got, wantSlots) {
						t.Errorf("chunk %d: expected slots %v, got %v", i, wantSlots, got)
					}
					shifted, _ := c.Column(10)
					if got, want := shifted.Get(0).String(), fmt.Sprintf("[%d, NULL]", i*11); got != want {
						t.Errorf("chunk %d out of order: expected %s, got %s", i, want, got)
					}
					if !shifted.IsNull(1) {
						t.Errorf("chunk %d: expected null shifted row 1", i)
					}
					words, _ := c.Column(11)
					if got := words.Get(0).String(); got != "[true, false]" {
						t.Errorf("chunk %d: expected [true, false], got %s", i, got)
					}
					if got := words.Get(1).String(); got != "[]" {
						t.Errorf("chunk %d: expected [], got %s", i, got)
					}
				}

				if _, err := proj.Run(context.Background()); err == nil {
					t.Error("Expected error running twice")
				}
				if err := proj.Close(); err != nil {
					t.Errorf("Close: %v", err)
				}
				if !src.closed {
					t.Error("Expected source closed")
				}
			})
		}
	}
}

func TestProjectExecAsSource(t *testing.T) {
	src := newSource(3)
	proj, err := NewProjectExec(src, buildPlan(t, src.Scope()), DefaultOptions())
	if err != nil {
		t.Fatalf("NewProjectExec: %v", err)
	}

	n := 0
	for {
		c, err := proj.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if c.NumRows() != 2 {
			t.Errorf("Expected 2 rows, got %d", c.NumRows())
		}
		n++
	}
	if n != 3 {
		t.Errorf("Expected 3 chunks, got %d", n)
	}
	want := map[operators.SlotID]string{10: "shifted", 11: "a_words"}
	if got := proj.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected names %v, got %v", want, got)
	}
}

func TestProjectExecErrors(t *testing.T) {
	src := newSource(1)
	unprepared, err := Expr.DecodePlan(strings.NewReader(projectPlan))
	if err != nil {
		t.Fatalf("DecodePlan: %v", err)
	}
	built, err := unprepared.Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := NewProjectExec(src, built, DefaultOptions()); err == nil {
		t.Error("Expected error for an unprepared plan")
	}

	opts := DefaultOptions()
	opts.Keep = []operators.SlotID{99}
	if _, err := NewProjectExec(src, buildPlan(t, src.Scope()), opts); err == nil {
		t.Error("Expected error keeping a slot missing from the source")
	}

	opts.Keep = []operators.SlotID{10}
	if _, err := NewProjectExec(newSource(1), buildPlan(t, src.Scope()), opts); err == nil {
		t.Error("Expected error keeping an output slot")
	}
}

func TestProjectExecSourceFailure(t *testing.T) {
	src := newSource(5)
	src.failAt = 3
	opts := DefaultOptions()
	opts.Workers = 2
	proj, err := NewProjectExec(src, buildPlan(t, src.Scope()), opts)
	if err != nil {
		t.Fatalf("NewProjectExec: %v", err)
	}

	_, err = proj.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "source broke at chunk 3") {
		t.Errorf("Expected source failure, got %v", err)
	}
}

func TestProjectExecEvaluationFailure(t *testing.T) {
	src := newSource(4)
	c := operators.NewChunk(1)
	mustAppend(c, numbersSlot, column.MustFromValues(int32List, []any{1}))
	mustAppend(c, wordsSlot, column.MustFromValues(stringList, []any{"a"}))
	src.chunks[2] = c

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	opts := DefaultOptions()
	opts.Workers = 3
	opts.Exec.Metrics = m
	proj, err := NewProjectExec(src, buildPlan(t, src.Scope()), opts)
	if err != nil {
		t.Fatalf("NewProjectExec: %v", err)
	}

	_, err = proj.Run(context.Background())
	if code := Expr.CodeOf(err); code != Expr.CodeUnresolvedReference {
		t.Errorf("Expected %s, got %s (%v)", Expr.CodeUnresolvedReference, code, err)
	}
	// other workers may be cancelled mid-chunk and count as failures too
	if n := chunkCount(t, reg, "error"); n < 1 {
		t.Errorf("Expected at least one failed chunk, got %v", n)
	}
}

func chunkCount(t *testing.T, reg *prometheus.Registry, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "opti_lambda_project_chunks_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == status {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestProjectExecCancelled(t *testing.T) {
	src := newSource(3)
	proj, err := NewProjectExec(src, buildPlan(t, src.Scope()), DefaultOptions())
	if err != nil {
		t.Fatalf("NewProjectExec: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := proj.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
