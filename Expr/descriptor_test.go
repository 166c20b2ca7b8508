package Expr

import (
	"strings"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/stretchr/testify/require"

	"opti-lambda-go/column"
	"opti-lambda-go/operators"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want arrow.DataType
	}{
		{"int32", arrow.PrimitiveTypes.Int32},
		{" Float64 ", arrow.PrimitiveTypes.Float64},
		{"utf8", arrow.BinaryTypes.String},
		{"bool", arrow.FixedWidthTypes.Boolean},
		{"array<int64>", arrow.ListOf(arrow.PrimitiveTypes.Int64)},
		{"array<array<int32>>", arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Int32))},
		{"list<string>", arrow.ListOf(arrow.BinaryTypes.String)},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		require.NoError(t, err, tt.in)
		require.True(t, sameType(tt.want, got), "%s parsed as %s", tt.in, got)
	}

	for _, bad := range []string{"decimal", "array<>", "array<int32", ""} {
		_, err := ParseType(bad)
		requireCode(t, err, CodeConfiguration)
	}
}

// The lambda layout carries the body first and the parameters as trailing
// column_ref children.
const addCapturedDescriptor = `
kind: array_map
children:
  - kind: lambda
    children:
      - kind: call
        fn: add
        children:
          - kind: column_ref
            slot: 100000
          - kind: column_ref
            slot: 1
            type: int32
      - kind: column_ref
        slot: 100000
        type: int32
  - kind: column_ref
    slot: 0
    type: array<int32>
`

func TestDescriptorBuild(t *testing.T) {
	d, err := Decode(strings.NewReader(addCapturedDescriptor))
	require.NoError(t, err)

	tree, root, err := Build(d, nil)
	require.NoError(t, err)
	require.NoError(t, tree.Prepare(nil))
	require.Equal(t, []ExprID{root}, tree.Roots())
	require.True(t, sameType(int32List, tree.Type(root)))

	am := tree.Node(root).(*ArrayMap)
	require.Equal(t, []operators.SlotID{paramSlot}, am.Lambda.BoundParameterIDs())
	require.Equal(t, []operators.SlotID{capturedSlot}, am.Lambda.CapturedSlotIDs())

	chunk := operators.NewChunk(2)
	require.NoError(t, chunk.Append(arraySlot, listCol([]any{1, 2}, nil)))
	require.NoError(t, chunk.Append(capturedSlot, ones(2)))
	out := evaluate(t, tree, root, DefaultExecOptions(), chunk)
	require.Equal(t, []string{"[2, 3]", "NULL"}, rowsOf(out))
}

func TestDescriptorParamsField(t *testing.T) {
	src := `
kind: array_map
children:
  - kind: lambda
    params:
      - slot: 100000
    children:
      - kind: is_null
        children:
          - kind: column_ref
            slot: 100000
  - kind: column_ref
    slot: 0
    type: array<int32>
`
	d, err := Decode(strings.NewReader(src))
	require.NoError(t, err)
	tree, root, err := Build(d, nil)
	require.NoError(t, err)
	require.NoError(t, tree.Prepare(nil), "parameter type comes from the array elements")

	am := tree.Node(root).(*ArrayMap)
	require.True(t, sameType(int32Type, am.Lambda.Params[0].Type))
}

func TestDescriptorLiterals(t *testing.T) {
	src := `
kind: call
fn: add
children:
  - kind: literal
    type: int64
    value: 40
  - kind: literal
    type: int64
    value: 2
`
	d, err := Decode(strings.NewReader(src))
	require.NoError(t, err)
	tree, root, err := Build(d, nil)
	require.NoError(t, err)
	require.NoError(t, tree.Prepare(nil))

	out := evaluate(t, tree, root, DefaultExecOptions(), operators.NewChunk(3))
	require.Equal(t, []string{"42", "42", "42"}, rowsOf(out))

	s, err := LiteralScalar(int32List, []any{1, nil, 3})
	require.NoError(t, err)
	require.True(t, s.IsValid())
	null, err := LiteralScalar(int32Type, nil)
	require.NoError(t, err)
	require.False(t, null.IsValid())
}

func TestDescriptorErrors(t *testing.T) {
	tests := map[string]string{
		"unknown kind":        "kind: window",
		"column without slot": "kind: column_ref",
		"literal without type": `
kind: literal
value: 1`,
		"literal of wrong type": `
kind: literal
type: int32
value: abc`,
		"array_map without lambda": `
kind: array_map
children:
  - kind: column_ref
    slot: 0`,
		"lambda without body": `
kind: array_map
children:
  - kind: lambda`,
		"params and column_ref parameters": `
kind: array_map
children:
  - kind: lambda
    params:
      - slot: 1
    children:
      - kind: column_ref
        slot: 1
      - kind: column_ref
        slot: 2
  - kind: column_ref
    slot: 0`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			d, err := Decode(strings.NewReader(src))
			require.NoError(t, err)
			_, _, err = Build(d, nil)
			requireCode(t, err, CodeConfiguration)
		})
	}

	_, err := Decode(strings.NewReader("kind: [unclosed"))
	requireCode(t, err, CodeConfiguration)
}

const twoOutputPlan = `
slots:
  numbers: 0
  offset: 1
outputs:
  - name: shifted
    slot: 10
    expr:
      kind: array_map
      children:
        - kind: lambda
          params:
            - slot: 100000
              type: int32
          children:
            - kind: call
              fn: add
              children:
                - kind: column_ref
                  slot: 100000
                - kind: column_ref
                  slot: 1
        - kind: column_ref
          slot: 0
  - name: missing
    slot: 11
    expr:
      kind: is_null
      children:
        - kind: column_ref
          slot: 0
`

func TestPlanBuild(t *testing.T) {
	p, err := DecodePlan(strings.NewReader(twoOutputPlan))
	require.NoError(t, err)
	built, err := p.Build(nil)
	require.NoError(t, err)
	require.Equal(t, operators.SlotBinding{"numbers": 0, "offset": 1}, built.Binding)
	require.Len(t, built.Outputs, 2)
	require.Equal(t, "shifted", built.Outputs[0].Name)
	require.Equal(t, operators.SlotID(11), built.Outputs[1].Slot)

	scope := operators.NewScope(map[operators.SlotID]arrow.DataType{
		0: int32List,
		1: int32Type,
	})
	require.NoError(t, built.Tree.Prepare(scope))
	require.ElementsMatch(t, []ExprID{built.Outputs[0].Root, built.Outputs[1].Root}, built.Tree.Roots())

	chunk := operators.NewChunk(2)
	require.NoError(t, chunk.Append(0, listCol([]any{1, nil}, nil)))
	require.NoError(t, chunk.Append(1, column.Int32s([]int32{10, 20}, nil)))
	shifted := evaluate(t, built.Tree, built.Outputs[0].Root, DefaultExecOptions(), chunk)
	require.Equal(t, []string{"[11, NULL]", "NULL"}, rowsOf(shifted))
	missing := evaluate(t, built.Tree, built.Outputs[1].Root, DefaultExecOptions(), chunk)
	require.Equal(t, []string{"false", "true"}, rowsOf(missing))
}

func TestPlanErrors(t *testing.T) {
	_, err := DecodePlan(strings.NewReader("slots: {a: 0}"))
	requireCode(t, err, CodeConfiguration)

	p, err := DecodePlan(strings.NewReader(`
outputs:
  - name: a
    slot: 1
    expr: {kind: column_ref, slot: 0, type: int32}
  - name: b
    slot: 1
    expr: {kind: column_ref, slot: 0, type: int32}
`))
	require.NoError(t, err)
	_, err = p.Build(nil)
	requireCode(t, err, CodeConfiguration)
}

func TestPlanFilter(t *testing.T) {
	p, err := DecodePlan(strings.NewReader(`
slots: {offset: 1}
filter:
  kind: call
  fn: greater
  children:
    - {kind: column_ref, slot: 1}
    - {kind: literal, type: int32, value: 15}
outputs:
  - name: offset
    slot: 2
    expr: {kind: column_ref, slot: 1}
`))
	require.NoError(t, err)
	built, err := p.Build(nil)
	require.NoError(t, err)
	require.NotNil(t, built.Filter)

	scope := operators.NewScope(map[operators.SlotID]arrow.DataType{1: int32Type})
	require.NoError(t, built.Tree.Prepare(scope))
	require.Equal(t, arrow.BOOL, built.Tree.Type(*built.Filter).ID())

	chunk := operators.NewChunk(2)
	require.NoError(t, chunk.Append(1, column.Int32s([]int32{10, 20}, nil)))
	mask := evaluate(t, built.Tree, *built.Filter, DefaultExecOptions(), chunk)
	require.Equal(t, []string{"false", "true"}, rowsOf(mask))

	_, err = (&Plan{
		Filter:  &Descriptor{Kind: "bogus"},
		Outputs: p.Outputs,
	}).Build(nil)
	requireCode(t, err, CodeConfiguration)
}
