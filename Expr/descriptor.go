package Expr

import (
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/scalar"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"opti-lambda-go/column"
	"opti-lambda-go/functions"
	"opti-lambda-go/operators"
)

// Descriptor kinds.
const (
	KindColumnRef = "column_ref"
	KindLiteral   = "literal"
	KindCall      = "call"
	KindIsNull    = "is_null"
	KindCast      = "cast"
	KindLambda    = "lambda"
	KindArrayMap  = "array_map"
)

// Descriptor is the serialized form of an expression node. A lambda's first
// child is its body; parameters come from Params or, when Params is empty,
// from the remaining column_ref children. An array_map's first child is the
// lambda and the rest are its array operands.
type Descriptor struct {
	Kind     string            `yaml:"kind"`
	Type     string            `yaml:"type,omitempty"`
	Fn       string            `yaml:"fn,omitempty"`
	Slot     *int32            `yaml:"slot,omitempty"`
	Value    any               `yaml:"value,omitempty"`
	Params   []ParamDescriptor `yaml:"params,omitempty"`
	Children []Descriptor      `yaml:"children,omitempty"`
}

type ParamDescriptor struct {
	Slot int32  `yaml:"slot"`
	Type string `yaml:"type,omitempty"`
}

// Decode reads one descriptor. JSON input works as well since it is valid
// YAML.
func Decode(r io.Reader) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.NewDecoder(r).Decode(&d); err != nil {
		return nil, configWrapf(err, "decoding expression descriptor")
	}
	return &d, nil
}

// Build creates a new tree from d and returns it with the id of d's node.
func Build(d *Descriptor, reg *functions.Registry) (*Tree, ExprID, error) {
	t := NewTree(reg)
	id, err := t.Build(d)
	if err != nil {
		return nil, 0, err
	}
	return t, id, nil
}

// Build adds the nodes described by d to t.
func (t *Tree) Build(d *Descriptor) (ExprID, error) {
	switch d.Kind {
	case KindColumnRef:
		if d.Slot == nil {
			return 0, configErrorf("column_ref needs a slot")
		}
		dt, err := optionalType(d.Type)
		if err != nil {
			return 0, err
		}
		return t.Column(operators.SlotID(*d.Slot), dt), nil

	case KindLiteral:
		if d.Type == "" {
			return 0, configErrorf("literal needs a type")
		}
		dt, err := ParseType(d.Type)
		if err != nil {
			return 0, err
		}
		s, err := LiteralScalar(dt, d.Value)
		if err != nil {
			return 0, err
		}
		return t.Literal(s), nil

	case KindCall:
		if d.Fn == "" {
			return 0, configErrorf("call needs a function name")
		}
		args, err := t.buildAll(d.Children)
		if err != nil {
			return 0, err
		}
		return t.Call(d.Fn, args...), nil

	case KindIsNull:
		if len(d.Children) != 1 {
			return 0, configErrorf("is_null takes one child, got %d", len(d.Children))
		}
		arg, err := t.Build(&d.Children[0])
		if err != nil {
			return 0, err
		}
		return t.IsNull(arg), nil

	case KindCast:
		if len(d.Children) != 1 {
			return 0, configErrorf("cast takes one child, got %d", len(d.Children))
		}
		dt, err := ParseType(d.Type)
		if err != nil {
			return 0, err
		}
		arg, err := t.Build(&d.Children[0])
		if err != nil {
			return 0, err
		}
		return t.Cast(arg, dt), nil

	case KindLambda:
		l, err := t.buildLambda(d)
		if err != nil {
			return 0, err
		}
		return l.id, nil

	case KindArrayMap:
		if len(d.Children) == 0 || d.Children[0].Kind != KindLambda {
			return 0, configErrorf("array_map needs a lambda as its first child")
		}
		l, err := t.buildLambda(&d.Children[0])
		if err != nil {
			return 0, err
		}
		args, err := t.buildAll(d.Children[1:])
		if err != nil {
			return 0, err
		}
		return t.ArrayMap(l, args...), nil
	}
	return 0, configErrorf("unknown descriptor kind %q", d.Kind)
}

func (t *Tree) buildAll(ds []Descriptor) ([]ExprID, error) {
	ids := make([]ExprID, len(ds))
	for i := range ds {
		id, err := t.Build(&ds[i])
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (t *Tree) buildLambda(d *Descriptor) (*LambdaFunction, error) {
	if len(d.Children) == 0 {
		return nil, configErrorf("lambda needs a body")
	}
	var params []Param
	for _, p := range d.Params {
		dt, err := optionalType(p.Type)
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Slot: operators.SlotID(p.Slot), Type: dt})
	}
	for _, c := range d.Children[1:] {
		if len(d.Params) > 0 || c.Kind != KindColumnRef || c.Slot == nil {
			return nil, configErrorf("lambda parameters must be column_ref children or params, not both")
		}
		dt, err := optionalType(c.Type)
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Slot: operators.SlotID(*c.Slot), Type: dt})
	}
	body, err := t.Build(&d.Children[0])
	if err != nil {
		return nil, err
	}
	return t.Lambda(body, params...), nil
}

func optionalType(s string) (arrow.DataType, error) {
	if s == "" {
		return nil, nil
	}
	return ParseType(s)
}

// ParseType maps a type name to its Arrow type. array<T> and list<T> build
// list types and nest.
func ParseType(s string) (arrow.DataType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, prefix := range []string{"array<", "list<"} {
		if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, ">") {
			elem, err := ParseType(s[len(prefix) : len(s)-1])
			if err != nil {
				return nil, err
			}
			return arrow.ListOf(elem), nil
		}
	}
	switch s {
	case "null":
		return arrow.Null, nil
	case "bool", "boolean":
		return arrow.FixedWidthTypes.Boolean, nil

	case "int8":
		return arrow.PrimitiveTypes.Int8, nil
	case "int16":
		return arrow.PrimitiveTypes.Int16, nil
	case "int32":
		return arrow.PrimitiveTypes.Int32, nil
	case "int64":
		return arrow.PrimitiveTypes.Int64, nil

	case "uint8":
		return arrow.PrimitiveTypes.Uint8, nil
	case "uint16":
		return arrow.PrimitiveTypes.Uint16, nil
	case "uint32":
		return arrow.PrimitiveTypes.Uint32, nil
	case "uint64":
		return arrow.PrimitiveTypes.Uint64, nil

	case "float32":
		return arrow.PrimitiveTypes.Float32, nil
	case "float64":
		return arrow.PrimitiveTypes.Float64, nil

	case "string", "utf8":
		return arrow.BinaryTypes.String, nil
	case "binary":
		return arrow.BinaryTypes.Binary, nil
	}
	return nil, configErrorf("unsupported type %q", s)
}

// LiteralScalar converts a decoded value into a scalar of type dt. nil is
// the typed null; list types take a sequence.
func LiteralScalar(dt arrow.DataType, v any) (scalar.Scalar, error) {
	if v == nil {
		return scalar.MakeNullScalar(dt), nil
	}
	col, err := column.FromValues(dt, []any{normalizeValue(v)})
	if err != nil {
		return nil, configWrapf(err, "literal of type %s", dt)
	}
	arr, err := column.ToArrow(col)
	if err != nil {
		return nil, configWrapf(err, "literal of type %s", dt)
	}
	s, err := scalar.GetScalar(arr, 0)
	if err != nil {
		return nil, configWrapf(err, "literal of type %s", dt)
	}
	return s, nil
}

// yaml decodes sequences as []interface{} of mixed ints and floats, which
// FromValues already accepts; maps are not valid literals.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		return fmt.Sprint(x)
	}
	return v
}

// Plan is a projection read by the CLI: input fields bound to slots, an
// optional boolean row filter and named output expressions.
type Plan struct {
	Slots   map[string]int32 `yaml:"slots"`
	Filter  *Descriptor      `yaml:"filter,omitempty"`
	Outputs []PlanOutput     `yaml:"outputs"`
}

type PlanOutput struct {
	Name string     `yaml:"name"`
	Slot int32      `yaml:"slot"`
	Expr Descriptor `yaml:"expr"`
}

// BuiltPlan is a Plan turned into one tree with a root per output.
type BuiltPlan struct {
	Tree    *Tree
	Binding operators.SlotBinding
	// Filter is the predicate root, nil when the plan has none.
	Filter  *ExprID
	Outputs []BuiltOutput
}

type BuiltOutput struct {
	Name string
	Slot operators.SlotID
	Root ExprID
}

func DecodePlan(r io.Reader) (*Plan, error) {
	var p Plan
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		return nil, configWrapf(err, "decoding plan")
	}
	if len(p.Outputs) == 0 {
		return nil, configErrorf("plan has no outputs")
	}
	return &p, nil
}

// Build constructs every output into a single tree. The tree is not yet
// prepared.
func (p *Plan) Build(reg *functions.Registry) (*BuiltPlan, error) {
	t := NewTree(reg)
	out := &BuiltPlan{Tree: t, Binding: make(operators.SlotBinding, len(p.Slots))}
	for name, slot := range p.Slots {
		out.Binding[name] = operators.SlotID(slot)
	}
	if p.Filter != nil {
		root, err := t.Build(p.Filter)
		if err != nil {
			return nil, errors.Wrap(err, "filter")
		}
		out.Filter = &root
	}
	seen := make(map[int32]string)
	for i := range p.Outputs {
		o := &p.Outputs[i]
		if prev, ok := seen[o.Slot]; ok {
			return nil, configErrorf("outputs %q and %q both write slot %d", prev, o.Name, o.Slot)
		}
		seen[o.Slot] = o.Name
		root, err := t.Build(&o.Expr)
		if err != nil {
			return nil, errors.Wrapf(err, "output %q", o.Name)
		}
		out.Outputs = append(out.Outputs, BuiltOutput{Name: o.Name, Slot: operators.SlotID(o.Slot), Root: root})
	}
	return out, nil
}
