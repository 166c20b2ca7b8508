package Expr

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/scalar"
	"github.com/cockroachdb/errors"

	"opti-lambda-go/column"
	"opti-lambda-go/functions"
	"opti-lambda-go/operators"
)

// ExprID addresses a node inside its Tree.
type ExprID int

var (
	_ = (Expression)(&ColumnRef{})
	_ = (Expression)(&Literal{})
	_ = (Expression)(&Call{})
	_ = (Expression)(&IsNull{})
	_ = (Expression)(&Cast{})
	_ = (Expression)(&LambdaFunction{})
	_ = (Expression)(&ArrayMap{})
)

/*
eval(expr, chunk):

	match expr:
	    ColumnRef(slot)       -> the chunk column stored under slot
	    Literal(v)            -> Const(v, rows)
	    Call(fn, args...)     -> fn over the evaluated args
	    IsNull(e)             -> per row null test of e
	    Cast(e, T)            -> e converted to T
	    Lambda(body, params)  -> body over a chunk already holding params
	    ArrayMap(lambda, xs)  -> flatten xs, eval lambda body once, rewrap
*/
type Expression interface {
	// empty method, only for the sake of polymorphism
	ExprNode()
	fmt.Stringer
	children() []ExprID
}

// Tree owns every node of one or more expressions. Nodes refer to their
// children by ExprID. A tree is built, prepared once, and then shared
// read-only by every ExecContext evaluating it.
type Tree struct {
	registry *functions.Registry
	nodes    []Expression

	prepared bool
	roots    []ExprID
	types    []arrow.DataType
	literals map[ExprID]column.Column
}

// NewTree returns an empty tree resolving calls against reg. A nil reg
// means functions.Default().
func NewTree(reg *functions.Registry) *Tree {
	if reg == nil {
		reg = functions.Default()
	}
	return &Tree{registry: reg}
}

func (t *Tree) add(e Expression) ExprID {
	if t.prepared {
		panic(errors.AssertionFailedf("node %s added to a prepared tree", e))
	}
	t.nodes = append(t.nodes, e)
	return ExprID(len(t.nodes) - 1)
}

func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Node(id ExprID) Expression {
	if int(id) < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

func (t *Tree) Prepared() bool { return t.prepared }

// Roots lists the nodes no other node refers to, in creation order. Only
// valid after Prepare.
func (t *Tree) Roots() []ExprID {
	out := make([]ExprID, len(t.roots))
	copy(out, t.roots)
	return out
}

// Type returns the resolved output type of id. Only valid after Prepare.
func (t *Tree) Type(id ExprID) arrow.DataType {
	if !t.prepared || int(id) >= len(t.types) {
		return nil
	}
	return t.types[id]
}

// Format renders the subtree rooted at id.
func (t *Tree) Format(id ExprID) string {
	var sb strings.Builder
	t.format(&sb, id)
	return sb.String()
}

func (t *Tree) format(sb *strings.Builder, id ExprID) {
	switch e := t.Node(id).(type) {
	case nil:
		fmt.Fprintf(sb, "<invalid #%d>", id)
	case *Call:
		sb.WriteString(e.Fn + "(")
		t.formatList(sb, e.Args)
		sb.WriteString(")")
	case *IsNull:
		t.format(sb, e.Arg)
		sb.WriteString(" IS NULL")
	case *Cast:
		sb.WriteString("CAST(")
		t.format(sb, e.Arg)
		fmt.Fprintf(sb, " AS %s)", e.Type)
	case *LambdaFunction:
		sb.WriteString("(")
		for i, p := range e.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "$%d", p.Slot)
		}
		sb.WriteString(") -> ")
		t.format(sb, e.Body)
	case *ArrayMap:
		sb.WriteString("array_map(")
		t.format(sb, e.Lambda.id)
		if len(e.Args) > 0 {
			sb.WriteString(", ")
		}
		t.formatList(sb, e.Args)
		sb.WriteString(")")
	default:
		sb.WriteString(e.String())
	}
}

func (t *Tree) formatList(sb *strings.Builder, ids []ExprID) {
	for i, a := range ids {
		if i > 0 {
			sb.WriteString(", ")
		}
		t.format(sb, a)
	}
}

// ColumnRef reads the column stored under Slot. Type is the declared type
// and may be nil when it can be taken from the scope or a lambda parameter.
type ColumnRef struct {
	Slot operators.SlotID
	Type arrow.DataType
}

func (t *Tree) Column(slot operators.SlotID, dt arrow.DataType) ExprID {
	return t.add(&ColumnRef{Slot: slot, Type: dt})
}

func (c *ColumnRef) ExprNode()          {}
func (c *ColumnRef) children() []ExprID { return nil }
func (c *ColumnRef) String() string {
	return fmt.Sprintf("$%d", c.Slot)
}

// Literal evaluates to a constant column holding Value.
type Literal struct {
	Value scalar.Scalar
}

func (t *Tree) Literal(v scalar.Scalar) ExprID {
	return t.add(&Literal{Value: v})
}

// Null is a typed null literal.
func (t *Tree) Null(dt arrow.DataType) ExprID {
	return t.Literal(scalar.MakeNullScalar(dt))
}

func (l *Literal) ExprNode()          {}
func (l *Literal) children() []ExprID { return nil }
func (l *Literal) String() string {
	return column.NewDatum(l.Value).String()
}

// Call applies the named scalar function to its arguments.
type Call struct {
	Fn   string
	Args []ExprID

	fn functions.Function
}

func (t *Tree) Call(fn string, args ...ExprID) ExprID {
	return t.add(&Call{Fn: fn, Args: args})
}

func (c *Call) ExprNode()          {}
func (c *Call) children() []ExprID { return c.Args }
func (c *Call) String() string {
	return fmt.Sprintf("Call(%s, %v)", c.Fn, c.Args)
}

// IsNull answers, per row, whether Arg is null. It never returns null.
type IsNull struct {
	Arg ExprID
}

func (t *Tree) IsNull(arg ExprID) ExprID {
	return t.add(&IsNull{Arg: arg})
}

func (n *IsNull) ExprNode()          {}
func (n *IsNull) children() []ExprID { return []ExprID{n.Arg} }
func (n *IsNull) String() string {
	return fmt.Sprintf("IsNull(#%d)", n.Arg)
}

// If cast succeeds → return the casted value
// If cast fails → return the kernel's error
type Cast struct {
	Arg  ExprID
	Type arrow.DataType
}

func (t *Tree) Cast(arg ExprID, dt arrow.DataType) ExprID {
	return t.add(&Cast{Arg: arg, Type: dt})
}

func (c *Cast) ExprNode()          {}
func (c *Cast) children() []ExprID { return []ExprID{c.Arg} }
func (c *Cast) String() string {
	return fmt.Sprintf("Cast(#%d AS %s)", c.Arg, c.Type)
}
