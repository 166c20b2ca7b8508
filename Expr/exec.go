package Expr

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"opti-lambda-go/column"
	"opti-lambda-go/functions"
	"opti-lambda-go/metrics"
	"opti-lambda-go/operators"
)

// ExecOptions tune how an ExecContext evaluates its tree.
type ExecOptions struct {
	// ConstFastPath lets array_map answer all-constant inputs by evaluating
	// a single row. Results are identical with it off.
	ConstFastPath bool
	Metrics       *metrics.Metrics
	Logger        log.Logger
}

// DefaultExecOptions enables the constant fast path and records no metrics.
func DefaultExecOptions() ExecOptions {
	return ExecOptions{ConstFastPath: true}
}

// fragmentStates holds the FragmentLocal function states shared by an
// ExecContext and all of its clones.
type fragmentStates struct {
	states map[ExprID]functions.State
	ready  bool
}

// ExecContext evaluates one root of a prepared tree. It carries the
// function states the evaluation needs; the tree itself is never written.
//
// Lifecycle: NewExecContext -> Open -> Evaluate* -> Close. Clones share the
// tree and the fragment states and must be opened with ThreadLocal.
type ExecContext struct {
	tree *Tree
	root ExprID
	opts ExecOptions

	stateful []ExprID
	shared   *fragmentStates
	owner    bool
	states   map[ExprID]functions.State

	opened bool
	closed bool
}

func NewExecContext(tree *Tree, root ExprID, opts ExecOptions) (*ExecContext, error) {
	if tree == nil || !tree.prepared {
		return nil, lifecycleErrorf("execution context needs a prepared tree")
	}
	if tree.Node(root) == nil {
		return nil, configErrorf("root #%d is not part of the tree", root)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	return &ExecContext{
		tree:     tree,
		root:     root,
		opts:     opts,
		stateful: tree.statefulNodes(root),
		shared:   &fragmentStates{states: make(map[ExprID]functions.State)},
		states:   make(map[ExprID]functions.State),
	}, nil
}

func (t *Tree) statefulNodes(root ExprID) []ExprID {
	var out []ExprID
	seen := make(map[ExprID]bool)
	var walk func(id ExprID)
	walk = func(id ExprID) {
		if seen[id] {
			return
		}
		seen[id] = true
		e := t.nodes[id]
		if call, ok := e.(*Call); ok {
			if _, ok := call.fn.(functions.Stateful); ok {
				out = append(out, id)
			}
		}
		for _, c := range e.children() {
			walk(c)
		}
	}
	walk(root)
	return out
}

func (c *ExecContext) Tree() *Tree  { return c.tree }
func (c *ExecContext) Root() ExprID { return c.root }

// Open allocates function state. The first context of a fragment opens with
// FragmentLocal, creating both shared and per-context state; clones open
// with ThreadLocal and reuse the shared states. On failure the states
// already created are kept so Close can release them.
func (c *ExecContext) Open(scope functions.StateScope) error {
	switch {
	case c.closed:
		return lifecycleErrorf("open after close")
	case c.opened:
		return lifecycleErrorf("context already opened")
	}
	if scope == functions.FragmentLocal {
		if c.shared.ready {
			return lifecycleErrorf("fragment states already opened by another context")
		}
		c.owner = true
	}

	for _, id := range c.stateful {
		fn := c.tree.nodes[id].(*Call).fn.(functions.Stateful)
		if fn.StateScope() == functions.FragmentLocal {
			if scope != functions.FragmentLocal {
				if _, ok := c.shared.states[id]; !ok {
					return lifecycleErrorf("fragment state of %s missing; open the parent context with fragment_local first", fn.Name())
				}
				continue
			}
			st, err := fn.NewState()
			if err != nil {
				return errors.Wrapf(err, "creating fragment state for %s", fn.Name())
			}
			c.shared.states[id] = st
			continue
		}
		st, err := fn.NewState()
		if err != nil {
			return errors.Wrapf(err, "creating thread state for %s", fn.Name())
		}
		c.states[id] = st
	}
	if c.owner {
		c.shared.ready = true
	}
	c.opened = true
	level.Debug(c.opts.Logger).Log("msg", "execution context opened", "root", c.root, "scope", scope, "states", len(c.stateful))
	return nil
}

// Clone returns an unopened context sharing the tree and the fragment
// states of c.
func (c *ExecContext) Clone() *ExecContext {
	return &ExecContext{
		tree:     c.tree,
		root:     c.root,
		opts:     c.opts,
		stateful: c.stateful,
		shared:   c.shared,
		states:   make(map[ExprID]functions.State),
	}
}

func (c *ExecContext) Evaluate(chunk *operators.Chunk) (column.Column, error) {
	return c.EvaluateContext(context.Background(), chunk)
}

// EvaluateContext evaluates the root over chunk. The context is handed to
// scalar functions; evaluation itself is not interruptible.
func (c *ExecContext) EvaluateContext(ctx context.Context, chunk *operators.Chunk) (column.Column, error) {
	if !c.opened || c.closed {
		return nil, lifecycleErrorf("evaluate requires an opened, unclosed context")
	}
	start := time.Now()
	res, err := c.eval(ctx, c.root, chunk)
	c.opts.Metrics.ObserveEvaluate(start, err)
	return res, err
}

// Close releases the context's own states and, for the context that opened
// the fragment, the shared ones. Calling it again is a no-op.
func (c *ExecContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var errs error
	for id, st := range c.states {
		if err := functions.CloseState(st); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "closing state of #%d", id))
		}
	}
	c.states = nil
	if c.owner {
		for id, st := range c.shared.states {
			if err := functions.CloseState(st); err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "closing fragment state of #%d", id))
			}
		}
		c.shared.states = make(map[ExprID]functions.State)
		c.shared.ready = false
	}
	return errs
}

func (c *ExecContext) state(id ExprID) functions.State {
	if st, ok := c.states[id]; ok {
		return st
	}
	return c.shared.states[id]
}

// Run opens a fragment context for root, passes it to fn and closes it on
// every exit path.
func Run(tree *Tree, root ExprID, opts ExecOptions, fn func(*ExecContext) error) (err error) {
	c, err := NewExecContext(tree, root, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, c.Close())
	}()
	if err := c.Open(functions.FragmentLocal); err != nil {
		return err
	}
	return fn(c)
}
