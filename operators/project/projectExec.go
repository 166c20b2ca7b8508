package project

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"opti-lambda-go/Expr"
	"opti-lambda-go/functions"
	"opti-lambda-go/operators"
)

var (
	_ = (operators.Source)(&ProjectExec{})
)

var (
	ErrInvalidProjection = func(info string) error {
		return errors.Newf("invalid projection: %s", info)
	}
)

type Options struct {
	// Workers is the number of goroutines evaluating chunks. Values below
	// one mean one.
	Workers int
	Exec    Expr.ExecOptions
	Logger  log.Logger
	// Keep lists input slots copied unchanged into every output chunk,
	// ahead of the computed outputs.
	Keep []operators.SlotID
	// StateScope decides whether workers share fragment states.
	StateScope functions.StateScope
}

func DefaultOptions() Options {
	return Options{
		Workers:    1,
		Exec:       Expr.DefaultExecOptions(),
		StateScope: functions.FragmentLocal,
	}
}

// ProjectExec evaluates every output of a prepared plan over the chunks of
// a source. Chunks are processed concurrently and emitted in source order.
type ProjectExec struct {
	source  operators.Source
	plan    *Expr.BuiltPlan
	opts    Options
	scope   operators.Scope
	logger  log.Logger
	results []*operators.Chunk
	pos     int
	ran     bool
}

func NewProjectExec(source operators.Source, plan *Expr.BuiltPlan, opts Options) (*ProjectExec, error) {
	if source == nil || plan == nil || plan.Tree == nil {
		return nil, ErrInvalidProjection("source and plan are required")
	}
	if !plan.Tree.Prepared() {
		return nil, ErrInvalidProjection("plan tree must be prepared")
	}
	if len(plan.Outputs) == 0 && len(opts.Keep) == 0 {
		return nil, ErrInvalidProjection("nothing to project")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Exec.Logger == nil {
		opts.Exec.Logger = opts.Logger
	}

	types := make(map[operators.SlotID]arrow.DataType, len(opts.Keep)+len(plan.Outputs))
	in := source.Scope()
	for _, s := range opts.Keep {
		dt, ok := in.SlotType(s)
		if !ok {
			return nil, ErrInvalidProjection(fmt.Sprintf("kept slot %d is not produced by the source", s))
		}
		types[s] = dt
	}
	for _, o := range plan.Outputs {
		if _, ok := types[o.Slot]; ok {
			return nil, ErrInvalidProjection(fmt.Sprintf("output %q writes slot %d twice", o.Name, o.Slot))
		}
		types[o.Slot] = plan.Tree.Type(o.Root)
	}
	return &ProjectExec{
		source: source,
		plan:   plan,
		opts:   opts,
		scope:  operators.NewScope(types),
		logger: log.With(opts.Logger, "component", "project"),
	}, nil
}

// Scope describes the output chunks.
func (p *ProjectExec) Scope() operators.Scope { return p.scope }

// Names maps every output slot to its name, for exporting records.
func (p *ProjectExec) Names() map[operators.SlotID]string {
	names := make(map[operators.SlotID]string, len(p.plan.Outputs))
	for _, o := range p.plan.Outputs {
		names[o.Slot] = o.Name
	}
	return names
}

// Next runs the projection on first use and then hands out its results one
// chunk at a time.
func (p *ProjectExec) Next(ctx context.Context) (*operators.Chunk, error) {
	if !p.ran {
		results, err := p.Run(ctx)
		if err != nil {
			return nil, err
		}
		p.results = results
	}
	if p.pos >= len(p.results) {
		return nil, io.EOF
	}
	c := p.results[p.pos]
	p.pos++
	return c, nil
}

func (p *ProjectExec) Close() error {
	p.results = nil
	return p.source.Close()
}

type job struct {
	seq   int
	chunk *operators.Chunk
}

// Run drains the source and returns the projected chunks in source order.
// The first failure cancels the remaining work.
//
// With FragmentLocal, one parent context per output owns the fragment
// states and every worker evaluates on ThreadLocal clones of it. With
// ThreadLocal, each worker opens independent contexts and shares nothing.
func (p *ProjectExec) Run(ctx context.Context) (_ []*operators.Chunk, err error) {
	if p.ran {
		return nil, ErrInvalidProjection("projection already ran")
	}
	p.ran = true

	var parents []*Expr.ExecContext
	defer func() {
		err = errors.CombineErrors(err, closeAll(parents))
	}()
	if p.opts.StateScope == functions.FragmentLocal {
		if parents, err = p.openContexts(nil); err != nil {
			return nil, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job)
	var (
		mu      sync.Mutex
		results = make(map[int]*operators.Chunk)
	)

	g.Go(func() error {
		defer close(jobs)
		for seq := 0; ; seq++ {
			chunk, err := p.source.Next(gctx)
			if err == io.EOF {
				level.Debug(p.logger).Log("msg", "source exhausted", "chunks", seq)
				return nil
			}
			if err != nil {
				return errors.Wrap(err, "reading source")
			}
			select {
			case jobs <- job{seq: seq, chunk: chunk}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	for w := 0; w < p.opts.Workers; w++ {
		worker := w
		g.Go(func() (err error) {
			contexts, err := p.openContexts(parents)
			defer func() {
				err = errors.CombineErrors(err, closeAll(contexts))
			}()
			if err != nil {
				return err
			}
			processed := 0
			for j := range jobs {
				out, err := p.project(gctx, contexts, j.chunk)
				p.opts.Exec.Metrics.ChunkProcessed(err)
				if err != nil {
					return errors.Wrapf(err, "chunk %d", j.seq)
				}
				mu.Lock()
				results[j.seq] = out
				mu.Unlock()
				processed++
			}
			level.Debug(p.logger).Log("msg", "worker finished", "worker", worker, "chunks", processed)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		level.Error(p.logger).Log("msg", "projection failed", "err", err)
		return nil, err
	}
	out := make([]*operators.Chunk, len(results))
	for seq, c := range results {
		out[seq] = c
	}
	return out, nil
}

// openContexts opens one context per output. Without parents every context
// owns its fragment states; otherwise each is a ThreadLocal clone of the
// matching parent. Contexts opened before a failure are returned so the
// caller can close them.
func (p *ProjectExec) openContexts(parents []*Expr.ExecContext) ([]*Expr.ExecContext, error) {
	out := make([]*Expr.ExecContext, 0, len(p.plan.Outputs))
	for i, o := range p.plan.Outputs {
		var (
			c     *Expr.ExecContext
			scope = functions.FragmentLocal
		)
		if parents != nil {
			c, scope = parents[i].Clone(), functions.ThreadLocal
		} else {
			var err error
			if c, err = Expr.NewExecContext(p.plan.Tree, o.Root, p.opts.Exec); err != nil {
				return out, errors.Wrapf(err, "output %q", o.Name)
			}
		}
		out = append(out, c)
		if err := c.Open(scope); err != nil {
			return out, errors.Wrapf(err, "opening output %q", o.Name)
		}
	}
	return out, nil
}

func closeAll(contexts []*Expr.ExecContext) error {
	var errs error
	for _, c := range contexts {
		errs = errors.CombineErrors(errs, c.Close())
	}
	return errs
}

func (p *ProjectExec) project(ctx context.Context, contexts []*Expr.ExecContext, in *operators.Chunk) (*operators.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := in.Project(p.opts.Keep...)
	if err != nil {
		return nil, err
	}
	for i, o := range p.plan.Outputs {
		col, err := contexts[i].EvaluateContext(ctx, in)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating %q", o.Name)
		}
		if err := out.Append(o.Slot, col); err != nil {
			return nil, err
		}
	}
	return out, nil
}
