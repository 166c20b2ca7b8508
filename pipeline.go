package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/cockroachdb/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"opti-lambda-go/Expr"
	"opti-lambda-go/config"
	"opti-lambda-go/connector"
	"opti-lambda-go/functions"
	"opti-lambda-go/metrics"
	"opti-lambda-go/operators"
	"opti-lambda-go/operators/filter"
	"opti-lambda-go/operators/project"
)

const (
	outputTable = "table"
	outputIPC   = "ipc"
)

// evalRequest is everything one `eval` run needs.
type evalRequest struct {
	PlanPath  string
	Connector string
	Path      string
	Workers   int
	Limit     int
	Keep      []int
	Output    string
	Config    *config.Config
	Metrics   *metrics.Metrics
	Logger    log.Logger
	// Connectors defaults to connector.Default().
	Connectors *connector.Manager
}

func (r *evalRequest) validate() error {
	if r.PlanPath == "" {
		return errors.New("--plan is required")
	}
	switch r.Output {
	case "", outputTable, outputIPC:
	default:
		return errors.Newf("unknown output format %q", r.Output)
	}
	return nil
}

// runEval reads the plan, opens the source and streams the projected rows
// to w.
func runEval(ctx context.Context, req evalRequest, w io.Writer) (err error) {
	if err := req.validate(); err != nil {
		return err
	}
	cfg := req.Config
	if cfg == nil {
		cfg = config.GetConfig()
	}
	logger := req.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	connectors := req.Connectors
	if connectors == nil {
		connectors = connector.Default()
	}

	built, err := loadPlan(req.PlanPath)
	if err != nil {
		return err
	}

	name := req.Connector
	if name == "" {
		name = cfg.Source.Type
	}
	path := req.Path
	if path == "" {
		path = cfg.Source.Path
	}
	spec := connector.SourceSpec{Path: path, Config: cfg, Logger: logger}
	if len(built.Binding) > 0 {
		spec.Binding = built.Binding
	}
	var src operators.Source
	src, err = connectors.Open(ctx, name, spec)
	if err != nil {
		return err
	}
	defer func() {
		if src != nil {
			err = errors.CombineErrors(err, src.Close())
		}
	}()

	if err := built.Tree.Prepare(src.Scope()); err != nil {
		return errors.Wrap(err, "preparing plan")
	}
	level.Debug(logger).Log("msg", "plan prepared", "outputs", len(built.Outputs), "nodes", built.Tree.Len())

	execOpts := Expr.ExecOptions{
		ConstFastPath: cfg.Eval.ConstFastPath,
		Metrics:       req.Metrics,
		Logger:        logger,
	}
	if built.Filter != nil {
		f, err := filter.NewFilterExec(src, built.Tree, *built.Filter, execOpts)
		if err != nil {
			return err
		}
		src = f
	}

	scope, err := functions.ParseStateScope(cfg.Eval.StateScope)
	if err != nil {
		return err
	}
	opts := project.DefaultOptions()
	opts.Workers = cfg.Eval.Workers
	if req.Workers > 0 {
		opts.Workers = req.Workers
	}
	opts.Exec = execOpts
	opts.Logger = logger
	opts.StateScope = scope
	for _, k := range req.Keep {
		opts.Keep = append(opts.Keep, operators.SlotID(k))
	}
	proj, err := project.NewProjectExec(src, built, opts)
	if err != nil {
		return err
	}
	src = proj

	if req.Limit > 0 {
		l, err := filter.NewLimitExec(src, req.Limit)
		if err != nil {
			return err
		}
		src = l
	}

	names := proj.Names()
	for slot, field := range bindingNames(built.Binding) {
		if _, ok := names[slot]; !ok {
			names[slot] = field
		}
	}
	if req.Output == outputIPC {
		return writeIPC(ctx, src, names, w)
	}
	return writeTable(ctx, src, names, w)
}

func loadPlan(path string) (*Expr.BuiltPlan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening plan")
	}
	defer f.Close()
	p, err := Expr.DecodePlan(f)
	if err != nil {
		return nil, err
	}
	return p.Build(functions.Default())
}

func bindingNames(b operators.SlotBinding) map[operators.SlotID]string {
	out := make(map[operators.SlotID]string, len(b))
	for name, slot := range b {
		out[slot] = name
	}
	return out
}

func writeTable(ctx context.Context, src operators.Source, names map[operators.SlotID]string, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := false
	for {
		c, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		slots := c.Slots()
		if !header {
			cells := make([]string, len(slots))
			for i, s := range slots {
				cells[i] = slotName(names, s)
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
			header = true
		}
		for row := 0; row < c.NumRows(); row++ {
			cells := make([]string, len(slots))
			for i, s := range slots {
				col, _ := c.Column(s)
				cells[i] = col.Get(row).String()
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
	}
	return tw.Flush()
}

func slotName(names map[operators.SlotID]string, s operators.SlotID) string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("%d", s)
}

// writeIPC streams the chunks as an Arrow IPC stream. The schema comes from
// the first chunk.
func writeIPC(ctx context.Context, src operators.Source, names map[operators.SlotID]string, w io.Writer) error {
	var writer *ipc.Writer
	for {
		c, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		rec, err := operators.ChunkToRecord(c, names)
		if err != nil {
			return err
		}
		if writer == nil {
			writer = ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			return errors.Wrap(err, "writing ipc record")
		}
	}
	if writer == nil {
		return nil
	}
	return writer.Close()
}
