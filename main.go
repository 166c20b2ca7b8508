package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"opti-lambda-go/config"
	"opti-lambda-go/functions"
	"opti-lambda-go/logging"
	"opti-lambda-go/metrics"
)

func main() {
	root := &cobra.Command{
		Use:           "opti-lambda",
		Short:         "Evaluate array_map expressions over columnar sources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "yaml config file")
	root.PersistentFlags().StringSlice("env", nil, ".env files holding S3 credentials (default .env)")
	addCommands(root)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %+v\n", err)
		stop()
		os.Exit(1)
	}
}

func addCommands(root *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run a plan over a source and print the projected rows",
		Args:  cobra.NoArgs,
		RunE:  evalCmd}
	cmd.Flags().String("plan", "", "plan yaml file")
	cmd.Flags().String("source", "", "connector name (csv, parquet, s3, memory)")
	cmd.Flags().String("path", "", "source path or s3 key")
	cmd.Flags().Int("workers", 0, "evaluation workers (default from config)")
	cmd.Flags().Int("limit", 0, "stop after this many rows")
	cmd.Flags().IntSlice("keep", nil, "input slots copied into the output")
	cmd.Flags().String("output", outputTable, "output format: table or ipc")
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "functions",
		Short: "List the registered functions",
		Args:  cobra.NoArgs,
		Run:   listFunctions}
	root.AddCommand(cmd)

	cmd = &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve the Prometheus registry until interrupted",
		Args:  cobra.NoArgs,
		RunE:  serveMetrics}
	root.AddCommand(cmd)
}

// setup loads config and secrets and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, log.Logger, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := config.Decode(path); err != nil {
			return nil, nil, err
		}
	}
	envFiles, _ := cmd.Flags().GetStringSlice("env")
	if err := config.LoadSecrets(envFiles...); err != nil {
		return nil, nil, err
	}
	cfg := config.GetConfig()
	return cfg, logging.New(cfg.Log), nil
}

func evalCmd(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	req := evalRequest{Config: cfg, Logger: logger}
	req.PlanPath, _ = cmd.Flags().GetString("plan")
	req.Connector, _ = cmd.Flags().GetString("source")
	req.Path, _ = cmd.Flags().GetString("path")
	req.Workers, _ = cmd.Flags().GetInt("workers")
	req.Limit, _ = cmd.Flags().GetInt("limit")
	req.Keep, _ = cmd.Flags().GetIntSlice("keep")
	req.Output, _ = cmd.Flags().GetString("output")
	if cfg.Metrics.EnableMetrics {
		req.Metrics = metrics.New(prometheus.DefaultRegisterer)
	}
	if err := runEval(cmd.Context(), req, cmd.OutOrStdout()); err != nil {
		level.Error(logger).Log("msg", "eval failed", "err", err)
		return err
	}
	return nil
}

func listFunctions(cmd *cobra.Command, _ []string) {
	for _, name := range functions.Default().Names() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
}

func serveMetrics(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	metrics.New(prometheus.DefaultRegisterer)

	addr := net.JoinHostPort(cfg.Metrics.MetricsHost, strconv.Itoa(cfg.Metrics.MetricsPort))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "serving metrics", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-cmd.Context().Done():
		level.Info(logger).Log("msg", "shutting down metrics server")
		return srv.Shutdown(context.Background())
	}
}
