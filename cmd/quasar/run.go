package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quasar/pkg/config"
	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/fs"
	"github.com/ajitpratap0/quasar/pkg/graph"
	"github.com/ajitpratap0/quasar/pkg/logger"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/observability"
	"github.com/ajitpratap0/quasar/pkg/plugin"
)

func newRunCommand(v *viper.Viper) *cobra.Command {
	var configFile string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run <graph.yaml>",
		Short: "Run a graph",
		Long: `Run the graph defined in a YAML file.

Runtime settings come from flags, QUASAR_* environment variables and an
optional --config file, in that order of precedence.

Example:
  quasar run orders.yaml --log-level debug --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return runGraph(ctx, cmd.OutOrStdout(), v, args[0], configFile)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Path to a runtime configuration file (optional)")
	flags.DurationVar(&timeout, "timeout", 0, "Abort the run after this duration (0 disables)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "json", "Log encoding (json, console)")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address")
	flags.Bool("tracing", false, "Export spans to stdout")
	flags.Int("edge-capacity", graph.DefaultEdgeCapacity, "Capacity of edges that declare none")
	flags.Duration("memory-interval", 0, "Sample process memory at this interval (0 disables)")

	for key, flag := range map[string]string{
		"log.level":              "log-level",
		"log.format":             "log-format",
		"metrics.address":        "metrics-addr",
		"tracing.enabled":        "tracing",
		"engine.edge_capacity":   "edge-capacity",
		"engine.memory_interval": "memory-interval",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

// runGraph loads the runtime settings and the graph, executes it and prints
// the per node results. A run that does not finish OK is an error.
func runGraph(ctx context.Context, out io.Writer, v *viper.Viper, graphFile, configFile string) error {
	rc, err := config.LoadRuntime(v, configFile)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{Level: rc.Log.Level, Encoding: rc.Log.Format}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get().With(zap.String("component", "quasar-cli"))

	tracing := observability.DefaultConfig()
	tracing.Enabled = rc.Tracing.Enabled
	tracing.SamplingRate = rc.Tracing.SampleRate
	tracing.Exporter = rc.Tracing.Exporter
	tracing.ServiceVersion = version
	shutdown, err := observability.Init(ctx, tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	if rc.Metrics.Address != "" {
		srv := serveMetrics(rc.Metrics.Address, log)
		defer func() { _ = srv.Close() }()
	}

	gcfg, err := config.LoadGraph(graphFile)
	if err != nil {
		return err
	}
	reg, err := loadComponents()
	if err != nil {
		return err
	}
	g, err := gcfg.Build(reg, rc.Engine.EdgeCapacity)
	if err != nil {
		return err
	}
	lineage, err := gcfg.Tracking.NewLineage(log)
	if err != nil {
		return err
	}

	log.Info("starting graph", zap.String("file", graphFile), zap.String("graph", gcfg.Name))
	res := graph.NewWatchdog(g, graph.WatchdogOptions{
		Logger:         log,
		Lineage:        lineage,
		FS:             fs.NewRegistry(log),
		MemoryInterval: rc.Engine.MemoryInterval,
	}).Run(ctx)
	if err := lineage.Close(); err != nil {
		log.Warn("failed to close lineage sink", zap.Error(err))
	}

	printResult(out, res)
	if res.Result.Code != graph.ResultFinishedOK {
		if res.Result.Err != nil {
			return res.Result.Err
		}
		return errors.Newf(errors.ErrorTypeInternal, "graph %s finished with %s", res.Graph, res.Result.Code)
	}
	return nil
}

var (
	componentsOnce sync.Once
	components     *graph.Registry
	componentsErr  error
)

// loadComponents activates the registered plugins once per process. Plugins
// are activated a single time, so every run shares the same registry.
func loadComponents() (*graph.Registry, error) {
	componentsOnce.Do(func() {
		components = graph.NewRegistry()
		componentsErr = plugin.Default.ActivateAll(components)
	})
	return components, componentsErr
}

func serveMetrics(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("address", addr))
	return srv
}

func printResult(w io.Writer, res *graph.RunResult) {
	fmt.Fprintf(w, "graph %s run %s: %s in %s\n", res.Graph, res.RunID, res.Result.Code, res.Duration.Round(time.Millisecond))
	ids := make([]string, 0, len(res.Nodes))
	for id := range res.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := res.Nodes[id]
		if r.Err != nil {
			fmt.Fprintf(w, "  %-20s %s: %v\n", id, r.Code, r.Err)
			continue
		}
		fmt.Fprintf(w, "  %-20s %s\n", id, r.Code)
	}
}
