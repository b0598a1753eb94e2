package graph

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quasar/pkg/errors"
	"github.com/ajitpratap0/quasar/pkg/fs"
	"github.com/ajitpratap0/quasar/pkg/logger"
	"github.com/ajitpratap0/quasar/pkg/metrics"
	"github.com/ajitpratap0/quasar/pkg/observability"
	"github.com/ajitpratap0/quasar/pkg/token"
)

// WatchdogOptions configures a run
type WatchdogOptions struct {
	Logger  *zap.Logger
	Lineage *token.Lineage
	FS      *fs.Registry
	// MemoryInterval enables process memory sampling when positive
	MemoryInterval time.Duration
}

// RunResult summarizes a run. Result is the worst node result.
type RunResult struct {
	RunID    string
	Graph    string
	Result   Result
	Nodes    map[string]Result
	Duration time.Duration
}

// Watchdog executes a graph
type Watchdog struct {
	graph  *Graph
	opts   WatchdogOptions
	runID  string
	logger *zap.Logger
}

// NewWatchdog prepares a run of g with a fresh run id
func NewWatchdog(g *Graph, opts WatchdogOptions) *Watchdog {
	if opts.Logger == nil {
		opts.Logger = logger.Get()
	}
	if opts.Lineage == nil {
		opts.Lineage = token.NewLineage()
	}
	if opts.FS == nil {
		opts.FS = fs.NewRegistry(opts.Logger)
	}
	runID := uuid.NewString()
	return &Watchdog{
		graph: g,
		opts:  opts,
		runID: runID,
		logger: opts.Logger.With(
			zap.String("run_id", runID),
			zap.String("graph", g.Name())),
	}
}

// RunID returns the id of the run
func (w *Watchdog) RunID() string { return w.runID }

// Run validates, initializes and executes the graph phase by phase. It
// returns once every node goroutine has exited.
func (w *Watchdog) Run(ctx context.Context) *RunResult {
	start := time.Now()
	res := &RunResult{RunID: w.runID, Graph: w.graph.Name(), Nodes: make(map[string]Result)}
	defer func() { res.Duration = time.Since(start) }()

	ctx = context.WithValue(ctx, logger.RunIDKey, w.runID)
	ctx = context.WithValue(ctx, logger.GraphKey, w.graph.Name())
	ctx, span := observability.StartSpan(ctx, "graph "+w.graph.Name(),
		attribute.String("run.id", w.runID))

	if err := w.graph.Validate(); err != nil {
		res.Result = Finished(err)
		span.Finish(err)
		w.logger.Error("graph validation failed", zap.Error(err))
		return res
	}

	env := &Env{
		RunID:   w.runID,
		Graph:   w.graph.Name(),
		Logger:  w.logger,
		Lineage: w.opts.Lineage,
		FS:      w.opts.FS,
	}

	initialized := w.initNodes(ctx, env, res)
	defer func() {
		for _, n := range initialized {
			n.Free()
		}
	}()
	if res.Result.Code != ResultFinishedOK {
		span.Finish(res.Result.Err)
		return res
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if w.opts.MemoryInterval > 0 {
		go w.sample(runCtx, w.opts.MemoryInterval)
	}

	w.logger.Info("run started", zap.Int("nodes", len(w.graph.Nodes())), zap.Ints("phases", w.graph.Phases()))
	for _, phase := range w.graph.Phases() {
		phaseResult := w.runPhase(runCtx, phase, cancel, res)
		res.Result = Worse(res.Result, phaseResult)
		if phaseResult.Code != ResultFinishedOK {
			w.logger.Warn("phase failed, skipping later phases", zap.Int("phase", phase),
				zap.String("result", phaseResult.Code.String()))
			break
		}
	}

	span.SetAttribute("result", res.Result.Code.String())
	span.Finish(res.Result.Err)
	w.logger.Info("run finished",
		zap.String("result", res.Result.Code.String()),
		zap.Duration("duration", time.Since(start)))
	return res
}

// initNodes attaches and initializes every node before any executes
func (w *Watchdog) initNodes(ctx context.Context, env *Env, res *RunResult) []Node {
	var done []Node
	for _, n := range w.graph.Nodes() {
		n.Base().attach(env)
		if err := n.Init(ctx, env); err != nil {
			if !errors.IsExpected(err) && !errors.HasType(err, errors.ErrorTypeContract) {
				err = errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize node "+n.ID())
			}
			r := Finished(err)
			res.Nodes[n.ID()] = r
			res.Result = Worse(res.Result, r)
			w.logger.Error("node initialization failed", zap.String("node", n.ID()), zap.Error(err))
			return done
		}
		done = append(done, n)
	}
	return done
}

func (w *Watchdog) runPhase(ctx context.Context, phase int, cancel context.CancelFunc, res *RunResult) Result {
	nodes := w.graph.PhaseNodes(phase)
	results := make(chan struct {
		id  string
		res Result
	}, len(nodes))

	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(n Node) {
			defer wg.Done()
			r := w.runNode(ctx, n)
			if r.Code == ResultFatalError {
				cancel()
			}
			results <- struct {
				id  string
				res Result
			}{n.ID(), r}
			n.Base().DrainInputs()
		}(n)
	}
	wg.Wait()
	close(results)

	worst := OK()
	for r := range results {
		res.Nodes[r.id] = r.res
		worst = Worse(worst, r.res)
	}
	return worst
}

func (w *Watchdog) runNode(ctx context.Context, n Node) (res Result) {
	b := n.Base()
	ctx = context.WithValue(ctx, logger.NodeKey, n.ID())
	ctx, span := observability.StartSpan(ctx, "node "+n.ID(),
		attribute.String("node.type", n.Type()),
		attribute.Int("node.phase", b.phase))
	timer := metrics.NewTimer()

	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Code: ResultFatalError,
				Err:  errors.New(errors.ErrorTypeInternal, fmt.Sprintf("node %s panicked: %v", n.ID(), r)),
			}
		}
		if res.Code == ResultFinishedOK && ctx.Err() != nil {
			res = Finished(errors.Wrap(ctx.Err(), errors.ErrorTypeCanceled, "run canceled"))
		}
		b.Stop()
		b.BroadcastEOF()

		elapsed := timer.Stop()
		metrics.NodeResults.WithLabelValues(n.Type(), res.Code.String()).Inc()
		metrics.NodeDuration.WithLabelValues(n.Type()).Observe(elapsed.Seconds())
		span.SetAttribute("node.result", res.Code.String())
		span.SetAttribute("node.records", b.throughput.Total())
		span.Finish(res.Err)

		fields := []zap.Field{
			zap.String("result", res.Code.String()),
			zap.Int64("records", b.throughput.Total()),
			zap.Duration("duration", elapsed),
		}
		switch res.Code {
		case ResultFinishedOK:
			b.logger.Info("node finished", fields...)
		case ResultAborted:
			b.logger.Warn("node aborted", fields...)
		default:
			b.logger.Error("node failed", append(fields, zap.Error(res.Err))...)
		}
	}()

	b.logger.Debug("node started")
	return n.Execute(ctx)
}

// sample publishes process memory and node throughput until ctx is done
func (w *Watchdog) sample(ctx context.Context, interval time.Duration) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		w.logger.Warn("memory sampling disabled", zap.Error(err))
		proc = nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if proc != nil {
				if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
					metrics.ProcessMemory.Set(float64(mem.RSS))
					w.logger.Debug("memory sample", zap.Uint64("rss", mem.RSS))
				}
			}
			for _, n := range w.graph.Nodes() {
				if t := n.Base().Throughput(); t != nil {
					t.GetAndReset()
				}
			}
		}
	}
}
