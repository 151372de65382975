package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scrypster/metacluster/internal/engine"
	"github.com/scrypster/metacluster/internal/llm"
	"github.com/scrypster/metacluster/internal/notify"
	"github.com/scrypster/metacluster/internal/storage/jsonl"
	"github.com/scrypster/metacluster/pkg/types"
)

type reduceOptions struct {
	basePath      string
	summariesPath string
	outPath       string
	tracePath     string
	runID         string
	metricsAddr   string
	maxClusters   int
	maxRounds     int
	noStore       bool
	watch         bool
}

func newReduceCmd(a *app) *cobra.Command {
	o := &reduceOptions{}
	cmd := &cobra.Command{
		Use:   "reduce",
		Short: "Reduce base clusters into a meta-cluster hierarchy",
		Example: `  metacluster reduce --base clusters.jsonl --summaries summaries.jsonl --out meta_clusters.jsonl
  metacluster reduce --base clusters.jsonl --max-clusters 8 --store sqlite --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := llm.NewStructuredGenerator(a.cfg.LLM, a.logger)
			if err != nil {
				return err
			}
			embedder, err := llm.NewEmbedder(a.cfg.LLM, a.logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = runReduce(ctx, a, o, gen, embedder, cmd.OutOrStdout())
			if !o.watch {
				return err
			}
			if err != nil {
				a.logger.Error().Err(err).Msg("reduction failed")
			}
			return watchAndReduce(ctx, a, o, gen, embedder, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.basePath, "base", "", "JSONL file of base clusters (required)")
	f.StringVar(&o.summariesPath, "summaries", "", "JSONL file of conversation summaries used as resolver examples")
	f.StringVar(&o.outPath, "out", "", "Also write the tree to this meta_clusters.jsonl checkpoint")
	f.StringVar(&o.tracePath, "trace", "", "Write round trace events to this JSONL file")
	f.StringVar(&o.runID, "run-id", "", "Run ID under which the tree is stored (default: random UUID)")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running (overrides metrics.addr)")
	f.IntVar(&o.maxClusters, "max-clusters", 0, "Target root count (overrides engine.max_clusters)")
	f.IntVar(&o.maxRounds, "max-rounds", -1, "Round bound (overrides engine.max_rounds)")
	f.BoolVar(&o.noStore, "no-store", false, "Skip saving the run to the configured store")
	f.BoolVar(&o.watch, "watch", false, "Keep running and reduce again whenever the base or summaries file changes")
	_ = cmd.MarkFlagRequired("base")
	return cmd
}

// runReduce is the body of the reduce command with its generative
// dependencies injected.
func runReduce(ctx context.Context, a *app, o *reduceOptions, gen llm.StructuredGenerator, embedder llm.Embedder, out io.Writer) error {
	logger := a.logger

	base, err := jsonl.ReadBaseClustersFile(o.basePath)
	if err != nil {
		return err
	}
	logger.Info().Int("clusters", len(base)).Str("path", o.basePath).Msg("loaded base clusters")

	var lookup engine.SummaryLookup
	if o.summariesPath != "" {
		summaries, err := jsonl.ReadSummariesFile(o.summariesPath)
		if err != nil {
			return err
		}
		lookup = jsonl.NewSummaryIndex(summaries).Lookup
		logger.Info().Int("summaries", len(summaries)).Msg("loaded conversation summaries")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	addr := a.cfg.Metrics.Addr
	if o.metricsAddr != "" {
		addr = o.metricsAddr
	}
	if addr != "" {
		shutdown, err := serveMetrics(addr, reg, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	cfg := engine.ConfigFrom(a.cfg.Engine)
	if o.maxClusters > 0 {
		cfg.MaxClusters = o.maxClusters
	}
	if o.maxRounds >= 0 {
		cfg.MaxRounds = o.maxRounds
	}

	reducer, err := engine.NewReducer(gen, cfg, engine.Options{
		Logger:    &logger,
		Metrics:   metrics,
		Summaries: lookup,
		Embedder:  embedder,
	})
	if err != nil {
		return err
	}

	var collector *engine.TraceCollector
	if o.tracePath != "" {
		collector = engine.NewTraceCollector()
		ctx = engine.WithTraceCollector(ctx, collector)
	}

	start := time.Now()
	tree, err := reducer.ReduceDefault(ctx, base)
	if collector != nil {
		if werr := writeTrace(o.tracePath, collector.Events()); werr != nil {
			logger.Warn().Err(werr).Str("path", o.tracePath).Msg("failed to write trace")
		}
	}
	if err != nil {
		return err
	}

	if o.outPath != "" {
		if err := jsonl.WriteTreeFile(o.outPath, tree); err != nil {
			return err
		}
		logger.Info().Str("path", o.outPath).Msg("wrote checkpoint")
	}

	runID := o.runID
	if !o.noStore {
		if runID == "" {
			runID = uuid.NewString()
		}
		store, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.SaveTree(ctx, runID, tree); err != nil {
			return fmt.Errorf("failed to save run %s: %w", runID, err)
		}
		logger.Info().Str("run_id", runID).Str("store", a.cfg.Storage.Engine).Msg("saved run")
	}

	printSummary(out, runID, tree, time.Since(start))
	return nil
}

// watchAndReduce reruns the reduction after each debounced change to the
// input files until ctx is cancelled. Failed reruns are logged.
func watchAndReduce(ctx context.Context, a *app, o *reduceOptions, gen llm.StructuredGenerator, embedder llm.Embedder, out io.Writer) error {
	changes := make(chan []string, 1)
	w := notify.NewFileWatcher([]string{o.basePath, o.summariesPath}, notify.DefaultDebounce, a.logger, func(changed []string) {
		select {
		case changes <- changed:
		default:
		}
	})
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case changed := <-changes:
			a.logger.Info().Strs("files", changed).Msg("input changed, reducing again")
			if err := runReduce(ctx, a, o, gen, embedder, out); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Error().Err(err).Msg("reduction failed")
			}
		}
	}
}

func printSummary(w io.Writer, runID string, tree *types.Tree, elapsed time.Duration) {
	if runID != "" {
		fmt.Fprintf(w, "Run:      %s\n", runID)
	}
	fmt.Fprintf(w, "Rounds:   %d\n", tree.Rounds)
	fmt.Fprintf(w, "Roots:    %d\n", len(tree.RootIDs))
	fmt.Fprintf(w, "Clusters: %d\n", len(tree.Clusters))
	fmt.Fprintf(w, "Elapsed:  %s\n", elapsed.Round(time.Millisecond))
	if tree.Degraded {
		fmt.Fprintf(w, "Degraded: %s\n", tree.DegradedReason)
	}
}

// writeTrace writes one JSON event per line.
func writeTrace(path string, events []engine.TraceEvent) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// serveMetrics exposes reg on addr under /metrics until the returned
// function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
