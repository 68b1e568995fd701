package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/mdgx-bridge/binding"
	"github.com/wippyai/mdgx-bridge/config"
	"github.com/wippyai/mdgx-bridge/engine"
	"github.com/wippyai/mdgx-bridge/errors"
	"github.com/wippyai/mdgx-bridge/triad"
)

// options holds the persistent flags and what setup builds from them.
type options struct {
	configPath  string
	evaluator   string
	logLevel    string
	metricsAddr string

	cfg     *config.Config
	logger  *zap.Logger
	metrics *http.Server
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "mdgx",
		Short:         "drive an mdgx force-field evaluator compiled to WebAssembly",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return o.shutdown(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "config file (yaml)")
	pf.StringVar(&o.evaluator, "evaluator", "", "evaluator module (.wasm)")
	pf.StringVar(&o.logLevel, "log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	pf.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		newExportsCmd(o),
		newEvalCmd(o),
		newBatchCmd(o),
		newInspectCmd(o),
	)
	return root
}

// setup merges the config file with flags, then installs loggers and the
// metrics endpoint. Flags win over file values.
func (o *options) setup(cmd *cobra.Command) error {
	cfg := config.DefaultConfig()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("evaluator") {
		cfg.Evaluator.Module = o.evaluator
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Listen = o.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	o.logger = logger
	engine.SetLogger(logger.Named("engine"))
	triad.SetLogger(logger.Named("triad"))
	binding.SetLogger(logger.Named("binding"))

	if cfg.Metrics.Listen != "" {
		return o.serveMetrics(cfg.Metrics.Listen)
	}
	return nil
}

func (o *options) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.InvalidConfig("metrics listen "+addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	o.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := o.metrics.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			o.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	o.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

func (o *options) shutdown(ctx context.Context) error {
	var err error
	if o.metrics != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err = o.metrics.Shutdown(sctx)
		cancel()
		o.metrics = nil
	}
	if o.logger != nil {
		_ = o.logger.Sync()
	}
	return err
}

// openEngine compiles the configured evaluator module.
func (o *options) openEngine(ctx context.Context) (*engine.Engine, error) {
	path := o.cfg.Evaluator.Module
	if path == "" {
		return nil, errors.InvalidConfig("no evaluator module: set --evaluator or evaluator.module", nil)
	}
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read "+path, err)
	}
	return engine.New(ctx, wasm, &engine.Config{
		Stderr:           os.Stderr,
		MemoryLimitPages: o.cfg.Evaluator.MemoryLimitPages,
	})
}
