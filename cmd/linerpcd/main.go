// Command linerpcd serves JSON-RPC 2.0 requests read line by line from
// stdin and writes one response line per request to stdout. Logs go to
// stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mnehpets/linerpc/config"
	"github.com/mnehpets/linerpc/jsonrpc"
	"github.com/mnehpets/linerpc/metrics"
	"github.com/mnehpets/linerpc/procs"
	"github.com/mnehpets/linerpc/state"
)

// Version is set at build time.
var Version = "dev"

type flags struct {
	configFile  string
	envFile     string
	logLevel    string
	metricsAddr string
	statePath   string
	version     bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("linerpcd", flag.ContinueOnError)
	fs.StringVar(&f.configFile, "config", "", "Path to YAML configuration file")
	fs.StringVar(&f.envFile, "env-file", "", "Path to .env file (default .env)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Address for the Prometheus metrics endpoint")
	fs.StringVar(&f.statePath, "state", "", "Path of the shared state snapshot")
	fs.BoolVar(&f.version, "version", false, "Show version information")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if f.version {
		fmt.Fprintln(os.Stderr, "linerpcd", Version)
		return
	}
	if err := run(f); err != nil {
		fmt.Fprintln(os.Stderr, "linerpcd:", err)
		os.Exit(1)
	}
}

// loadConfig applies the config layers in order, with flags last.
func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	if err := config.LoadEnvFile(f.envFile); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.metricsAddr != "" {
		cfg.MetricsAddr = f.metricsAddr
	}
	if f.statePath != "" {
		cfg.State.Path = f.statePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.LogFormat == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
	return logger.Level(cfg.Level()).With().Timestamp().Logger()
}

func newSealer(cfg *config.Config) (*state.Sealer, error) {
	key, err := cfg.StateKey()
	if err != nil || key == nil {
		return nil, err
	}
	return state.NewSealer(cfg.State.KeyID, map[string][]byte{cfg.State.KeyID: key}, nil)
}

func run(f *flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	sealer, err := newSealer(cfg)
	if err != nil {
		return err
	}
	store := state.New()
	if cfg.State.Path != "" {
		if store, err = state.Load(cfg.State.Path, sealer); err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		logger.Info().Str("path", cfg.State.Path).Int("keys", store.Len()).Bool("sealed", sealer != nil).Msg("state loaded")
	}

	policy, err := jsonrpc.ParseDuplicatePolicy(cfg.DuplicatePolicy)
	if err != nil {
		return err
	}
	reg := jsonrpc.NewRegistry(jsonrpc.WithDuplicatePolicy(policy))
	if err := procs.Register(reg); err != nil {
		return fmt.Errorf("register procedures: %w", err)
	}

	opts := []jsonrpc.Option{
		jsonrpc.WithShared(store),
		jsonrpc.WithLogger(logger),
		jsonrpc.WithMaxLineBytes(cfg.MaxLineBytes),
	}
	if cfg.RateLimit.Enabled {
		opts = append(opts, jsonrpc.WithLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m, err := metrics.New(promReg)
		if err != nil {
			return err
		}
		opts = append(opts, jsonrpc.WithObserver(m))

		srv, err := startMetricsServer(cfg.MetricsAddr, metrics.Handler(promReg), logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown")
			}
		}()
	}

	server := jsonrpc.NewServer(reg, opts...)
	logger.Info().Str("version", Version).Strs("methods", reg.Names()).Msg("serving on stdio")

	// Serve blocks in a read until the next line arrives, so a signal is
	// handled here rather than by Serve.
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(ctx, os.Stdin, os.Stdout)
	}()
	var serveErr error
	select {
	case serveErr = <-served:
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	}
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	if cfg.State.Path != "" && store.Dirty() {
		if err := store.Save(cfg.State.Path, sealer); err != nil {
			logger.Error().Err(err).Msg("failed to save state")
			return errors.Join(serveErr, err)
		}
		logger.Info().Str("path", cfg.State.Path).Msg("state saved")
		if store.Dirty() {
			logger.Warn().Msg("state changed while saving; latest changes not saved")
		}
	}
	return serveErr
}

func startMetricsServer(addr string, h http.Handler, logger zerolog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("metrics endpoint listening")
	return srv, nil
}
