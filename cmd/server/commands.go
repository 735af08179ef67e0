package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/timeslots/api"
	"github.com/warp/timeslots/app"
	"github.com/warp/timeslots/config"
	"github.com/warp/timeslots/store/sqlite"
	"github.com/warp/timeslots/stream"
	"github.com/warp/timeslots/timeslot"
)

// serveOptions holds flags that override the loaded config.
type serveOptions struct {
	configPath string
	port       int
	dbPath     string
	env        string
}

func newRootCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:           "timeslots",
		Short:         "Serve evenly spaced timestamps as JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	bindServeFlags(cmd, opts)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	bindServeFlags(serve, opts)

	cmd.AddCommand(serve)
	cmd.AddCommand(newSlotsCommand())
	return cmd
}

func bindServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVar(&opts.configPath, "config", "", "YAML config file")
	cmd.Flags().IntVar(&opts.port, "port", 0, "HTTP server port (overrides config)")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", `SQLite database path, ":memory:" for in-memory (overrides config)`)
	cmd.Flags().StringVar(&opts.env, "env", "", "environment: production|development (overrides config)")
}

func (o *serveOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.port != 0 {
		cfg.HTTP.Port = o.port
	}
	if o.dbPath != "" {
		cfg.Store.Path = o.dbPath
	}
	if o.env != "" {
		cfg.Env = o.env
	}
	return cfg, cfg.Validate()
}

// =============================================================================
// SERVE
// =============================================================================

func runServe(ctx context.Context, opts *serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, level, err := app.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := sqlite.New(ctx, cfg.Store.Path, sqlite.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	if cfg.SeedEnabled() {
		r, err := cfg.SeedRange()
		if err != nil {
			return err
		}
		added, err := store.Seed(ctx, r.Slots())
		if err != nil {
			return fmt.Errorf("seed database: %w", err)
		}
		logger.Info("store seeded",
			zap.Stringer("range", r), zap.Int("slots", r.Count()), zap.Int("added", added))
	}

	if opts.configPath != "" {
		go func() {
			err := config.Watch(ctx, opts.configPath, logger, func(next *config.Config) {
				if err := app.SetLevel(level, next.LogLevel); err != nil {
					logger.Warn("ignoring log level", zap.Error(err))
					return
				}
				logger.Info("log level changed", zap.String("level", next.LogLevel))
			})
			if err != nil {
				logger.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	handler := api.NewHandler(store, logger)
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.HTTP.AllowedOrigins})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// =============================================================================
// SLOTS
// =============================================================================

func newSlotsCommand() *cobra.Command {
	var (
		start    string
		end      string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the slots of [start, end) as a JSON array",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := timeslot.Parse(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			to, err := timeslot.Parse(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			r, err := timeslot.NewRange(from, to, interval)
			if err != nil {
				return fmt.Errorf("--interval: %w", err)
			}

			// Slots are encoded as they are generated; the range may be huge.
			var dtos iter.Seq[api.TimeDTO] = func(yield func(api.TimeDTO) bool) {
				for t := range r.Slots() {
					if !yield(api.TimeDTO{Time: timeslot.Format(t)}) {
						return
					}
				}
			}
			return stream.NewEncoder(stream.NewAdapter(cmd.OutOrStdout())).Encode(dtos)
		},
	}

	cmd.Flags().StringVar(&start, "start", config.DefaultSeedStart, "range start (exclusive, RFC3339)")
	cmd.Flags().StringVar(&end, "end", config.DefaultSeedEnd, "range end (exclusive, RFC3339)")
	cmd.Flags().DurationVar(&interval, "interval", config.DefaultSeedInterval, "step between slots")
	return cmd
}
