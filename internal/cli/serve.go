package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/command"
	"github.com/g960059/opsdash/internal/dashboard"
	"github.com/g960059/opsdash/internal/logging"
	"github.com/g960059/opsdash/internal/mockbackend"
)

// watchCommand lists the given resources, then refreshes them every
// interval and serves the dashboard metrics while it runs.
func (r *Runner) watchCommand() *cobra.Command {
	var lf listFlags
	var interval time.Duration
	var metricsAddr string
	var rounds int
	cmd := &cobra.Command{
		Use:     "watch <resource>...",
		Aliases: []string{"serve-metrics"},
		Short:   "Refresh resources periodically and expose Prometheus metrics",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usagef("usage: opsdash watch <resource>... [--interval 5s] [--metrics-addr :9090]")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := r.open(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			params, err := lf.params(e.cfg.DefaultPageLimit)
			if err != nil {
				return err
			}
			for _, name := range args {
				if _, err := e.app.Domain(name); err != nil {
					return &usageError{err: err}
				}
			}
			if interval <= 0 {
				interval = e.cfg.WatchInterval
			}
			if metricsAddr == "" {
				metricsAddr = e.cfg.MetricsAddr
			}

			g, gctx := errgroup.WithContext(ctx)
			if metricsAddr != "" {
				ln, err := net.Listen("tcp", metricsAddr)
				if err != nil {
					return fmt.Errorf("listen metrics: %w", err)
				}
				_, _ = fmt.Fprintf(r.errOut, "metrics on http://%s/metrics\n", ln.Addr())
				g.Go(func() error {
					return serveMetrics(gctx, ln, e.app.Metrics().Handler())
				})
			}
			g.Go(func() error {
				return r.watchLoop(gctx, e, args, params, interval, rounds)
			})
			err = g.Wait()
			if errors.Is(err, context.Canceled) || errors.Is(err, errWatchDone) {
				return nil
			}
			return err
		},
	}
	lf.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "stop after this many refreshes (0 runs until interrupted)")
	return cmd
}

var errWatchDone = errors.New("watch finished")

func (r *Runner) watchLoop(ctx context.Context, e *env, names []string, params api.ListParams, interval time.Duration, rounds int) error {
	for _, name := range names {
		e.app.Dispatch(command.Request(dashboard.CanonicalName(name), command.OpList, params))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for round := 1; ; round++ {
		for _, name := range names {
			view, _ := e.app.Domain(name)
			sum, err := view.WaitSummary(ctx)
			if err != nil {
				return err
			}
			if r.jsonOut {
				_ = r.writeJSON(sum)
				continue
			}
			status := "ok"
			if sum.Error != "" {
				status = "error: " + sum.Error
			}
			_, _ = fmt.Fprintf(r.out, "%s %s: %d of %d records, %s\n",
				time.Now().Format(time.TimeOnly), strings.ToLower(sum.Resource), sum.Count, sum.Pagination.Total, status)
		}
		r.printNotifications(e)
		if rounds > 0 && round >= rounds {
			return errWatchDone
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := e.app.RefreshAll(ctx); err != nil {
			return err
		}
	}
}

func serveMetrics(ctx context.Context, ln net.Listener, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (r *Runner) mockBackendCommand() *cobra.Command {
	var addr string
	var seed bool
	cmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Run the in-memory backend for demos and tests",
		Args:  exactArgs(0, "[--addr 127.0.0.1:8080]"),
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := "info"
			if r.verbose {
				level = "debug"
			}
			log, err := logging.New(level, false)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			srv := mockbackend.New(mockbackend.WithLogger(log))
			if seed {
				if err := srv.Seed(); err != nil {
					return err
				}
				log.Info("demo data seeded", zap.String("login", "admin@example.com"))
			}
			err = srv.Start(cmd.Context(), addr)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().BoolVar(&seed, "seed", true, "load demo data")
	return cmd
}
