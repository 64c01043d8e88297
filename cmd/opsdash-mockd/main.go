package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/g960059/opsdash/internal/logging"
	"github.com/g960059/opsdash/internal/mockbackend"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	seed := flag.Bool("seed", true, "load demo data")
	delay := flag.Duration("delay", 0, "hold every request this long")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log, err := logging.New(*level, true)
	if err != nil {
		fatal(err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []mockbackend.Option{mockbackend.WithLogger(log)}
	if *delay > 0 {
		d := *delay
		opts = append(opts, mockbackend.WithDelay(func(*http.Request) time.Duration { return d }))
	}
	srv := mockbackend.New(opts...)
	if *seed {
		if err := srv.Seed(); err != nil {
			fatal(err)
		}
	}
	log.Info("starting mock backend", zap.String("addr", *addr), zap.String("base_path", mockbackend.BasePath))
	if err := srv.Start(ctx, *addr); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "opsdash-mockd: %v\n", err)
	os.Exit(1)
}
