// Package cli is the opsdash command line: every subcommand dispatches one
// command through the dashboard and renders the resulting slice.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/g960059/opsdash/internal/config"
	"github.com/g960059/opsdash/internal/dashboard"
	"github.com/g960059/opsdash/internal/logging"
	"github.com/g960059/opsdash/internal/session"
)

type Runner struct {
	client *http.Client
	out    io.Writer
	errOut io.Writer

	configPath string
	baseURL    string
	jsonOut    bool
	verbose    bool
	quiet      bool
}

// usageError maps to exit code 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// errReported marks a failure already rendered to the user.
var errReported = errors.New("reported")

func NewRunner(out, errOut io.Writer) *Runner {
	return NewRunnerWithClient(nil, out, errOut)
}

func NewRunnerWithClient(client *http.Client, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{client: client, out: out, errOut: errOut}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	root := r.rootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return r.handleErr(err)
	}
	return 0
}

func (r *Runner) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "opsdash",
		Short: "Operate the admin dashboard backend from the terminal",
		Long: `opsdash drives the admin dashboard's resource domains (staff, customers,
categories, products, batches, receipts, discounts) against the REST backend.

Examples:
  opsdash login --email admin@example.com --password secret
  opsdash list staff --status active --sort-by fullName
  opsdash set-status staff st-1 inactive --refresh --status active`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(r.out)
	root.SetErr(r.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&r.configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	flags.StringVar(&r.baseURL, "base-url", "", "backend API base URL")
	flags.BoolVar(&r.jsonOut, "json", false, "output JSON")
	flags.BoolVarP(&r.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVarP(&r.quiet, "quiet", "q", false, "do not print notifications")

	root.AddCommand(
		r.loginCommand(),
		r.logoutCommand(),
		r.whoamiCommand(),
		r.listCommand(),
		r.getCommand(),
		r.createCommand(),
		r.updateCommand(),
		r.setStatusCommand(),
		r.deleteCommand(),
		r.watchCommand(),
		r.mockBackendCommand(),
	)
	return root
}

func (r *Runner) handleErr(err error) int {
	if errors.Is(err, errReported) {
		return 1
	}
	var usage *usageError
	if errors.As(err, &usage) || strings.HasPrefix(err.Error(), "unknown command") {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) loadConfig() (config.Config, error) {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if strings.TrimSpace(r.baseURL) != "" {
		cfg.BaseURL = strings.TrimSpace(r.baseURL)
		if err := cfg.Validate(); err != nil {
			return config.Config{}, &usageError{err: err}
		}
	}
	if r.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// env is one opened dashboard with the resources it holds.
type env struct {
	cfg   config.Config
	log   *zap.Logger
	store *session.Store
	app   *dashboard.App
}

func (r *Runner) open(ctx context.Context) (*env, error) {
	cfg, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return nil, &usageError{err: err}
	}
	store, err := session.Open(ctx, cfg.SessionPath)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	mgr := session.NewManager(store, log.Named("session")).WithOverride(cfg.Token)
	if err := mgr.Start(ctx); err != nil {
		_ = store.Close()
		_ = log.Sync()
		return nil, err
	}
	app, err := dashboard.New(dashboard.Options{Config: cfg, Logger: log, Session: mgr, HTTPClient: r.client})
	if err != nil {
		_ = store.Close()
		_ = log.Sync()
		return nil, err
	}
	return &env{cfg: cfg, log: log, store: store, app: app}, nil
}

func (e *env) Close() {
	e.app.Close()
	_ = e.store.Close()
	_ = e.log.Sync()
}
