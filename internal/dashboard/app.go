// Package dashboard assembles the admin resource domains around one client,
// one session and one dispatcher.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/appclient"
	"github.com/g960059/opsdash/internal/command"
	"github.com/g960059/opsdash/internal/config"
	"github.com/g960059/opsdash/internal/dispatch"
	"github.com/g960059/opsdash/internal/logging"
	"github.com/g960059/opsdash/internal/metrics"
	"github.com/g960059/opsdash/internal/notify"
	"github.com/g960059/opsdash/internal/resource"
	"github.com/g960059/opsdash/internal/session"
)

const (
	Staff      = "STAFF"
	Customers  = "CUSTOMERS"
	Categories = "CATEGORIES"
	Products   = "PRODUCTS"
	Batches    = "BATCHES"
	Receipts   = "RECEIPTS"
	Discounts  = "DISCOUNTS"
	Auth       = "AUTH"
)

// Endpoints maps every list domain to its collection path.
var Endpoints = []resource.Endpoint{
	{Name: Staff, Path: "/staff"},
	{Name: Customers, Path: "/customers"},
	{Name: Categories, Path: "/categories"},
	{Name: Products, Path: "/products"},
	{Name: Batches, Path: "/harvest-batches"},
	{Name: Receipts, Path: "/receipts"},
	{Name: Discounts, Path: "/discounts"},
}

var aliases = map[string]string{
	"HARVEST_BATCHES": Batches,
	"BATCH":           Batches,
	"CUSTOMER":        Customers,
	"CATEGORY":        Categories,
	"PRODUCT":         Products,
	"RECEIPT":         Receipts,
	"DISCOUNT":        Discounts,
}

var ErrUnknownResource = errors.New("unknown resource")

// ErrNotRouted is returned by Run when the dispatcher dropped the command.
var ErrNotRouted = errors.New("command not supported")

// View is a resource domain independent of its record type.
type View interface {
	dispatch.Handler
	Endpoint() resource.Endpoint
	Summary() resource.Summary
	WaitSummary(ctx context.Context) (resource.Summary, error)
	LastQueryParams() (api.ListParams, bool)
	Start(d resource.Dispatcher)
	Close()
}

type Options struct {
	Config     config.Config
	Logger     *zap.Logger
	Session    *session.Manager
	HTTPClient *http.Client
}

type App struct {
	cfg        config.Config
	log        *zap.Logger
	client     *appclient.Client
	session    *session.Manager
	dispatcher *dispatch.Dispatcher
	reporter   *notify.Reporter
	metrics    *metrics.Metrics

	domains map[string]View
	order   []string

	Staff      *resource.Domain[api.Staff]
	Customers  *resource.Domain[api.Customer]
	Categories *resource.Domain[api.Category]
	Products   *resource.Domain[api.Product]
	Batches    *resource.Domain[api.HarvestBatch]
	Receipts   *resource.Domain[api.Receipt]
	Discounts  *resource.Domain[api.Discount]
	Auth       *resource.Domain[api.Profile]

	background sync.WaitGroup
	closeOnce  sync.Once
}

func New(opts Options) (*App, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	log := logging.OrNop(opts.Logger)
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	a := &App{
		cfg:     opts.Config,
		log:     log,
		session: opts.Session,
		client: appclient.NewWithClient(opts.Config.BaseURL, httpClient).
			WithTokenSource(opts.Session).
			WithUnaryTimeout(opts.Config.RequestTimeout).
			WithLogger(log.Named("client")),
		dispatcher: dispatch.New(log),
		reporter: notify.NewReporter(opts.Config.NotificationTTL,
			notify.WithBuffer(opts.Config.NotificationBuffer),
			notify.WithLogger(log.Named("notify"))),
		metrics: metrics.New(),
		domains: map[string]View{},
	}
	a.dispatcher.AddObserver(a.reporter)
	a.dispatcher.AddObserver(a.metrics)
	a.dispatcher.AddObserver(dispatch.ObserverFunc(a.observeSession))

	var err error
	if a.Staff, err = register[api.Staff](a, Endpoints[0]); err != nil {
		return a.abort(err)
	}
	if a.Customers, err = register[api.Customer](a, Endpoints[1]); err != nil {
		return a.abort(err)
	}
	if a.Categories, err = register[api.Category](a, Endpoints[2]); err != nil {
		return a.abort(err)
	}
	if a.Products, err = register[api.Product](a, Endpoints[3]); err != nil {
		return a.abort(err)
	}
	if a.Batches, err = register[api.HarvestBatch](a, Endpoints[4]); err != nil {
		return a.abort(err)
	}
	if a.Receipts, err = register[api.Receipt](a, Endpoints[5]); err != nil {
		return a.abort(err)
	}
	if a.Discounts, err = register[api.Discount](a, Endpoints[6]); err != nil {
		return a.abort(err)
	}
	a.Auth, err = register[api.Profile](a, resource.Endpoint{Name: Auth, Path: "/auth"},
		resource.WithEffects(authEffects(a.session, log.Named("auth"))))
	if err != nil {
		return a.abort(err)
	}
	return a, nil
}

func (a *App) abort(err error) (*App, error) {
	a.Close()
	return nil, err
}

func register[T any](a *App, ep resource.Endpoint, opts ...resource.Option[T]) (*resource.Domain[T], error) {
	base := []resource.Option[T]{
		resource.WithLogger[T](a.log.Named("coordinator")),
		resource.WithRecorder[T](a.metrics),
	}
	d := resource.NewDomain[T](ep, a.client, append(base, opts...)...)
	if err := a.dispatcher.Register(d); err != nil {
		d.Close()
		return nil, err
	}
	d.Start(a.dispatcher)
	a.domains[ep.Name] = d
	a.order = append(a.order, ep.Name)
	return d, nil
}

// Dispatch is the single entry point views use. Terminal commands belong to
// coordinators and are dropped here.
func (a *App) Dispatch(c command.Command) {
	if _, _, phase, ok := c.Kind.Parse(); ok && phase.Terminal() {
		a.log.Warn("terminal command from a view dropped", zap.String("kind", string(c.Kind)))
		return
	}
	a.dispatcher.Dispatch(c)
}

// Run dispatches c and waits until its domain is idle again.
func (a *App) Run(ctx context.Context, c command.Command) (resource.Summary, error) {
	name, _, phase, ok := c.Kind.Parse()
	if !ok || phase.Terminal() {
		return resource.Summary{}, fmt.Errorf("%w: %s", ErrNotRouted, c.Kind)
	}
	view, err := a.Domain(name)
	if err != nil {
		return resource.Summary{}, err
	}
	if !a.dispatcher.Route(c) {
		return view.Summary(), fmt.Errorf("%w: %s", ErrNotRouted, c.Kind)
	}
	return view.WaitSummary(ctx)
}

// Domain looks a domain up by name; case, dashes and a few singular forms
// are tolerated.
func (a *App) Domain(name string) (View, error) {
	key := CanonicalName(name)
	view, ok := a.domains[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	return view, nil
}

func CanonicalName(name string) string {
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	if alias, ok := aliases[key]; ok {
		return alias
	}
	return key
}

// Names lists the domains in registration order.
func (a *App) Names() []string {
	return append([]string(nil), a.order...)
}

func (a *App) Session() *session.Manager { return a.session }
func (a *App) Reporter() *notify.Reporter { return a.reporter }
func (a *App) Metrics() *metrics.Metrics { return a.metrics }
func (a *App) Client() *appclient.Client { return a.client }
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// RefreshAll repeats the last list query of every domain that has one and
// waits for all of them. Domains never listed are skipped.
func (a *App) RefreshAll(ctx context.Context) ([]string, error) {
	var refreshed []string
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range a.order {
		name := name
		view := a.domains[name]
		params, ok := view.LastQueryParams()
		if !ok {
			continue
		}
		refreshed = append(refreshed, name)
		a.dispatcher.Dispatch(command.Request(name, command.OpList, params))
		g.Go(func() error {
			sum, err := view.WaitSummary(gctx)
			if err != nil {
				return fmt.Errorf("refresh %s: %w", name, err)
			}
			if sum.Error != "" {
				a.log.Debug("refresh failed", zap.String("resource", name), zap.String("error", sum.Error))
			}
			return nil
		})
	}
	sort.Strings(refreshed)
	return refreshed, g.Wait()
}

// observeSession ends the local session when the backend rejects the token,
// and resets every other slice once logout completes. The reset goes through
// each slice's reducer so requests still in flight are retired with it.
func (a *App) observeSession(c command.Command) {
	name, op, phase, ok := c.Kind.Parse()
	if !ok {
		return
	}
	if name == Auth && op == command.OpLogout && phase == command.PhaseSuccess {
		for _, other := range a.order {
			if other != Auth {
				a.dispatcher.Dispatch(command.Reset(other))
			}
		}
		return
	}
	if phase != command.PhaseFailure || op == command.OpLogin {
		return
	}
	failure, _ := c.Payload.(command.Failure)
	if !appclient.IsUnauthorized(failure.Err) {
		return
	}
	if _, active := a.session.Current(); !active {
		return
	}
	a.log.Warn("token rejected, ending session", zap.String("kind", string(c.Kind)))
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		if err := a.session.Teardown(context.Background()); err != nil {
			a.log.Error("session teardown failed", zap.Error(err))
		}
	}()
}

// Close stops every coordinator and waits for in-flight calls.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.dispatcher.Close()
		for _, name := range a.order {
			a.domains[name].Close()
		}
		a.background.Wait()
		a.reporter.Close()
	})
}
