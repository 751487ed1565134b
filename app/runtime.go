package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kilianp07/depannage/config"
	"github.com/kilianp07/depannage/core/audit"
	"github.com/kilianp07/depannage/core/demande"
	"github.com/kilianp07/depannage/core/events"
	"github.com/kilianp07/depannage/core/logger"
	coremetrics "github.com/kilianp07/depannage/core/metrics"
	coremon "github.com/kilianp07/depannage/core/monitoring"
	infralogger "github.com/kilianp07/depannage/infra/logger"
	"github.com/kilianp07/depannage/infra/metrics"
	"github.com/kilianp07/depannage/infra/monitoring"
	"github.com/kilianp07/depannage/infra/mqtt"
	"github.com/kilianp07/depannage/infra/store/postgres"
	"github.com/kilianp07/depannage/internal/eventbus"
)

const openTimeout = 10 * time.Second

// App is the running dispatch service: the HTTP API, the sweeper and the
// MQTT and metrics side channels around one Service.
type App struct {
	cfg     *config.Config
	svc     *Service
	bus     eventbus.EventBus
	store   demande.Store
	journal audit.Store
	sink    coremetrics.MetricsSink
	client  *mqtt.PahoClient
	fanout  *mqtt.Notifier
	log     logger.Logger
}

// New builds an App from the configuration. Resources opened before a
// failure are released.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	infralogger.Configure(cfg.Logging.Level, cfg.Logging.Format)
	a := &App{cfg: cfg, log: infralogger.New("app")}

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	if a.store, err = openStore(cfg.Store); err != nil {
		return nil, err
	}
	if a.journal, err = audit.Open(cfg.Audit); err != nil {
		return nil, fmt.Errorf("audit journal: %w", err)
	}
	if a.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sinks: %w", err)
	}
	a.bus = eventbus.New()

	notifiers := events.MultiNotifier{eventbus.Notifier{Bus: a.bus}}
	if cfg.MQTT.Enabled() {
		if a.client, err = mqtt.NewPahoClient(cfg.MQTT, infralogger.New("mqtt")); err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		a.fanout = mqtt.NewNotifier(a.client)
		notifiers = append(notifiers, a.fanout)
	}

	a.svc, err = NewService(Components{
		Store:    a.store,
		Journal:  a.journal,
		Notifier: notifiers,
		Bus:      a.bus,
		Sink:     a.sink,
		Logger:   infralogger.New("dispatch"),
		Dispatch: cfg.Dispatch,
		Geo:      cfg.Geo,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func openStore(c config.StoreConfig) (demande.Store, error) {
	switch c.Backend {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
		defer cancel()
		s, err := postgres.Open(ctx, c.DSN, postgres.TableConfig{DemandesTable: c.Table})
		if err != nil {
			return nil, fmt.Errorf("demande store: %w", err)
		}
		return s, nil
	case "memory", "":
		return demande.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %s", c.Backend)
	}
}

// Service returns the operations behind the API.
func (a *App) Service() *Service { return a.svc }

// Run starts the background workers and serves the API on the configured
// address until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.start(ctx); err != nil {
		_ = ln.Close()
		return err
	}
	srv := &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout(),
		WriteTimeout: a.cfg.HTTP.WriteTimeout(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout())
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Errorf("http shutdown: %v", err)
		}
		cancel()
	}()
	a.log.Infof("dispatch API listening on %s", ln.Addr())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) start(ctx context.Context) error {
	go a.svc.Engine().Run(ctx)
	metrics.StartEventCollector(ctx, a.bus, a.sink, infralogger.New("metrics"))
	metrics.StartFleetRecorder(ctx, a.cfg.Metrics.FleetInterval(), a.svc.FleetStatus, a.sink, infralogger.New("metrics"))
	if a.client == nil {
		return nil
	}
	sub := a.bus.Subscribe()
	go func() {
		defer a.bus.Unsubscribe(sub)
		mqtt.Forward(ctx, sub, a.fanout, a.log)
	}()
	if err := mqtt.ListenPositions(a.client, a.svc, infralogger.New("mqtt")); err != nil {
		return fmt.Errorf("listen positions: %w", err)
	}
	return nil
}

// Close releases the broker connection, the stores and the sinks, then
// flushes pending error reports.
func (a *App) Close() error {
	var errs []error
	if a.client != nil {
		a.client.Disconnect()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if c, ok := a.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	closeSink(a.sink)
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}

func closeSink(s coremetrics.MetricsSink) {
	switch v := s.(type) {
	case *coremetrics.MultiSink:
		for _, inner := range v.Sinks {
			closeSink(inner)
		}
	case interface{ Close() }:
		v.Close()
	}
}
