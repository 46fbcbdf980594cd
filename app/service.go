package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	apidispatch "github.com/kilianp07/shiprelay/api/dispatch"
	"github.com/kilianp07/shiprelay/api/relay"
	"github.com/kilianp07/shiprelay/config"
	"github.com/kilianp07/shiprelay/core/dispatch"
	"github.com/kilianp07/shiprelay/core/dispatch/logging"
	"github.com/kilianp07/shiprelay/core/lifecycle"
	coremetrics "github.com/kilianp07/shiprelay/core/metrics"
	coremon "github.com/kilianp07/shiprelay/core/monitoring"
	"github.com/kilianp07/shiprelay/core/registry"
	"github.com/kilianp07/shiprelay/core/transport"
	"github.com/kilianp07/shiprelay/infra/logger"
	"github.com/kilianp07/shiprelay/infra/metrics"
	inframon "github.com/kilianp07/shiprelay/infra/monitoring"
	"github.com/kilianp07/shiprelay/infra/mqtt"
	"github.com/kilianp07/shiprelay/infra/upstream"
	"github.com/kilianp07/shiprelay/internal/eventbus"
)

// Service wires the relay: MQTT transport, lifecycle manager, dispatch
// coordinator and HTTP API.
type Service struct {
	cfg         *config.Config
	Registry    *registry.ActorRegistry
	Coordinator *dispatch.Coordinator
	Lifecycle   *lifecycle.Manager
	API         *relay.Handler

	out       *transport.Deferred
	transport *mqtt.PahoTransport
	bus       *eventbus.Bus
	sink      coremetrics.MetricsSink
	store     logging.LogStore
	recorder  *logging.Recorder
	log       logger.Logger
}

// New creates a Service from the configuration. Nothing connects until Run.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	mon, err := inframon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	backend, err := upstream.New(cfg.Upstream, logger.New("upstream"))
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	store, err := cfg.Logging.Open()
	if err != nil {
		return nil, fmt.Errorf("dispatch log store: %w", err)
	}

	bus := eventbus.New()
	reg := registry.New()
	out := &transport.Deferred{}

	coord, err := dispatch.NewCoordinator(cfg.Dispatch, reg, out, clock.New(), logger.New("dispatch"))
	if err != nil {
		return nil, fmt.Errorf("dispatch coordinator: %w", err)
	}
	recorder := logging.NewRecorder(store, logger.New("dispatch-log"))
	coord.SetMetricsSink(sink)
	coord.SetEventBus(bus)
	coord.SetOutcomeRecorder(recorder)

	lc, err := lifecycle.NewManager(reg, backend, out, coord, logger.New("lifecycle"))
	if err != nil {
		return nil, fmt.Errorf("lifecycle manager: %w", err)
	}
	lc.SetEventBus(bus)

	api, err := relay.NewHandler(coord, backend, reg, out, relay.Options{
		Strategy:       cfg.Dispatch.DefaultKind(),
		WaitForOutcome: cfg.Dispatch.WaitForOutcome,
	}, logger.New("api"))
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	return &Service{
		cfg:         cfg,
		Registry:    reg,
		Coordinator: coord,
		Lifecycle:   lc,
		API:         api,
		out:         out,
		bus:         bus,
		sink:        sink,
		store:       store,
		recorder:    recorder,
		log:         logg,
	}, nil
}

// Handler returns the HTTP routes of the service.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.API.Register(mux)
	if s.store != nil {
		mux.Handle("GET /api/dispatch/logs", apidispatch.NewLogHandler(s.store, s.cfg.HTTP.LogsToken))
	}
	return mux
}

// Run connects to the broker and serves the HTTP API until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	pt, err := mqtt.NewPahoTransport(s.cfg.MQTT, s.Lifecycle, logger.New("mqtt"))
	if err != nil {
		return fmt.Errorf("mqtt transport: %w", err)
	}
	s.transport = pt
	s.out.Set(pt)

	g, gctx := errgroup.WithContext(ctx)
	metrics.StartEventCollector(gctx, s.bus, s.sink)
	recorded := s.recorder.Start(gctx)

	g.Go(func() error {
		return relay.Serve(gctx, s.cfg.HTTP.Addr, s.Handler(), s.log)
	})
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		g.Go(func() error {
			return metrics.StartPromServer(gctx, addr, nil, s.log)
		})
	}
	s.log.Infof("relay started, default strategy %s", s.cfg.Dispatch.DefaultKind())
	err = g.Wait()
	<-recorded
	return err
}

// Close stops background dispatches and releases resources held by the
// service.
func (s *Service) Close() error {
	s.API.Close()
	if s.transport != nil {
		s.transport.Close()
	}
	s.bus.Close()
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
