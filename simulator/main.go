package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	coremetrics "github.com/kilianp07/shiprelay/core/metrics"
	"github.com/kilianp07/shiprelay/infra/metrics"
	"github.com/kilianp07/shiprelay/infra/mqtt"
)

type influxFlags struct {
	URL, Token, Org, Bucket string
}

func main() {
	cfg, ifx := parseFlags()
	if err := (&cfg).Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if !cfg.Verbose {
		log.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	strat, err := newStrategy(cfg)
	if err != nil {
		log.Fatalf("strategy: %v", err)
	}
	var sink coremetrics.MetricsSink = coremetrics.NopSink{}
	if ifx.URL != "" {
		sink = metrics.NewInfluxSinkWithFallback(ifx.URL, ifx.Token, ifx.Org, ifx.Bucket)
	}

	actors := GenerateActors(FleetConfig{
		Drivers:     cfg.Drivers,
		Companies:   cfg.Companies,
		TokenPrefix: cfg.TokenPrefix,
	}, strat)

	if cfg.BackendAddr != "" {
		srv := &http.Server{Addr: cfg.BackendAddr, Handler: NewMockBackend(actors).Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("mock backend: %v", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	runActors(ctx, actors, cfg, sink)
}

func parseFlags() (Config, influxFlags) {
	var cfg Config
	var ifx influxFlags
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&cfg.TopicPrefix, "topic-prefix", mqtt.DefaultTopicPrefix, "MQTT topic prefix")
	flag.IntVar(&cfg.Drivers, "drivers", 1, "number of simulated drivers")
	flag.IntVar(&cfg.Companies, "companies", 0, "number of simulated companies")
	flag.StringVar(&cfg.TokenPrefix, "token-prefix", "sim-token-", "session token prefix, the actor id is appended")
	flag.StringVar(&cfg.Strategy, "strategy", "accept", "response strategy (accept, reject, random)")
	flag.DurationVar(&cfg.Delay, "delay", 0, "response delay, upper bound for random")
	flag.Float64Var(&cfg.DropRate, "drop-rate", 0, "probability of not answering (random)")
	flag.Float64Var(&cfg.AcceptRate, "accept-rate", 0.5, "probability of accepting (random)")
	flag.StringVar(&cfg.BackendAddr, "backend-addr", "", "serve a mock backend on this address")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	flag.StringVar(&ifx.URL, "influx-url", "", "InfluxDB URL")
	flag.StringVar(&ifx.Token, "influx-token", "", "InfluxDB token")
	flag.StringVar(&ifx.Org, "influx-org", "", "InfluxDB organization")
	flag.StringVar(&ifx.Bucket, "influx-bucket", "", "InfluxDB bucket")
	flag.Parse()
	return cfg, ifx
}

func runActors(ctx context.Context, actors []*SimulatedActor, cfg Config, sink coremetrics.MetricsSink) {
	var wg sync.WaitGroup
	for _, a := range actors {
		a.Broker = cfg.Broker
		a.TopicPrefix = cfg.TopicPrefix
		a.Metrics = sink
		wg.Add(1)
		go func(a *SimulatedActor) {
			defer wg.Done()
			if err := a.Run(ctx); err != nil {
				log.Printf("%s: %v", a.ID, err)
			}
		}(a)
	}
	wg.Wait()
	for _, a := range actors {
		s := a.Stats()
		log.Printf("%s: requests=%d accepted=%d rejected=%d silent=%d", a.ID, s.Requests, s.Accepted, s.Rejected, s.Silent)
	}
}
