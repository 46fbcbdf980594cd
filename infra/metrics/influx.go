package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	corelogger "github.com/kilianp07/shiprelay/core/logger"
	coremetrics "github.com/kilianp07/shiprelay/core/metrics"
	"github.com/kilianp07/shiprelay/infra/logger"
)

// InfluxSink writes relay events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      corelogger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordOutcome writes a dispatch_outcome point.
func (s *InfluxSink) RecordOutcome(rec coremetrics.OutcomeRecord) error {
	p := write.NewPointWithMeasurement("dispatch_outcome").
		AddTag("request_id", string(rec.RequestID)).
		AddTag("strategy", rec.Strategy).
		AddTag("status", rec.Status.String()).
		AddField("contacted", rec.Contacted).
		AddField("duration_ms", rec.Duration.Milliseconds()).
		SetTime(rec.Time)
	if rec.Winner != "" {
		p = p.AddField("winner", string(rec.Winner))
	}
	return s.write(p)
}

// RecordResponse writes a shipment_response point.
func (s *InfluxSink) RecordResponse(rec coremetrics.ResponseRecord) error {
	p := write.NewPointWithMeasurement("shipment_response").
		AddTag("request_id", string(rec.RequestID)).
		AddTag("actor_id", string(rec.Actor)).
		AddTag("result", rec.Result).
		AddField("accepted", rec.Accepted).
		SetTime(rec.Time)
	return s.write(p)
}

// RecordSend writes a shipment_request_sent point.
func (s *InfluxSink) RecordSend(rec coremetrics.SendRecord) error {
	p := write.NewPointWithMeasurement("shipment_request_sent").
		AddTag("request_id", string(rec.RequestID)).
		AddTag("actor_id", string(rec.Actor)).
		AddTag("strategy", rec.Strategy).
		AddTag("delivered", strconv.FormatBool(rec.Err == "")).
		AddField("error", rec.Err).
		SetTime(rec.Time)
	return s.write(p)
}

// RecordRegistrySize writes the number of connected actors.
func (s *InfluxSink) RecordRegistrySize(size int) error {
	p := write.NewPointWithMeasurement("actor_registry").
		AddTag("component", "lifecycle").
		AddField("connected", size).
		SetTime(time.Now())
	return s.write(p)
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}
