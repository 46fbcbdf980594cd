package metrics

import (
	"context"

	"github.com/kilianp07/shiprelay/core/events"
	coremetrics "github.com/kilianp07/shiprelay/core/metrics"
	"github.com/kilianp07/shiprelay/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and forwards send and
// presence events to the sink when it supports them. Outcomes and responses
// are recorded by the coordinator directly. It stops when the context is
// canceled or the bus is closed.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				switch e := ev.(type) {
				case events.SendEvent:
					if r, ok := sink.(coremetrics.SendRecorder); ok {
						rec := coremetrics.SendRecord{
							RequestID: e.RequestID,
							Actor:     e.Actor,
							Strategy:  e.Strategy,
							Time:      e.Time,
						}
						if e.Err != nil {
							rec.Err = e.Err.Error()
						}
						_ = r.RecordSend(rec)
					}
				case events.PresenceEvent:
					if r, ok := sink.(coremetrics.RegistrySizeRecorder); ok {
						_ = r.RecordRegistrySize(e.Bound)
					}
				}
			}
		}
	}()
}
