package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	coremetrics "github.com/kilianp07/shiprelay/core/metrics"
	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/infra/mqtt"
)

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Stats counts what an actor did.
type Stats struct {
	Requests int
	Accepted int
	Rejected int
	Silent   int
	Bids     int
	Refused  int
}

// SimulatedActor is a driver or company connected to the relay over MQTT.
type SimulatedActor struct {
	ID          model.ActorID
	Kind        model.ActorKind
	Token       string
	Broker      string
	TopicPrefix string
	Strategy    ResponseStrategy
	Metrics     coremetrics.MetricsSink

	pub   publisher
	conn  model.ConnID
	reqCh chan model.ShipmentRequest

	mu    sync.Mutex
	stats Stats
}

// NewSimulatedActor creates a new actor.
func NewSimulatedActor(id model.ActorID, kind model.ActorKind, token string, strat ResponseStrategy) *SimulatedActor {
	return &SimulatedActor{
		ID:       id,
		Kind:     kind,
		Token:    token,
		Strategy: strat,
		conn:     model.ConnID("sim-" + string(id)),
		reqCh:    make(chan model.ShipmentRequest, 50),
	}
}

// Conn returns the MQTT client id the actor connects with.
func (a *SimulatedActor) Conn() model.ConnID { return a.conn }

// Stats returns a copy of the counters.
func (a *SimulatedActor) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Run connects to the broker, opens a relay session and answers requests
// until ctx is done.
func (a *SimulatedActor) Run(ctx context.Context) error {
	cli, err := newMQTTClient(a.Broker, a.TopicPrefix, a.conn)
	if err != nil {
		return err
	}
	a.pub = cli
	for i := 0; i < 5; i++ {
		go a.worker(ctx)
	}
	down := mqtt.DownTopic(a.TopicPrefix, a.conn)
	if token := cli.Subscribe(down, 1, a.onMessage); token.Wait() && token.Error() != nil {
		cli.Disconnect(250)
		return token.Error()
	}
	if err := a.publish(model.Connect{Token: a.Token}); err != nil {
		cli.Disconnect(250)
		return fmt.Errorf("open session: %w", err)
	}
	<-ctx.Done()
	_ = a.publish(model.Disconnect{})
	cli.Disconnect(250)
	return nil
}

func (a *SimulatedActor) onMessage(_ paho.Client, msg paho.Message) {
	m, err := model.Decode(msg.Payload())
	if err != nil {
		log.Printf("%s: decode: %v", a.ID, err)
		return
	}
	a.handle(m)
}

func (a *SimulatedActor) handle(m model.Message) {
	switch v := m.(type) {
	case model.ShipmentRequest:
		a.count(func(s *Stats) { s.Requests++ })
		select {
		case a.reqCh <- v:
		default:
			log.Printf("%s: request queue full, dropping %s", a.ID, v.RequestID)
		}
	case model.BidPlaced:
		a.count(func(s *Stats) { s.Bids++ })
		log.Printf("%s: bid received: %s", a.ID, v.Payload)
	case model.ConnectRefused:
		a.count(func(s *Stats) { s.Refused++ })
		log.Printf("%s: session refused: %s", a.ID, v.Reason)
	}
}

func (a *SimulatedActor) worker(ctx context.Context) {
	for {
		select {
		case req := <-a.reqCh:
			a.answer(ctx, req)
		case <-ctx.Done():
			return
		}
	}
}

func (a *SimulatedActor) answer(ctx context.Context, req model.ShipmentRequest) {
	accept, ok := a.Strategy.Decide(ctx, a.ID, req)
	if !ok {
		a.count(func(s *Stats) { s.Silent++ })
		a.record(req.RequestID, false, "silent")
		return
	}
	if err := a.publish(model.ShipmentResponse{RequestID: req.RequestID, Accepted: accept}); err != nil {
		log.Printf("%s: respond to %s: %v", a.ID, req.RequestID, err)
		return
	}
	a.record(req.RequestID, accept, "sent")
	a.count(func(s *Stats) {
		if accept {
			s.Accepted++
		} else {
			s.Rejected++
		}
	})
}

func (a *SimulatedActor) publish(m model.Message) error {
	payload, err := model.Encode(m)
	if err != nil {
		return err
	}
	token := a.pub.Publish(mqtt.UpTopic(a.TopicPrefix, a.conn), 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", m.Kind())
	}
	return token.Error()
}

func (a *SimulatedActor) count(f func(*Stats)) {
	a.mu.Lock()
	f(&a.stats)
	a.mu.Unlock()
}

func (a *SimulatedActor) record(id model.RequestID, accepted bool, result string) {
	rr, ok := a.Metrics.(coremetrics.ResponseRecorder)
	if !ok {
		return
	}
	if err := rr.RecordResponse(coremetrics.ResponseRecord{
		RequestID: id,
		Actor:     a.ID,
		Accepted:  accepted,
		Result:    result,
		Time:      time.Now(),
	}); err != nil {
		log.Printf("%s: record response: %v", a.ID, err)
	}
}
