package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/shiprelay/core/logger"
	"github.com/kilianp07/shiprelay/core/model"
	coremon "github.com/kilianp07/shiprelay/core/monitoring"
	"github.com/kilianp07/shiprelay/core/transport"
)

var errPublishTimeout = errors.New("publish not acknowledged by broker")

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// PahoTransport binds the relay to actors connected to an MQTT broker. Every
// actor session is identified by its own MQTT client id, used as ConnID.
type PahoTransport struct {
	cli     pahoClient
	cfg     Config
	handler transport.InboundHandler
	logger  logger.Logger
	inbound *serializer

	mu     sync.Mutex
	closed bool
}

var _ transport.Sender = (*PahoTransport)(nil)

// NewPahoTransport connects to the broker, subscribes to the actor topics and
// hands every decoded message to handler. Messages of one connection are
// handled in arrival order.
func NewPahoTransport(cfg Config, handler transport.InboundHandler, log logger.Logger) (*PahoTransport, error) {
	if handler == nil {
		return nil, fmt.Errorf("mqtt: nil inbound handler")
	}
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log = logger.OrNop(log)
	pt := &PahoTransport{cfg: cfg, handler: handler, logger: log, inbound: newSerializer()}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected, subscribing to %s", UpFilter(cfg.TopicPrefix))
		if token := c.Subscribe(UpFilter(cfg.TopicPrefix), cfg.qos("up"), pt.onMessage); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
			coremon.CaptureException(token.Error(), map[string]string{"module": "mqtt", "op": "subscribe"})
		}
		c.Publish(StatusTopic(cfg.TopicPrefix), 1, true, StatusOnline)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	pt.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return pt, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetCleanSession(true)
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS || cfg.AuthMethod == "tls" || cfg.AuthMethod == "both" {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

func (p *PahoTransport) onMessage(_ paho.Client, msg paho.Message) {
	conn, ok := ConnFromTopic(p.cfg.TopicPrefix, msg.Topic())
	if !ok {
		p.logger.Warnf("ignoring message on unexpected topic %s", msg.Topic())
		return
	}
	decoded, err := model.Decode(msg.Payload())
	if err != nil {
		p.logger.Warnf("dropping undecodable message from %s: %v", conn, err)
		return
	}
	// Close waits on the serializer once closed is set, so no task may be
	// submitted after that point.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.inbound.submit(conn, func() {
		defer coremon.Recover()
		if err := p.handler.Handle(context.Background(), conn, decoded); err != nil {
			p.logger.Warnf("%s from %s: %v", decoded.Kind(), conn, err)
		}
	})
}

// Send publishes msg on the downstream topic of conn, retrying with
// exponential backoff. Failures are reported to the monitor.
func (p *PahoTransport) Send(ctx context.Context, conn model.ConnID, msg model.Message) error {
	payload, err := model.Encode(msg)
	if err != nil {
		return err
	}
	topic := DownTopic(p.cfg.TopicPrefix, conn)
	qos := p.cfg.qos("down")
	timeout := time.Duration(p.cfg.PublishTimeoutMS) * time.Millisecond

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(p.cfg.BackoffMS) * time.Millisecond
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.cfg.MaxRetries)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		if p.isClosed() {
			return backoff.Permanent(transport.ErrNotConnected)
		}
		token := p.cli.Publish(topic, qos, false, payload)
		if !token.WaitTimeout(timeout) {
			return errPublishTimeout
		}
		return token.Error()
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warnf("publish attempt %d to %s failed: %v, retrying in %s", attempt, topic, err, wait)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		err = fmt.Errorf("publish %s to %s: %w", msg.Kind(), conn, err)
		p.logger.Errorf("%v", err)
		coremon.CaptureException(err, map[string]string{
			"module": "mqtt",
			"conn":   string(conn),
			"kind":   string(msg.Kind()),
		})
		return err
	}
	p.logger.Debugf("sent %s to %s", msg.Kind(), topic)
	return nil
}

func (p *PahoTransport) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops accepting messages, waits for in-flight handlers and
// disconnects from the broker after announcing the relay offline.
func (p *PahoTransport) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.inbound.wait()
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Publish(StatusTopic(p.cfg.TopicPrefix), 1, true, StatusOffline).WaitTimeout(time.Second)
		p.cli.Disconnect(250)
	}
}
