package mqtt

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/notification"
)

// ErrSessionClosed is returned by reads after the session was closed locally.
var ErrSessionClosed = errors.NewStd("mqtt session closed")

// Transport implements notification.Transport over MQTT. Every Dial opens a
// fresh paho client; paho's own auto-reconnect is off so the connection
// manager owns the retry policy.
type Transport struct {
	cfg    Config
	userID string
	log    logger.Logger

	// test seams
	newClient  func(*paho.ClientOptions) paho.Client
	lookupHost func(ctx context.Context, host string) error
}

// NewTransport validates cfg and returns a transport for userID.
func NewTransport(cfg Config, userID string, log logger.Logger) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Global().Module("mqtt")
	}
	return &Transport{
		cfg:       cfg.withDefaults(),
		userID:    userID,
		log:       log,
		newClient: paho.NewClient,
		lookupHost: func(ctx context.Context, host string) error {
			_, err := net.DefaultResolver.LookupHost(ctx, host)
			return err
		},
	}, nil
}

// Name implements notification.Transport.
func (t *Transport) Name() string { return TransportName }

// Dial implements notification.Transport: it resolves the broker, connects
// and subscribes to the user's inbound topic.
func (t *Transport) Dial(ctx context.Context) (notification.Conn, error) {
	u, err := url.Parse(t.cfg.Broker)
	if err != nil {
		return nil, t.transportError(err, "parse_broker")
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if err := t.lookupHost(ctx, host); err != nil {
			return nil, t.transportError(err, "resolve_broker")
		}
	}

	s := &session{
		cfg:      t.cfg,
		inbound:  make(chan []byte, t.cfg.InboundBuffer),
		lost:     make(chan struct{}),
		outbound: OutboundTopic(t.cfg.TopicPrefix),
		log:      t.log,
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "notifier-" + uuid.NewString()[:8]
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(t.cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(t.cfg.Username)
	opts.SetPassword(t.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(t.cfg.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		t.log.Warn("connection to mqtt broker lost",
			logger.String("broker", logger.RedactURL(t.cfg.Broker)),
			logger.Error(err))
		s.markLost(err)
	})

	client := t.newClient(opts)
	s.client = client

	if err := waitToken(ctx, client.Connect(), t.cfg.ConnectTimeout); err != nil {
		return nil, t.transportError(err, "connect")
	}

	topic := InboundTopic(t.cfg.TopicPrefix, t.userID)
	if err := waitToken(ctx, client.Subscribe(topic, t.cfg.QoS, s.onMessage), t.cfg.ConnectTimeout); err != nil {
		client.Disconnect(uint(t.cfg.DisconnectTimeout.Milliseconds()))
		return nil, t.transportError(err, "subscribe")
	}

	t.log.Info("subscribed to mqtt notifications",
		logger.String("broker", logger.RedactURL(t.cfg.Broker)),
		logger.String("topic", topic))
	return s, nil
}

func (t *Transport) transportError(err error, op string) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryTransport).
		Context("operation", op).
		Context("broker", logger.RedactURL(t.cfg.Broker)).
		Build()
}

// waitToken waits for a paho token, the context or the timeout, whichever is first.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return context.DeadlineExceeded
	}
}

// session is one connected paho client.
type session struct {
	cfg      Config
	client   paho.Client
	inbound  chan []byte
	outbound string
	log      logger.Logger

	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error
}

func (s *session) onMessage(_ paho.Client, msg paho.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	select {
	case s.inbound <- payload:
	case <-s.lost:
	}
}

func (s *session) markLost(err error) {
	s.lostOnce.Do(func() {
		s.lostErr = err
		close(s.lost)
	})
}

// Read implements notification.Conn.
func (s *session) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.inbound:
		return data, nil
	case <-s.lost:
		return nil, s.lostErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements notification.Conn by publishing v as JSON to the outbound topic.
func (s *session) Write(ctx context.Context, v any) error {
	select {
	case <-s.lost:
		return s.lostErr
	default:
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryPayload).
			Context("operation", "encode").
			Build()
	}
	return waitToken(ctx, s.client.Publish(s.outbound, s.cfg.QoS, false, payload), s.cfg.PublishTimeout)
}

// Close implements notification.Conn.
func (s *session) Close() error {
	s.markLost(ErrSessionClosed)
	if s.client.IsConnectionOpen() {
		s.client.Disconnect(uint(s.cfg.DisconnectTimeout.Milliseconds()))
	}
	return nil
}
