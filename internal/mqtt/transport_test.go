package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	enhancederrors "github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/notification"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeBroker stands in for a paho client and the broker behind it.
type fakeBroker struct {
	mu           sync.Mutex
	opts         *paho.ClientOptions
	connected    bool
	connectErr   error
	subscribeErr error
	subscribed   map[string]paho.MessageHandler
	published    []published
	disconnects  int
	pendingPub   bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subscribed: make(map[string]paho.MessageHandler)}
}

func (b *fakeBroker) factory(opts *paho.ClientOptions) paho.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts = opts
	return b
}

func (b *fakeBroker) IsConnected() bool { return b.IsConnectionOpen() }

func (b *fakeBroker) IsConnectionOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Connect() paho.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return doneToken(b.connectErr)
	}
	b.connected = true
	return doneToken(nil)
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.disconnects++
}

func (b *fakeBroker) Publish(topic string, qos byte, _ bool, payload any) paho.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pendingPub {
		return &fakeToken{done: make(chan struct{})}
	}
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	b.published = append(b.published, published{topic: topic, qos: qos, payload: data})
	return doneToken(nil)
}

func (b *fakeBroker) Subscribe(topic string, _ byte, callback paho.MessageHandler) paho.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return doneToken(b.subscribeErr)
	}
	b.subscribed[topic] = callback
	return doneToken(nil)
}

func (b *fakeBroker) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return doneToken(nil)
}

func (b *fakeBroker) Unsubscribe(...string) paho.Token { return doneToken(nil) }

func (b *fakeBroker) AddRoute(string, paho.MessageHandler) {}

func (b *fakeBroker) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

// Deliver pushes payload to the subscriber of topic.
func (b *fakeBroker) Deliver(topic, payload string) {
	b.mu.Lock()
	handler := b.subscribed[topic]
	b.mu.Unlock()
	handler(b, fakeMessage{topic: topic, payload: []byte(payload)})
}

// Drop simulates a lost connection.
func (b *fakeBroker) Drop(err error) {
	b.mu.Lock()
	b.connected = false
	lost := b.opts.OnConnectionLost
	b.mu.Unlock()
	lost(b, err)
}

func (b *fakeBroker) Published() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelDebug, time.UTC)
}

func newTestTransport(t *testing.T, broker *fakeBroker, cfg Config) *Transport {
	t.Helper()
	tr, err := NewTransport(cfg, "42", testLogger())
	require.NoError(t, err)
	tr.newClient = broker.factory
	tr.lookupHost = func(context.Context, string) error { return nil }
	return tr
}

func baseConfig() Config {
	cfg := DefaultConfig()
	cfg.Broker = "tcp://broker.local:1883"
	cfg.TopicPrefix = "plant/a/"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"websocket broker", func(c *Config) { c.Broker = "wss://broker:443/mqtt" }, false},
		{"no host", func(c *Config) { c.Broker = "tcp://" }, true},
		{"http scheme", func(c *Config) { c.Broker = "http://broker" }, true},
		{"empty prefix", func(c *Config) { c.TopicPrefix = "/" }, true},
		{"wildcard prefix", func(c *Config) { c.TopicPrefix = "plant/#" }, true},
		{"bad qos", func(c *Config) { c.QoS = 3 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTopics(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plant/a/users/42", InboundTopic("plant/a/", "42"))
	assert.Equal(t, "plant/a/broadcast", InboundTopic("plant/a", ""))
	assert.Equal(t, "plant/a/outbound", OutboundTopic("/plant/a"))
	assert.Equal(t, "plant/a/probe", ProbeTopic("plant/a"))
}

func TestDialSubscribesAndDelivers(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	tr := newTestTransport(t, broker, baseConfig())
	assert.Equal(t, "mqtt", tr.Name())

	conn, err := tr.Dial(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	assert.False(t, broker.opts.AutoReconnect, "the connection manager owns reconnects")
	assert.Contains(t, broker.opts.ClientID, "notifier-")
	require.Contains(t, broker.subscribed, "plant/a/users/42")

	broker.Deliver("plant/a/users/42", `{"id":"m1"}`)
	data, err := conn.Read(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"m1"}`, string(data))

	require.NoError(t, conn.Write(context.Background(), notification.AuthMessage{Type: "AUTH", UserID: "42"}))
	pubs := broker.Published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "plant/a/outbound", pubs[0].topic)
	assert.Equal(t, byte(1), pubs[0].qos)

	var auth map[string]any
	require.NoError(t, json.Unmarshal(pubs[0].payload, &auth))
	assert.Equal(t, "AUTH", auth["type"])
}

func TestDialFailures(t *testing.T) {
	t.Parallel()

	t.Run("dns", func(t *testing.T) {
		t.Parallel()
		broker := newFakeBroker()
		tr := newTestTransport(t, broker, baseConfig())
		tr.lookupHost = func(context.Context, string) error { return &net.DNSError{Err: "no such host", Name: "broker.local"} }

		_, err := tr.Dial(context.Background())
		require.Error(t, err)
		assert.True(t, enhancederrors.IsCategory(err, enhancederrors.CategoryTransport))
		assert.Nil(t, broker.opts, "no client is created for an unresolvable broker")
	})

	t.Run("connect", func(t *testing.T) {
		t.Parallel()
		broker := newFakeBroker()
		broker.connectErr = errors.New("not authorized")
		tr := newTestTransport(t, broker, baseConfig())

		_, err := tr.Dial(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not authorized")
	})

	t.Run("subscribe", func(t *testing.T) {
		t.Parallel()
		broker := newFakeBroker()
		broker.subscribeErr = errors.New("acl denied")
		tr := newTestTransport(t, broker, baseConfig())

		_, err := tr.Dial(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, broker.disconnects)
	})

	t.Run("ip broker skips dns", func(t *testing.T) {
		t.Parallel()
		broker := newFakeBroker()
		cfg := baseConfig()
		cfg.Broker = "tcp://127.0.0.1:1883"
		tr := newTestTransport(t, broker, cfg)
		tr.lookupHost = func(context.Context, string) error { return errors.New("must not resolve") }

		conn, err := tr.Dial(context.Background())
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	})
}

func TestSessionConnectionLost(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	tr := newTestTransport(t, broker, baseConfig())
	conn, err := tr.Dial(context.Background())
	require.NoError(t, err)

	lostErr := errors.New("pingresp not received")
	broker.Drop(lostErr)

	_, err = conn.Read(context.Background())
	require.ErrorIs(t, err, lostErr)
	require.ErrorIs(t, conn.Write(context.Background(), "x"), lostErr)
	require.NoError(t, conn.Close())
}

func TestSessionCloseUnblocksRead(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	tr := newTestTransport(t, broker, baseConfig())
	conn, err := tr.Dial(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Read(context.Background())
		done <- err
	}()

	require.NoError(t, conn.Close())
	require.ErrorIs(t, <-done, ErrSessionClosed)
	assert.Equal(t, 1, broker.disconnects)
	require.NoError(t, conn.Close())
	assert.Equal(t, 1, broker.disconnects, "second close does not disconnect again")
}

func TestSessionWriteTimeout(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	cfg := baseConfig()
	cfg.PublishTimeout = 10 * time.Millisecond
	tr := newTestTransport(t, broker, cfg)
	conn, err := tr.Dial(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	broker.mu.Lock()
	broker.pendingPub = true
	broker.mu.Unlock()

	require.ErrorIs(t, conn.Write(context.Background(), "x"), context.DeadlineExceeded)
}

func TestManagerOverMQTT(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	tr := newTestTransport(t, broker, baseConfig())
	m := notification.NewManager(tr, notification.ManagerConfig{UserID: "42"}, nil, testLogger(), nil)
	t.Cleanup(func() { _ = m.Close() })

	received := make(chan string, 1)
	m.OnMessage(func(data []byte) { received <- string(data) })
	require.NoError(t, m.Connect(context.Background()))

	broker.Deliver("plant/a/users/42", `{"id":"m2"}`)
	select {
	case msg := <-received:
		assert.JSONEq(t, `{"id":"m2"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	assert.Len(t, broker.Published(), 1, "auth published")
}
