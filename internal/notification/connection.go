package notification

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/observability/metrics"
)

// DefaultReconnectDelay is the fixed retry delay used when no policy is configured.
const DefaultReconnectDelay = 5 * time.Second

// Conn is one open channel session.
type Conn interface {
	// Read blocks until the next inbound message, the session ends or ctx is done.
	Read(ctx context.Context) ([]byte, error)
	// Write sends v encoded as JSON.
	Write(ctx context.Context, v any) error
	Close() error
}

// Transport opens channel sessions.
type Transport interface {
	Name() string
	Dial(ctx context.Context) (Conn, error)
}

// ConnState is the connection manager state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateClosed       ConnState = "closed"
)

// ReconnectPolicy computes retry delays. The zero value retries forever every
// DefaultReconnectDelay.
type ReconnectPolicy struct {
	Delay      time.Duration
	Multiplier float64       // values <= 1 keep the delay fixed
	MaxDelay   time.Duration // 0 leaves growth uncapped
	MaxRetries int           // 0 retries forever
}

// Next returns the delay before retry number attempt (0-based).
func (p ReconnectPolicy) Next(attempt int) time.Duration {
	delay := p.Delay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	if p.Multiplier > 1 && attempt > 0 {
		grown := float64(delay) * math.Pow(p.Multiplier, float64(attempt))
		if p.MaxDelay > 0 && grown >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
		// float64(MaxInt64) rounds up to 2^63, which no Duration can hold
		if grown >= float64(math.MaxInt64) {
			return time.Duration(math.MaxInt64)
		}
		delay = time.Duration(grown)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Exhausted reports whether attempts has reached the retry limit.
func (p ReconnectPolicy) Exhausted(attempts int) bool {
	return p.MaxRetries > 0 && attempts >= p.MaxRetries
}

// AuthMessage is the first message sent on every session when the user is known.
type AuthMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	UserID    string
	Role      string
	Reconnect ReconnectPolicy
}

// Manager owns the channel session: it dials, authenticates, pumps inbound
// messages to the handler and keeps at most one reconnect timer pending.
type Manager struct {
	transport Transport
	cfg       ManagerConfig
	clock     Clock
	log       logger.Logger
	metrics   *metrics.ConnectionMetrics

	mu          sync.Mutex
	state       ConnState
	conn        Conn
	dialing     bool
	timer       Timer
	failures    int // consecutive failed sessions, reset on connect
	attempts    int // reconnect attempts made
	onMessage   func([]byte)
	listeners   []func(connected bool)
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a disconnected manager over t.
func NewManager(t Transport, cfg ManagerConfig, clock Clock, log logger.Logger, m *metrics.ConnectionMetrics) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = logger.Global().Module("notification")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		transport: t,
		cfg:       cfg,
		clock:     clock,
		log:       log.Module("connection").With(logger.String("transport", t.Name())),
		metrics:   m,
		state:     StateDisconnected,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnMessage sets the inbound message handler. It runs on the read goroutine.
func (m *Manager) OnMessage(fn func([]byte)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// OnStateChange registers a listener for connected/disconnected transitions.
func (m *Manager) OnStateChange(fn func(connected bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Connect dials the transport. A failed dial schedules a reconnect and is
// returned for logging only. While a reconnect is pending Connect is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrServiceStopped
	}
	// an open session, a dial in flight or an armed retry all count as connecting
	if m.conn != nil || m.dialing || m.timer != nil {
		m.mu.Unlock()
		return nil
	}
	m.dialing = true
	m.state = StateConnecting
	m.mu.Unlock()

	conn, err := m.transport.Dial(ctx)

	m.mu.Lock()
	m.dialing = false
	if m.state == StateClosed {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrServiceStopped
	}
	if err != nil {
		m.state = StateDisconnected
		m.failures++
		m.scheduleReconnectLocked()
		m.mu.Unlock()

		m.metrics.IncrementErrors(m.transport.Name(), "dial")
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryTransport).
			Context("operation", "dial").
			Context("transport", m.transport.Name()).
			Build()
	}

	m.conn = conn
	m.state = StateConnected
	m.failures = 0
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.connectedAt = m.clock.Now()
	listeners := slices.Clone(m.listeners)
	m.wg.Add(1)
	m.mu.Unlock()

	m.log.Info("channel connected")
	m.metrics.UpdateConnectionStatus(m.transport.Name(), true, m.clock.Now())
	for _, l := range listeners {
		l(true)
	}

	if m.cfg.UserID != "" {
		auth := AuthMessage{Type: "AUTH", UserID: m.cfg.UserID, Role: m.cfg.Role}
		if err := conn.Write(ctx, auth); err != nil {
			m.log.Warn("failed to send auth message", logger.Error(err))
			m.metrics.IncrementErrors(m.transport.Name(), "auth")
		} else {
			m.metrics.RecordSent(m.transport.Name())
		}
	}

	go m.readLoop(conn)
	return nil
}

func (m *Manager) readLoop(conn Conn) {
	defer m.wg.Done()

	for {
		data, err := conn.Read(m.ctx)
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}
		m.metrics.RecordReceived(m.transport.Name(), len(data))

		m.mu.Lock()
		handler := m.onMessage
		m.mu.Unlock()
		if handler != nil {
			handler(data)
		}
	}
}

func (m *Manager) handleDisconnect(conn Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	_ = conn.Close()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.failures++
	m.scheduleReconnectLocked()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	m.log.Warn("channel disconnected", logger.Error(cause))
	m.metrics.UpdateConnectionStatus(m.transport.Name(), false, m.clock.Now())
	for _, l := range listeners {
		l(false)
	}
}

// scheduleReconnectLocked arms the single reconnect timer.
func (m *Manager) scheduleReconnectLocked() {
	if m.timer != nil || m.state == StateClosed {
		return
	}
	policy := m.cfg.Reconnect
	if policy.Exhausted(m.failures - 1) {
		m.log.Error("giving up reconnecting", logger.Int("failures", m.failures))
		return
	}
	delay := policy.Next(m.failures - 1)
	m.log.Debug("reconnect scheduled", logger.Duration("delay", delay))
	m.timer = m.clock.AfterFunc(delay, m.reconnect)
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	m.timer = nil
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.attempts++
	m.mu.Unlock()

	m.metrics.IncrementReconnectAttempts(m.transport.Name())
	if err := m.Connect(m.ctx); err != nil {
		m.log.Debug("reconnect attempt failed", logger.Error(err))
	}
}

// Send writes v on the open session.
func (m *Manager) Send(ctx context.Context, v any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, v); err != nil {
		m.metrics.IncrementErrors(m.transport.Name(), "write")
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryTransport).
			Context("operation", "write").
			Build()
	}
	m.metrics.RecordSent(m.transport.Name())
	return nil
}

// State returns the current state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether a session is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// ReconnectAttempts returns how many reconnect timers have fired.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// ReconnectPending reports whether a reconnect timer is armed.
func (m *Manager) ReconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// ConnectedSince returns when the current session opened; zero when disconnected.
func (m *Manager) ConnectedSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return time.Time{}
	}
	return m.connectedAt
}

// TransportName returns the transport name.
func (m *Manager) TransportName() string {
	return m.transport.Name()
}

// Close cancels the reconnect timer, ends the session and waits for the read
// loop. No reconnect happens after Close.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosed
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
		m.metrics.UpdateConnectionStatus(m.transport.Name(), false, m.clock.Now())
	}
	m.wg.Wait()
	return err
}
