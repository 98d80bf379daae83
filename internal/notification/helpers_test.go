package notification

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/mainthub/notifier/internal/logger"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelTrace, time.UTC)
}

// fakeClock is a manually advanced Clock. Timer callbacks run on the
// goroutine calling Advance, outside the clock's lock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	fn    func()
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.Index(c.timers, t)
	if i < 0 {
		return false
	}
	c.timers = slices.Delete(c.timers, i, i+1)
	return true
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if !t.at.After(target) && (next == nil || t.at.Before(next.at)) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.timers = slices.DeleteFunc(c.timers, func(t *fakeTimer) bool { return t == next })
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.fn()
		c.mu.Lock()
	}
}

// Pending returns the number of armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

var errRefused = errors.New("connection refused")

// fakeTransport hands out fakeConns; failDials makes the next dials fail.
type fakeTransport struct {
	mu        sync.Mutex
	dials     int
	failDials int
	conns     []*fakeConn
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Dial(context.Context) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.failDials > 0 {
		t.failDials--
		return nil, errRefused
	}
	c := newFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) FailNext(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failDials = n
}

func (t *fakeTransport) Last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []any
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, v any) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Push simulates a server message.
func (c *fakeConn) Push(data string) { c.in <- []byte(data) }

func (c *fakeConn) Written() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.written)
}

type fakeSound struct {
	mu     sync.Mutex
	played []Priority
	err    error
}

func (s *fakeSound) Available() bool { return true }

func (s *fakeSound) Play(_ context.Context, p Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.played = append(s.played, p)
	return nil
}

func (s *fakeSound) Played() []Priority {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.played)
}

type fakeVibrator struct {
	mu       sync.Mutex
	patterns [][]time.Duration
}

func (v *fakeVibrator) Available() bool { return true }

func (v *fakeVibrator) Vibrate(_ context.Context, pattern []time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.patterns = append(v.patterns, pattern)
	return nil
}

type fakeDesktop struct {
	mu       sync.Mutex
	state    Permission
	answer   Permission
	requests int
	shown    []string
}

func (d *fakeDesktop) Available() bool { return true }

func (d *fakeDesktop) Permission() Permission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDesktop) RequestPermission(context.Context) (Permission, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests++
	d.state = d.answer
	return d.answer, nil
}

func (d *fakeDesktop) Notify(_ context.Context, rec *Record, _ EffectProfile) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, rec.ID)
	return nil
}

func (d *fakeDesktop) Shown() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.shown)
}

// mustNormalize builds a record from raw with a fixed clock.
func mustNormalize(t *testing.T, raw Raw) *Record {
	t.Helper()
	n := NewNormalizer(NormalizeOptions{Clock: newFakeClock(testNow)})
	rec, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return rec
}

var testNow = time.Date(2026, 3, 12, 14, 30, 0, 0, time.Local)

func record(id string, priority Priority, age time.Duration) *Record {
	return &Record{
		ID:        id,
		Title:     "title " + id,
		Message:   "message " + id,
		Type:      TypeGeneral,
		Priority:  priority,
		Timestamp: testNow.Add(-age),
		Source:    SourceSocket,
	}
}
