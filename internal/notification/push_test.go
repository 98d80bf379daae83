package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTransitions(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testNow)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: 10 * time.Second, HalfOpenMaxRequests: 1},
		"test", clock, testLogger(), nil)

	fail := func(context.Context) error { return errRefused }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	require.ErrorIs(t, cb.Call(ctx, fail), errRefused)
	assert.Equal(t, CircuitClosed, cb.State())
	require.ErrorIs(t, cb.Call(ctx, fail), errRefused)
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, 2, cb.Failures())

	require.ErrorIs(t, cb.Call(ctx, ok), ErrCircuitOpen)

	clock.Advance(10 * time.Second)
	require.ErrorIs(t, cb.Call(ctx, fail), errRefused, "half-open trial call is let through")
	assert.Equal(t, CircuitOpen, cb.State(), "failed trial call reopens")

	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Call(ctx, ok))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreakerHalfOpenBudget(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testNow)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, HalfOpenMaxRequests: 1},
		"test", clock, testLogger(), nil)
	ctx := context.Background()

	_ = cb.Call(ctx, func(context.Context) error { return errRefused })
	clock.Advance(time.Second)

	probing := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		_ = cb.Call(ctx, func(context.Context) error {
			close(probing)
			<-release
			return nil
		})
	})
	<-probing

	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.ErrorIs(t, cb.Call(ctx, func(context.Context) error { return nil }), ErrTooManyProbes)

	close(release)
	wg.Wait()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, HalfOpenMaxRequests: 1},
		"test", newFakeClock(testNow), testLogger(), nil)

	err := cb.Call(context.Background(), func(context.Context) error { return context.Canceled })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerConfigFallback(t *testing.T) {
	t.Parallel()

	require.Error(t, CircuitBreakerConfig{}.Validate())
	require.NoError(t, DefaultCircuitBreakerConfig().Validate())

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: -1}, "test", nil, testLogger(), nil)
	assert.Equal(t, DefaultCircuitBreakerConfig(), cb.config)
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	title []string
	err   error
}

func (s *fakeSender) Send(message string, params *stypes.Params) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return []error{s.err}
	}
	s.sent = append(s.sent, message)
	s.title = append(s.title, (*params)["title"])
	return []error{nil}
}

func (s *fakeSender) Sent() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...), append([]string(nil), s.title...)
}

func TestPushNotifierDelivers(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	p := newPushNotifier(sender, PushConfig{}, newFakeClock(testNow), testLogger(), nil)
	p.Start(context.Background())
	t.Cleanup(p.Close)

	assert.True(t, p.Available())
	assert.Equal(t, PermissionGranted, p.Permission())

	crit := record("c", PriorityCritical, 0)
	crit.Project = "Atelier presses"
	require.NoError(t, p.Notify(context.Background(), crit, EffectProfileFor(PriorityCritical)))
	require.NoError(t, p.Notify(context.Background(), record("n", PriorityNormal, 0), EffectProfileFor(PriorityNormal)))

	require.Eventually(t, func() bool {
		sent, _ := sender.Sent()
		return len(sent) == 2
	}, time.Second, time.Millisecond)

	sent, titles := sender.Sent()
	assert.Equal(t, []string{"[CRITICAL] title c", "title n"}, titles)
	assert.Equal(t, "message c\nProjet: Atelier presses", sent[0])
}

func TestPushNotifierQueueFull(t *testing.T) {
	t.Parallel()

	p := newPushNotifier(&fakeSender{}, PushConfig{QueueSize: 1}, newFakeClock(testNow), testLogger(), nil)
	t.Cleanup(p.Close)

	profile := EffectProfileFor(PriorityLow)
	require.NoError(t, p.Notify(context.Background(), record("a", PriorityLow, 0), profile))
	assert.ErrorIs(t, p.Notify(context.Background(), record("b", PriorityLow, 0), profile), ErrPushQueueFull)
}

func TestPushNotifierOpensCircuit(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{err: errors.New("ntfy: 502 bad gateway")}
	breaker := CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxRequests: 1}
	p := newPushNotifier(sender, PushConfig{Breaker: breaker}, newFakeClock(testNow), testLogger(), nil)

	for _, id := range []string{"a", "b", "c"} {
		p.deliver(context.Background(), pushJob{title: id})
	}
	assert.Equal(t, CircuitOpen, p.breaker.State())
	assert.Equal(t, 2, p.breaker.Failures(), "rejected calls do not count")
}

func TestNewPushNotifierValidatesURLs(t *testing.T) {
	t.Parallel()

	_, err := NewPushNotifier(PushConfig{}, nil, testLogger(), nil)
	require.Error(t, err)

	_, err = NewPushNotifier(PushConfig{URLs: []string{"nosuchservice://token@host"}}, nil, testLogger(), nil)
	require.Error(t, err)
}
