package notification

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryIDs(entries []FloatingEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Record.ID
	}
	return out
}

func TestPresenterBoundsVisibleEntries(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testNow)
	store := NewStore(0, nil)
	p := NewPresenter(store, PresenterConfig{}, clock, testLogger(), nil)
	t.Cleanup(p.Close)

	for i := range 7 {
		rec := record(fmt.Sprintf("n%d", i), PriorityHigh, 0)
		store.Add(rec)
		require.True(t, p.Show(rec))
	}

	assert.Equal(t, 7, store.Len())
	assert.Equal(t, []string{"n6", "n5", "n4", "n3", "n2"}, entryIDs(p.Current()))
	assert.Equal(t, 5, clock.Pending(), "evicted entries stop their countdown")
}

func TestPresenterShowsEachRecordOnce(t *testing.T) {
	t.Parallel()

	p := NewPresenter(nil, PresenterConfig{}, newFakeClock(testNow), testLogger(), nil)
	t.Cleanup(p.Close)

	rec := record("a", PriorityNormal, 0)
	assert.True(t, p.Show(rec))
	assert.False(t, p.Show(rec))

	p.Dismiss("a")
	assert.False(t, p.Show(rec), "dismissed records are not shown again")

	read := record("b", PriorityNormal, 0)
	read.IsRead = true
	assert.False(t, p.Show(read))
	assert.False(t, p.Show(nil))
}

func TestPresenterExpiry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testNow)
	p := NewPresenter(nil, PresenterConfig{}, clock, testLogger(), nil)
	t.Cleanup(p.Close)

	p.Show(record("low", PriorityLow, 0))
	p.Show(record("high", PriorityHigh, 0))
	crit := record("crit", PriorityCritical, 0)
	crit.Persistent = true
	p.Show(crit)
	sticky := record("sticky", PriorityNormal, 0)
	sticky.Persistent = true
	p.Show(sticky)

	clock.Advance(3 * time.Second)
	assert.Equal(t, []string{"sticky", "crit", "high"}, entryIDs(p.Current()))

	clock.Advance(7 * time.Second)
	assert.Equal(t, []string{"sticky", "crit"}, entryIDs(p.Current()))

	clock.Advance(time.Hour)
	for _, e := range p.Current() {
		assert.True(t, e.Persistent())
	}
}

func TestPresenterDismissCancelsCountdown(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testNow)
	store := NewStore(0, nil)
	p := NewPresenter(store, PresenterConfig{}, clock, testLogger(), nil)
	t.Cleanup(p.Close)

	rec := record("a", PriorityNormal, 0)
	store.Add(rec)
	p.Show(rec)
	require.Equal(t, 1, clock.Pending())

	assert.True(t, p.Dismiss("a"))
	assert.False(t, p.Dismiss("a"))
	assert.Zero(t, clock.Pending())
	assert.Empty(t, p.Current())

	got, _ := store.Get("a")
	assert.False(t, got.IsRead, "dismiss leaves the record unread")
}

func TestPresenterClickMarksRead(t *testing.T) {
	t.Parallel()

	store := NewStore(0, nil)
	p := NewPresenter(store, PresenterConfig{}, newFakeClock(testNow), testLogger(), nil)
	t.Cleanup(p.Close)

	rec := record("a", PriorityHigh, 0)
	store.Add(rec)
	p.Show(rec)

	assert.True(t, p.Click("a"))
	assert.False(t, p.Click("a"))
	assert.Empty(t, p.Current())
	assert.Zero(t, store.UnreadCount())
}

func TestProgressAndPhase(t *testing.T) {
	t.Parallel()

	p := NewPresenter(nil, PresenterConfig{}, newFakeClock(testNow), testLogger(), nil)
	t.Cleanup(p.Close)

	e := FloatingEntry{Record: record("a", PriorityNormal, 0), Timeout: 4 * time.Second, ShownAt: testNow}

	assert.InDelta(t, 0.0, Progress(e, testNow.Add(-time.Second)), 0)
	assert.InDelta(t, 0.5, Progress(e, testNow.Add(2*time.Second)), 1e-9)
	assert.InDelta(t, 1.0, Progress(e, testNow.Add(time.Minute)), 0)
	assert.InDelta(t, 0.0, Progress(FloatingEntry{ShownAt: testNow}, testNow.Add(time.Hour)), 0)

	assert.Equal(t, PhaseEntering, p.Phase(e, testNow.Add(100*time.Millisecond)))
	assert.Equal(t, PhaseVisible, p.Phase(e, testNow.Add(DefaultEnterDuration)))

	noTransition := NewPresenter(nil, PresenterConfig{EnterDuration: -1}, newFakeClock(testNow), testLogger(), nil)
	t.Cleanup(noTransition.Close)
	assert.Equal(t, PhaseVisible, noTransition.Phase(e, testNow))
}

func TestPresenterRunFollowsStore(t *testing.T) {
	t.Parallel()

	store := NewStore(0, nil)
	p := NewPresenter(store, PresenterConfig{}, newFakeClock(testNow), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Go(func() { p.Run(ctx) })
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		p.Close()
	})

	// let Run subscribe before publishing
	require.Eventually(t, func() bool {
		store.subscribersMu.Lock()
		defer store.subscribersMu.Unlock()
		return len(store.subscribers) == 1
	}, time.Second, time.Millisecond)

	store.Add(record("a", PriorityHigh, 0))
	store.Add(record("b", PriorityHigh, 0))
	store.Add(record("c", PriorityHigh, 0))
	require.Eventually(t, func() bool { return len(p.Current()) == 3 }, time.Second, time.Millisecond)

	store.MarkRead("a")
	store.Remove("b")
	require.Eventually(t, func() bool { return len(p.Current()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "c", p.Current()[0].Record.ID)

	store.ReplaceAll(nil)
	require.Eventually(t, func() bool { return len(p.Current()) == 0 }, time.Second, time.Millisecond)
}

func TestPresenterClosedRejectsEntries(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(testNow)
	p := NewPresenter(nil, PresenterConfig{}, clock, testLogger(), nil)
	p.Show(record("a", PriorityLow, 0))
	p.Close()

	assert.Zero(t, clock.Pending())
	assert.False(t, p.Show(record("b", PriorityLow, 0)))
	assert.Empty(t, p.Current())
}
