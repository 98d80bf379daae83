package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enhancederrors "github.com/mainthub/notifier/internal/errors"
)

type fetcherFunc func(ctx context.Context, userID string) ([]*Record, error)

func (f fetcherFunc) Fetch(ctx context.Context, userID string) ([]*Record, error) {
	return f(ctx, userID)
}

func staticFetcher(recs ...*Record) Fetcher {
	return fetcherFunc(func(context.Context, string) ([]*Record, error) {
		return recs, nil
	})
}

type serviceFixture struct {
	svc       *Service
	clock     *fakeClock
	transport *fakeTransport
	sound     *fakeSound
}

func newServiceFixture(t *testing.T, cfg Config, deps Deps) *serviceFixture {
	t.Helper()

	f := &serviceFixture{clock: newFakeClock(testNow), sound: &fakeSound{}}
	if deps.Clock == nil {
		deps.Clock = f.clock
	} else {
		f.clock = deps.Clock.(*fakeClock)
	}
	if tr, ok := deps.Transport.(*fakeTransport); ok {
		f.transport = tr
	}
	if deps.Capabilities.Sound == nil {
		deps.Capabilities.Sound = f.sound
	}
	deps.Logger = testLogger()

	f.svc = NewService(cfg, deps)
	t.Cleanup(f.svc.Stop)
	return f
}

func TestServiceFallsBackToDemoData(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, Config{}, Deps{})
	require.NoError(t, f.svc.Start(context.Background()))

	vm := f.svc.View(testNow)
	assert.Len(t, vm.Notifications, 20)
	assert.False(t, vm.UsingRealData)
	assert.False(t, vm.IsConnected)
	assert.Empty(t, vm.Transport)
	assert.Equal(t, 12, vm.UnreadCount)
	assert.Equal(t, 2, vm.CriticalCount)
	assert.Empty(t, f.svc.Floating(), "a full load raises no toasts")
	assert.Empty(t, f.sound.Played(), "a full load fires no effects")
}

func TestServiceLoadsBackendData(t *testing.T) {
	t.Parallel()

	var gotUser string
	fetcher := fetcherFunc(func(_ context.Context, userID string) ([]*Record, error) {
		gotUser = userID
		return []*Record{record("a", PriorityHigh, time.Hour), record("b", PriorityLow, 2*time.Hour)}, nil
	})
	f := newServiceFixture(t, Config{UserID: "42"}, Deps{Fetcher: fetcher})
	require.NoError(t, f.svc.Start(context.Background()))

	assert.Equal(t, "42", gotUser)
	assert.True(t, f.svc.UsingRealData())
	assert.Equal(t, []string{"a", "b"}, ids(f.svc.View(testNow).Notifications))
}

func TestServiceReloadRetryAfterFailure(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	fail := true
	fetcher := fetcherFunc(func(context.Context, string) ([]*Record, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errRefused
		}
		return []*Record{record("real", PriorityNormal, 0)}, nil
	})
	f := newServiceFixture(t, Config{UserID: "42"}, Deps{Fetcher: fetcher})

	require.ErrorIs(t, f.svc.Reload(context.Background()), errRefused)
	assert.False(t, f.svc.UsingRealData())
	assert.Equal(t, 20, f.svc.Store().Len())

	mu.Lock()
	fail = false
	mu.Unlock()

	require.NoError(t, f.svc.Reload(context.Background()))
	assert.True(t, f.svc.UsingRealData())
	assert.Equal(t, []string{"real"}, ids(f.svc.Store().All()))
}

func TestServiceRefreshFailureKeepsLiveData(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	fail := false
	fetcher := fetcherFunc(func(ctx context.Context, _ string) ([]*Record, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errRefused
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []*Record{record("live", PriorityHigh, 0)}, nil
	})
	f := newServiceFixture(t, Config{UserID: "42"}, Deps{Fetcher: fetcher})
	require.NoError(t, f.svc.Reload(context.Background()))

	mu.Lock()
	fail = true
	mu.Unlock()
	require.ErrorIs(t, f.svc.Reload(context.Background()), errRefused)
	assert.True(t, f.svc.UsingRealData())
	assert.Equal(t, []string{"live"}, ids(f.svc.Store().All()))

	mu.Lock()
	fail = false
	mu.Unlock()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, f.svc.Reload(cancelled), context.Canceled)
	assert.True(t, f.svc.UsingRealData())
	assert.Equal(t, []string{"live"}, ids(f.svc.Store().All()))
}

func TestServiceReceivesPushes(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, Config{UserID: "42", Preferences: Preferences{Sound: true}},
		Deps{Transport: &fakeTransport{}, Fetcher: staticFetcher()})
	require.NoError(t, f.svc.Start(context.Background()))
	require.True(t, f.svc.IsConnected())

	conn := f.transport.Last()
	assert.Equal(t, []any{AuthMessage{Type: "AUTH", UserID: "42"}}, conn.Written())

	conn.Push(`{"type":"AUTH_OK"}`)
	conn.Push(`not json`)
	conn.Push(`{"type":"NOTIFICATION","notification":{"id":"p1","titre":"Stock critique","priorite":"CRITICAL"}}`)
	conn.Push(`{"id":"p2","title":"Commande","priority":"LOW"}`)

	require.Eventually(t, func() bool { return f.svc.Store().Len() == 2 }, time.Second, time.Millisecond)

	rec, err := f.svc.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, SourceSocket, rec.Source)
	assert.True(t, rec.Persistent)
	assert.Equal(t, []Priority{PriorityCritical}, f.sound.Played(), "low priority is silent")

	require.Eventually(t, func() bool { return len(f.svc.Floating()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "fake", f.svc.View(testNow).Transport)
}

func TestServiceQuietHoursSuppressesPushes(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Date(2026, 3, 12, 23, 0, 0, 0, time.Local))
	prefs := Preferences{Sound: true, QuietMode: true, WorkingHours: WorkingHours{"08:00", "18:00"}}
	f := newServiceFixture(t, Config{Preferences: prefs}, Deps{Clock: clock, Fetcher: staticFetcher()})
	require.NoError(t, f.svc.Start(context.Background()))

	normal := f.svc.Deliver(context.Background(), record("n", PriorityNormal, 0))
	critical := f.svc.Deliver(context.Background(), record("c", PriorityCritical, 0))

	assert.False(t, normal.Admitted)
	assert.True(t, critical.Admitted)
	_, err := f.svc.Get("n")
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.Equal(t, []Priority{PriorityCritical}, f.sound.Played())

	f.svc.SetPreferences(Preferences{})
	assert.True(t, f.svc.Deliver(context.Background(), record("n2", PriorityNormal, 0)).Admitted)
}

func TestServiceRoleFromConfig(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, Config{Role: "MAGASINIER"}, Deps{Fetcher: staticFetcher()})
	rec := record("r", PriorityHigh, 0)
	rec.Metadata = map[string]any{MetadataKeyTargetRole: "TECHNICIEN"}

	decision := f.svc.Deliver(context.Background(), rec)
	assert.False(t, decision.Admitted)
	assert.Equal(t, ReasonRoleMismatch, decision.Reason)
}

func TestServiceSendOffline(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, Config{}, Deps{Fetcher: staticFetcher()})
	require.NoError(t, f.svc.Start(context.Background()))

	rec, err := f.svc.SendNotification(context.Background(), TypeStockLow, "Stock faible", "Vis M6",
		SendOptions{Priority: PriorityHigh, Project: "Magasin", Actions: []string{"view_stock"}})
	require.NoError(t, err)

	assert.Equal(t, SourceLocal, rec.Source)
	assert.Equal(t, testNow, rec.Timestamp)
	stored, err := f.svc.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Magasin", stored.Project)
	assert.Equal(t, []string{"view_stock"}, actionIDs(stored.Actions()))
}

func TestServiceSendOverChannel(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, Config{UserID: "7"}, Deps{Transport: &fakeTransport{}, Fetcher: staticFetcher()})
	require.NoError(t, f.svc.Start(context.Background()))

	rec, err := f.svc.SendNotification(context.Background(), TypeOrderReceived, "Commande", "", SendOptions{})
	require.NoError(t, err)

	written := f.transport.Last().Written()
	require.Len(t, written, 2)
	msg, ok := written[1].(OutboundMessage)
	require.True(t, ok)
	assert.Equal(t, "NOTIFICATION", msg.Type)
	assert.Equal(t, "7", msg.UserID)
	assert.Equal(t, rec.ID, msg.Notification.ID)

	assert.Zero(t, f.svc.Store().Len(), "the server echoes channel sends back")
}

func TestServiceSendRateLimited(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, Config{SendRate: 0.001, SendBurst: 2}, Deps{Fetcher: staticFetcher()})

	for range 2 {
		_, err := f.svc.SendNotification(context.Background(), TypeGeneral, "t", "m", SendOptions{})
		require.NoError(t, err)
	}
	_, err := f.svc.SendNotification(context.Background(), TypeGeneral, "t", "m", SendOptions{})
	require.Error(t, err)
	assert.True(t, enhancederrors.IsCategory(err, enhancederrors.CategoryLimit))
}

func TestServiceTriggerAction(t *testing.T) {
	t.Parallel()

	var routed []string
	router := ActionRouterFunc(func(_ context.Context, rec *Record, a Action) error {
		routed = append(routed, rec.ID+":"+a.ID)
		if a.ID == "broken" {
			return errors.New("no route")
		}
		return nil
	})

	rec := record("a", PriorityHigh, 0)
	rec.Metadata = map[string]any{MetadataKeyActions: []any{"view_stock", "broken"}}
	f := newServiceFixture(t, Config{}, Deps{Router: router, Fetcher: staticFetcher()})
	f.svc.Deliver(context.Background(), rec)
	f.svc.Presenter().Show(rec)

	assert.ErrorIs(t, f.svc.TriggerAction(context.Background(), "missing", "view_stock"), ErrNotificationNotFound)
	assert.ErrorIs(t, f.svc.TriggerAction(context.Background(), "a", "delete"), ErrUnknownAction)

	require.Error(t, f.svc.TriggerAction(context.Background(), "a", "broken"))
	got, _ := f.svc.Get("a")
	assert.False(t, got.IsRead, "failed routing leaves the record unread")

	require.NoError(t, f.svc.TriggerAction(context.Background(), "a", "view_stock"))
	got, _ = f.svc.Get("a")
	assert.True(t, got.IsRead)
	assert.Empty(t, f.svc.Floating())
	assert.Equal(t, []string{"a:broken", "a:view_stock"}, routed)
}

func TestServiceReloadReconcilesConcurrentPushes(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	fetching := make(chan struct{})
	fetched := record("a", PriorityNormal, time.Hour)
	fetcher := fetcherFunc(func(context.Context, string) ([]*Record, error) {
		close(fetching)
		<-release
		return []*Record{fetched}, nil
	})
	f := newServiceFixture(t, Config{}, Deps{Fetcher: fetcher})

	done := make(chan error, 1)
	go func() { done <- f.svc.Reload(context.Background()) }()
	<-fetching

	readCopy := record("a", PriorityCritical, 0)
	readCopy.IsRead = true
	f.svc.Deliver(context.Background(), readCopy)
	f.svc.Deliver(context.Background(), record("b", PriorityHigh, 0))
	assert.Equal(t, 2, f.svc.Store().Len(), "pushes show while the reload runs")

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"b", "a"}, ids(f.svc.Store().All()))
	a, _ := f.svc.Get("a")
	assert.Equal(t, PriorityNormal, a.Priority)
	assert.True(t, a.IsRead)
}

func TestServiceStoreOperations(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, Config{}, Deps{Fetcher: staticFetcher(
		record("a", PriorityNormal, 0), record("b", PriorityNormal, time.Minute))})
	require.NoError(t, f.svc.Reload(context.Background()))

	require.NoError(t, f.svc.MarkRead("a"))
	assert.ErrorIs(t, f.svc.MarkRead("x"), ErrNotificationNotFound)
	assert.Equal(t, 1, f.svc.MarkAllRead())
	require.NoError(t, f.svc.Remove("a"))
	assert.ErrorIs(t, f.svc.Remove("a"), ErrNotificationNotFound)
	f.svc.Clear()
	assert.Zero(t, f.svc.Store().Len())
}

func TestServiceStop(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	f := newServiceFixture(t, Config{}, Deps{Transport: tr, Fetcher: staticFetcher()})
	require.NoError(t, f.svc.Start(context.Background()))
	f.svc.Stop()
	f.svc.Stop()

	assert.False(t, f.svc.IsConnected())
	assert.Zero(t, f.clock.Pending())
	assert.ErrorIs(t, f.svc.Start(context.Background()), ErrServiceStopped)
	assert.ErrorIs(t, f.svc.Reload(context.Background()), ErrServiceStopped)
}
