package notification

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"golang.org/x/time/rate"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/observability"
	"github.com/mainthub/notifier/internal/observability/metrics"
)

// Control messages the server may send on the channel besides notifications.
var controlMessageTypes = []string{"AUTH_OK", "AUTH_SUCCESS", "AUTH_ERROR", "PING", "PONG", "CONNECTED", "ACK"}

// Config holds the service settings.
type Config struct {
	UserID           string
	Role             string
	Preferences      Preferences
	Reconnect        ReconnectPolicy
	Floating         PresenterConfig
	StoreSize        int
	SendRate         float64 // sends per second; <= 0 is unlimited
	SendBurst        int
	PriorityFromType bool
}

// ActionRouter receives actions the user triggers on a notification. The
// service does not own navigation.
type ActionRouter interface {
	Route(ctx context.Context, rec *Record, action Action) error
}

// ActionRouterFunc adapts a function to ActionRouter.
type ActionRouterFunc func(ctx context.Context, rec *Record, action Action) error

// Route implements ActionRouter.
func (f ActionRouterFunc) Route(ctx context.Context, rec *Record, action Action) error {
	return f(ctx, rec, action)
}

// Deps are the collaborators of a Service. Only Transport-less operation and
// demo data are available when Transport and Fetcher are nil.
type Deps struct {
	Transport    Transport
	Fetcher      Fetcher
	Capabilities Capabilities
	Router       ActionRouter
	Clock        Clock
	Logger       logger.Logger
	Metrics      *observability.Metrics
	NewID        func() string
}

// SendOptions are the optional fields of an outbound notification.
type SendOptions struct {
	Priority   Priority
	Project    string
	Actions    []string
	Metadata   map[string]any
	Persistent bool
}

// OutboundMessage is the channel envelope of a sent notification.
type OutboundMessage struct {
	Type         string  `json:"type"`
	UserID       string  `json:"userId,omitempty"`
	Notification *Record `json:"notification"`
}

// ViewModel is the read-only state list screens render.
type ViewModel struct {
	Notifications []*Record `json:"notifications"`
	UnreadCount   int       `json:"unreadCount"`
	CriticalCount int       `json:"criticalCount"`
	TodayCount    int       `json:"todayCount"`
	IsConnected   bool      `json:"isConnected"`
	UsingRealData bool      `json:"usingRealData"`
	Transport     string    `json:"transport,omitempty"`
}

// Service bundles the connection manager, normalizer, dispatcher, store and
// floating presenter into one unit handed to the UI layer.
type Service struct {
	cfg        Config
	clock      Clock
	log        logger.Logger
	metrics    *metrics.NotificationMetrics
	normalizer *Normalizer
	dispatcher *Dispatcher
	store      *Store
	presenter  *Presenter
	manager    *Manager // nil without a transport
	fetcher    Fetcher
	router     ActionRouter
	limiter    *rate.Limiter

	mu            sync.Mutex
	reloading     int
	pending       []*Record
	usingRealData bool
	started       bool
	stopped       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires a Service. Nothing runs until Start.
func NewService(cfg Config, deps Deps) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}
	log := deps.Logger
	if log == nil {
		log = logger.Global().Module("notification")
	}

	var notifMetrics *metrics.NotificationMetrics
	var connMetrics *metrics.ConnectionMetrics
	if deps.Metrics != nil {
		notifMetrics = deps.Metrics.Notification
		connMetrics = deps.Metrics.Connection
	}

	prefs := cfg.Preferences
	if prefs.Role == "" {
		prefs.Role = cfg.Role
	}

	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	burst := cfg.SendBurst
	if burst <= 0 {
		burst = 1
	}

	normalizer := NewNormalizer(NormalizeOptions{
		PriorityFromType: cfg.PriorityFromType,
		Clock:            clock,
		NewID:            deps.NewID,
	})
	store := NewStore(cfg.StoreSize, notifMetrics)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		cfg:        cfg,
		clock:      clock,
		log:        log,
		metrics:    notifMetrics,
		normalizer: normalizer,
		dispatcher: NewDispatcher(prefs, deps.Capabilities, clock, log, notifMetrics),
		store:      store,
		presenter:  NewPresenter(store, cfg.Floating, clock, log, notifMetrics),
		fetcher:    deps.Fetcher,
		router:     deps.Router,
		limiter:    rate.NewLimiter(limit, burst),
		ctx:        ctx,
		cancel:     cancel,
	}

	if deps.Transport != nil {
		s.manager = NewManager(deps.Transport, ManagerConfig{
			UserID:    cfg.UserID,
			Role:      cfg.Role,
			Reconnect: cfg.Reconnect,
		}, clock, log, connMetrics)
		s.manager.OnMessage(s.handleMessage)
	}
	return s
}

// Start requests the desktop permission, loads the notification list and
// opens the channel. Load and connection failures degrade silently.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrServiceStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	perm := s.dispatcher.Init(ctx)
	s.log.Debug("desktop permission resolved", logger.String("permission", string(perm)))

	// subscribe before loading so no store event is missed
	events, subCtx := s.store.Subscribe()
	s.wg.Go(func() { s.presenter.consume(s.ctx, events, subCtx) })

	if err := s.Reload(ctx); err != nil {
		s.log.Warn("initial notification load failed, showing demo data", logger.Error(err))
	}

	if s.manager != nil {
		if err := s.manager.Connect(ctx); err != nil {
			s.log.Warn("channel unavailable, will retry", logger.Error(err))
		}
	}
	return nil
}

// Reload replaces the store with the backend list. When the fetch fails and
// the store holds demo data (or nothing), the demo dataset is loaded and
// UsingRealData turns false; live data already loaded is kept. Calling Reload
// again is the manual retry. Pushes admitted during the fetch are stored at
// once and reconciled after the replace. The returned error is informational.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrServiceStopped
	}
	s.reloading++
	s.mu.Unlock()

	records, fetchErr := s.fetch(ctx)

	s.mu.Lock()
	keepLive := fetchErr != nil && s.usingRealData
	s.mu.Unlock()

	realData := fetchErr == nil || keepLive
	if fetchErr != nil && !keepLive {
		demo, err := DemoRecords(s.normalizer, s.clock.Now())
		if err != nil {
			s.log.Error("failed to load demo notifications", logger.Error(err))
		}
		records = demo
		s.metrics.RecordFetch("fallback", 0)
	}

	s.mu.Lock()
	if !keepLive {
		s.store.ReplaceAll(records)
	}
	s.reloading--
	var pending []*Record
	if s.reloading == 0 {
		pending, s.pending = s.pending, nil
	}
	var added []*Record
	if !keepLive {
		added = s.store.Reconcile(pending)
	}
	s.usingRealData = realData
	s.mu.Unlock()

	if keepLive {
		s.log.Warn("refresh failed, keeping loaded notifications", logger.Error(fetchErr))
		return fetchErr
	}
	for _, rec := range records {
		s.metrics.RecordReceived(string(rec.Source))
	}
	s.log.Info("notifications loaded",
		logger.Int("count", len(records)),
		logger.Int("reconciled", len(added)),
		logger.Bool("using_real_data", realData))
	return fetchErr
}

func (s *Service) fetch(ctx context.Context) ([]*Record, error) {
	if s.fetcher == nil {
		return nil, errors.Newf("no notification backend configured").
			Component("notification").
			Category(errors.CategoryFetch).
			Build()
	}
	return s.fetcher.Fetch(ctx, s.cfg.UserID)
}

// handleMessage is the channel read path.
func (s *Service) handleMessage(data []byte) {
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		s.dropMessage("malformed", err)
		return
	}
	raw, err := objectMap(obj)
	if err != nil {
		s.dropMessage("malformed", err)
		return
	}

	raw, ok := unwrapEnvelope(raw)
	if !ok {
		s.log.Trace("control message ignored", logger.Any("type", raw["type"]))
		return
	}

	rec, err := s.normalizer.NormalizeFrom(SourceSocket, raw)
	if err != nil {
		s.dropMessage("malformed", err)
		return
	}
	s.metrics.RecordReceived(string(SourceSocket))
	s.deliver(s.ctx, rec)
}

// unwrapEnvelope extracts the notification from a channel message. It
// reports false for control messages.
func unwrapEnvelope(raw Raw) (Raw, bool) {
	for _, key := range []string{"notification", "payload"} {
		if inner, ok := raw[key].(map[string]any); ok {
			return inner, true
		}
	}
	kind, _ := raw["type"].(string)
	if slices.Contains(controlMessageTypes, strings.ToUpper(kind)) {
		return raw, false
	}
	return raw, true
}

func (s *Service) dropMessage(reason string, err error) {
	s.metrics.RecordDropped(reason)
	s.log.Warn("dropping channel message", logger.String("reason", reason), logger.Error(err))
}

// Deliver runs rec through admission and effects and stores it when admitted.
func (s *Service) Deliver(ctx context.Context, rec *Record) Decision {
	return s.deliver(ctx, rec)
}

func (s *Service) deliver(ctx context.Context, rec *Record) Decision {
	decision := s.dispatcher.Dispatch(ctx, rec)
	if !decision.Admitted {
		return decision
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reloading > 0 {
		// replayed after the reload replaces the store
		s.pending = append(s.pending, rec.Clone())
	}
	s.store.Add(rec)
	return decision
}

// SendNotification transmits a notification over the channel when connected,
// otherwise it is synthesized and delivered locally so the UI stays responsive.
func (s *Service) SendNotification(ctx context.Context, t Type, title, message string, opts SendOptions) (*Record, error) {
	if !s.limiter.Allow() {
		s.metrics.RecordSend("rate_limited")
		return nil, errors.Newf("notification send rate exceeded").
			Component("notification").
			Category(errors.CategoryLimit).
			Build()
	}

	raw := Raw{
		"type":       string(t),
		"title":      title,
		"message":    message,
		"priority":   string(opts.Priority),
		"project":    opts.Project,
		"persistent": opts.Persistent,
		"createdAt":  s.clock.Now(),
	}
	if len(opts.Metadata) > 0 {
		raw["metadata"] = opts.Metadata
	}
	if len(opts.Actions) > 0 {
		raw[MetadataKeyActions] = toAnySlice(opts.Actions)
	}

	rec, err := s.normalizer.NormalizeFrom(SourceLocal, raw)
	if err != nil {
		return nil, err
	}

	if s.manager != nil && s.manager.IsConnected() {
		msg := OutboundMessage{Type: "NOTIFICATION", UserID: s.cfg.UserID, Notification: rec}
		err := s.manager.Send(ctx, msg)
		if err == nil {
			s.metrics.RecordSend("channel")
			return rec, nil
		}
		s.log.Warn("channel send failed, delivering locally", logger.Error(err))
	}

	s.metrics.RecordSend("local")
	s.deliver(ctx, rec)
	return rec, nil
}

// View returns the list view model at now.
func (s *Service) View(now time.Time) ViewModel {
	vm := ViewModel{
		Notifications: s.store.All(),
		UnreadCount:   s.store.UnreadCount(),
		CriticalCount: s.store.CriticalUnreadCount(),
		TodayCount:    s.store.TodayCount(now),
		IsConnected:   s.IsConnected(),
		UsingRealData: s.UsingRealData(),
	}
	if s.manager != nil {
		vm.Transport = s.manager.TransportName()
	}
	return vm
}

// TriggerAction forwards an action of a stored notification to the router
// and marks the notification read.
func (s *Service) TriggerAction(ctx context.Context, id, actionID string) error {
	rec, ok := s.store.Get(id)
	if !ok {
		return ErrNotificationNotFound
	}
	idx := slices.IndexFunc(rec.Actions(), func(a Action) bool { return a.ID == actionID })
	if idx < 0 {
		return ErrUnknownAction
	}
	action := rec.Actions()[idx]

	if s.router != nil {
		if err := s.router.Route(ctx, rec, action); err != nil {
			return errors.New(err).
				Component("notification").
				Category(errors.CategoryState).
				Context("action", actionID).
				Build()
		}
	} else {
		s.log.Info("action triggered without router",
			logger.String("id", id),
			logger.String("action", actionID))
	}
	s.store.MarkRead(id)
	s.presenter.Dismiss(id)
	return nil
}

// DesktopPermission returns the resolved desktop notification permission.
func (s *Service) DesktopPermission() Permission { return s.dispatcher.DesktopPermission() }

// OnConnectionChange registers a listener for channel state transitions.
func (s *Service) OnConnectionChange(fn func(connected bool)) {
	if s.manager != nil {
		s.manager.OnStateChange(fn)
	}
}

// SetPreferences applies new delivery preferences.
func (s *Service) SetPreferences(p Preferences) {
	if p.Role == "" {
		p.Role = s.cfg.Role
	}
	s.dispatcher.SetPreferences(p)
}

// MarkRead marks one notification read.
func (s *Service) MarkRead(id string) error {
	if !s.store.MarkRead(id) {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead marks every notification read.
func (s *Service) MarkAllRead() int { return s.store.MarkAllRead() }

// Remove deletes one notification.
func (s *Service) Remove(id string) error {
	if !s.store.Remove(id) {
		return ErrNotificationNotFound
	}
	return nil
}

// Clear empties the store.
func (s *Service) Clear() { s.store.Clear() }

// Get returns one notification.
func (s *Service) Get(id string) (*Record, error) {
	rec, ok := s.store.Get(id)
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return rec, nil
}

// Dismiss closes a floating entry.
func (s *Service) Dismiss(id string) bool { return s.presenter.Dismiss(id) }

// Click marks a floating entry's record read and closes the entry.
func (s *Service) Click(id string) bool { return s.presenter.Click(id) }

// Floating returns the visible floating entries.
func (s *Service) Floating() []FloatingEntry { return s.presenter.Current() }

// Presenter exposes the floating presenter, e.g. for Phase and Progress rendering.
func (s *Service) Presenter() *Presenter { return s.presenter }

// Store exposes the store for read-only observers such as event streams.
func (s *Service) Store() *Store { return s.store }

// IsConnected reports whether the channel is open.
func (s *Service) IsConnected() bool {
	return s.manager != nil && s.manager.IsConnected()
}

// UsingRealData reports whether the store holds backend data rather than demo data.
func (s *Service) UsingRealData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usingRealData
}

// Stop closes the channel, cancels every timer and waits for goroutines.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	if s.manager != nil {
		if err := s.manager.Close(); err != nil {
			s.log.Debug("error closing channel", logger.Error(err))
		}
	}
	s.cancel()
	s.wg.Wait()
	s.presenter.Close()
	s.store.Close()
}
