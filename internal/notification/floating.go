package notification

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/observability/metrics"
)

// Presenter defaults
const (
	DefaultMaxFloating   = 5
	DefaultShownTTL      = 30 * time.Minute
	DefaultEnterDuration = 300 * time.Millisecond
)

// Phase is the transition state of a floating entry.
type Phase string

const (
	PhaseEntering Phase = "entering"
	PhaseVisible  Phase = "visible"
)

// FloatingEntry is a transient toast derived from a store record.
type FloatingEntry struct {
	Record  *Record       `json:"record"`
	Timeout time.Duration `json:"timeout"` // 0 never expires
	ShownAt time.Time     `json:"shownAt"`
}

// Persistent reports whether the entry waits for a manual close.
func (e FloatingEntry) Persistent() bool {
	return e.Timeout <= 0
}

// Progress returns the elapsed share of the countdown in [0,1]; persistent
// entries always report 0.
func Progress(e FloatingEntry, now time.Time) float64 {
	if e.Persistent() {
		return 0
	}
	elapsed := now.Sub(e.ShownAt)
	switch {
	case elapsed <= 0:
		return 0
	case elapsed >= e.Timeout:
		return 1
	default:
		return float64(elapsed) / float64(e.Timeout)
	}
}

// PresenterConfig configures the toast presenter.
type PresenterConfig struct {
	MaxVisible    int
	ShownTTL      time.Duration
	EnterDuration time.Duration // 0 uses DefaultEnterDuration, negative disables the transition
}

type floatingSlot struct {
	entry FloatingEntry
	timer Timer
}

// Presenter keeps the bounded list of floating entries. It reads the store
// feed and only writes back through Store.MarkRead on click.
type Presenter struct {
	mu      sync.Mutex
	slots   []*floatingSlot // newest-first
	shown   *cache.Cache
	cfg     PresenterConfig
	store   *Store
	clock   Clock
	log     logger.Logger
	metrics *metrics.NotificationMetrics
	closed  bool
}

// NewPresenter creates a presenter over store.
func NewPresenter(store *Store, cfg PresenterConfig, clock Clock, log logger.Logger, m *metrics.NotificationMetrics) *Presenter {
	if cfg.MaxVisible <= 0 {
		cfg.MaxVisible = DefaultMaxFloating
	}
	if cfg.ShownTTL <= 0 {
		cfg.ShownTTL = DefaultShownTTL
	}
	switch {
	case cfg.EnterDuration == 0:
		cfg.EnterDuration = DefaultEnterDuration
	case cfg.EnterDuration < 0:
		cfg.EnterDuration = 0
	}
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = logger.Global().Module("notification")
	}
	return &Presenter{
		// no janitor goroutine; expired ids are evicted lazily on lookup
		shown:   cache.New(cfg.ShownTTL, 0),
		cfg:     cfg,
		store:   store,
		clock:   clock,
		log:     log.Module("floating"),
		metrics: m,
	}
}

// Show creates a floating entry for an unread record that has not been shown
// yet. It reports whether an entry was created.
func (p *Presenter) Show(rec *Record) bool {
	if rec == nil || rec.IsRead {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if err := p.shown.Add(rec.ID, struct{}{}, cache.DefaultExpiration); err != nil {
		return false
	}

	timeout := EffectProfileFor(rec.Priority).Timeout
	if rec.Persistent {
		timeout = 0
	}
	slot := &floatingSlot{entry: FloatingEntry{
		Record:  rec.Clone(),
		Timeout: timeout,
		ShownAt: p.clock.Now(),
	}}
	if timeout > 0 {
		id := rec.ID
		slot.timer = p.clock.AfterFunc(timeout, func() { p.expire(id, slot) })
	}

	p.slots = slices.Insert(p.slots, 0, slot)
	for len(p.slots) > p.cfg.MaxVisible {
		oldest := p.slots[len(p.slots)-1]
		p.stopLocked(oldest)
		p.slots = p.slots[:len(p.slots)-1]
		p.log.Debug("floating entry evicted", logger.String("id", oldest.entry.Record.ID))
	}
	p.metrics.UpdateFloating(len(p.slots))
	return true
}

// Dismiss closes an entry; the store record is untouched.
func (p *Presenter) Dismiss(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dismissLocked(id)
}

// Click marks the record read and closes its entry.
func (p *Presenter) Click(id string) bool {
	p.mu.Lock()
	i := p.indexLocked(id)
	if i < 0 {
		p.mu.Unlock()
		return false
	}
	p.dismissLocked(id)
	p.mu.Unlock()

	if p.store != nil {
		p.store.MarkRead(id)
	}
	return true
}

// Current returns a snapshot of the visible entries, newest-first.
func (p *Presenter) Current() []FloatingEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]FloatingEntry, len(p.slots))
	for i, slot := range p.slots {
		out[i] = slot.entry
		out[i].Record = slot.entry.Record.Clone()
	}
	return out
}

// Phase returns the transition state of e at now.
func (p *Presenter) Phase(e FloatingEntry, now time.Time) Phase {
	if now.Sub(e.ShownAt) < p.cfg.EnterDuration {
		return PhaseEntering
	}
	return PhaseVisible
}

// Run feeds newly added store records into the presenter until ctx is done.
func (p *Presenter) Run(ctx context.Context) {
	if p.store == nil {
		return
	}
	events, subCtx := p.store.Subscribe()
	p.consume(ctx, events, subCtx)
}

// consume applies store events until ctx or the subscription ends.
func (p *Presenter) consume(ctx context.Context, events <-chan Event, subCtx context.Context) {
	defer p.store.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-subCtx.Done():
			return
		case ev := <-events:
			p.handleEvent(ev)
		}
	}
}

func (p *Presenter) handleEvent(ev Event) {
	switch ev.Kind {
	case EventAdded:
		p.Show(ev.Record)
	case EventUpdated:
		if ev.Record.IsRead {
			p.Dismiss(ev.Record.ID)
		}
	case EventRemoved:
		p.Dismiss(ev.Record.ID)
	case EventReset:
		p.pruneMissing()
	}
}

// pruneMissing drops entries whose records left the store.
func (p *Presenter) pruneMissing() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.slots = slices.DeleteFunc(p.slots, func(slot *floatingSlot) bool {
		if _, ok := p.store.Get(slot.entry.Record.ID); ok {
			return false
		}
		p.stopLocked(slot)
		return true
	})
	p.metrics.UpdateFloating(len(p.slots))
}

// Close stops every countdown and rejects further entries.
func (p *Presenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, slot := range p.slots {
		p.stopLocked(slot)
	}
	p.slots = nil
	p.closed = true
}

func (p *Presenter) expire(id string, slot *floatingSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// a dismissed or evicted slot may still fire if Stop lost the race
	i := slices.Index(p.slots, slot)
	if i < 0 {
		return
	}
	p.slots = slices.Delete(p.slots, i, i+1)
	p.metrics.UpdateFloating(len(p.slots))
	p.log.Trace("floating entry expired", logger.String("id", id))
}

func (p *Presenter) dismissLocked(id string) bool {
	i := p.indexLocked(id)
	if i < 0 {
		return false
	}
	p.stopLocked(p.slots[i])
	p.slots = slices.Delete(p.slots, i, i+1)
	p.metrics.UpdateFloating(len(p.slots))
	return true
}

func (p *Presenter) indexLocked(id string) int {
	return slices.IndexFunc(p.slots, func(slot *floatingSlot) bool {
		return slot.entry.Record.ID == id
	})
}

func (p *Presenter) stopLocked(slot *floatingSlot) {
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
}
