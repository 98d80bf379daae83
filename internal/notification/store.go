package notification

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/mainthub/notifier/internal/observability/metrics"
)

const (
	// DefaultStoreSize caps the in-memory store; the oldest records are evicted first.
	DefaultStoreSize = 1000

	// DefaultEventBufferSize is the per-subscriber event buffer
	DefaultEventBufferSize = 64
)

// EventKind classifies store changes.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
	EventReset   EventKind = "reset" // ReplaceAll or Clear; Record is nil
)

// Event is one store change. Record is a clone owned by the receiver.
type Event struct {
	Kind   EventKind
	Record *Record
}

type storeSubscriber struct {
	ch     chan Event
	ctx    context.Context
	cancel context.CancelFunc
}

// Store is the ordered, id-unique collection of notifications shared by the
// list and floating views. Records are kept newest-first; every accessor
// returns clones.
type Store struct {
	mu          sync.RWMutex
	records     []*Record
	index       map[string]*Record
	maxSize     int
	unreadCount int
	metrics     *metrics.NotificationMetrics

	subscribersMu sync.Mutex
	subscribers   []*storeSubscriber
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewStore creates an empty store holding at most maxSize records.
func NewStore(maxSize int, m *metrics.NotificationMetrics) *Store {
	if maxSize <= 0 {
		maxSize = DefaultStoreSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		index:   make(map[string]*Record),
		maxSize: maxSize,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add inserts rec keeping newest-first order. A record with the same id is
// replaced; its read flag never reverts to unread. It reports whether the id was new.
func (s *Store) Add(rec *Record) bool {
	if rec == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec = rec.Clone()
	kind := EventAdded
	if old, ok := s.index[rec.ID]; ok {
		rec.IsRead = rec.IsRead || old.IsRead
		s.removeLocked(rec.ID)
		kind = EventUpdated
	}
	s.insertLocked(rec)
	s.evictLocked()
	s.publishLocked(Event{Kind: kind, Record: rec.Clone()})
	return kind == EventAdded
}

// MarkRead marks one record read; it reports whether the record exists.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[id]
	if !ok {
		return false
	}
	if !rec.IsRead {
		rec.IsRead = true
		s.unreadCount--
		s.publishLocked(Event{Kind: EventUpdated, Record: rec.Clone()})
	}
	return true
}

// MarkAllRead marks every record read and returns how many changed.
func (s *Store) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, rec := range s.records {
		if rec.IsRead {
			continue
		}
		rec.IsRead = true
		changed++
		s.publishLocked(Event{Kind: EventUpdated, Record: rec.Clone()})
	}
	s.unreadCount = 0
	if changed > 0 {
		s.updateMetricsLocked()
	}
	return changed
}

// Remove deletes a record by id; it reports whether the record existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[id]
	if !ok {
		return false
	}
	s.removeLocked(id)
	s.publishLocked(Event{Kind: EventRemoved, Record: rec.Clone()})
	return true
}

// ReplaceAll discards the current contents and loads recs. Duplicate ids keep
// the later entry.
func (s *Store) ReplaceAll(recs []*Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		if _, ok := s.index[rec.ID]; ok {
			s.removeLocked(rec.ID)
		}
		s.insertLocked(rec.Clone())
	}
	s.evictLocked()
	s.publishLocked(Event{Kind: EventReset})
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	s.publishLocked(Event{Kind: EventReset})
}

// Reconcile merges records that arrived while a ReplaceAll was being
// prepared. Ids already present keep the stored record with the read flags
// OR-ed; absent ids are added. It returns clones of the records it added.
func (s *Store) Reconcile(pending []*Record) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []*Record
	for _, p := range pending {
		if p == nil {
			continue
		}
		if existing, ok := s.index[p.ID]; ok {
			if p.IsRead && !existing.IsRead {
				existing.IsRead = true
				s.unreadCount--
				s.publishLocked(Event{Kind: EventUpdated, Record: existing.Clone()})
			}
			continue
		}
		rec := p.Clone()
		s.insertLocked(rec)
		added = append(added, rec.Clone())
		s.publishLocked(Event{Kind: EventAdded, Record: rec.Clone()})
	}
	s.evictLocked()
	return added
}

// All returns every record, newest-first.
func (s *Store) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Clone()
	}
	return out
}

// Get returns a record by id.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// UnreadCount returns the number of unread records.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unreadCount
}

// CriticalUnreadCount returns the number of unread CRITICAL records.
func (s *Store) CriticalUnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.records {
		if !rec.IsRead && rec.Priority == PriorityCritical {
			n++
		}
	}
	return n
}

// TodayCount returns the number of records dated on now's calendar day, in now's location.
func (s *Store) TodayCount(now time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	y, m, d := now.Date()
	n := 0
	for _, rec := range s.records {
		ry, rm, rd := rec.Timestamp.In(now.Location()).Date()
		if ry == y && rm == m && rd == d {
			n++
		}
	}
	return n
}

// Subscribe returns a channel of store events and a context that is
// cancelled when the subscription ends. Slow subscribers miss events rather
// than block the store.
func (s *Store) Subscribe() (<-chan Event, context.Context) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	sub := &storeSubscriber{
		ch:     make(chan Event, DefaultEventBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	s.subscribers = append(s.subscribers, sub)
	return sub.ch, ctx
}

// Unsubscribe ends a subscription. The channel is not closed; readers stop on
// the subscription context.
func (s *Store) Unsubscribe(ch <-chan Event) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	for i, sub := range s.subscribers {
		if sub.ch == ch {
			sub.cancel()
			s.subscribers = slices.Delete(s.subscribers, i, i+1)
			return
		}
	}
}

// Close ends every subscription.
func (s *Store) Close() {
	s.cancel()
	s.subscribersMu.Lock()
	s.subscribers = nil
	s.subscribersMu.Unlock()
}

func (s *Store) insertLocked(rec *Record) {
	pos := slices.IndexFunc(s.records, func(r *Record) bool {
		return !r.Timestamp.After(rec.Timestamp)
	})
	if pos < 0 {
		pos = len(s.records)
	}
	s.records = slices.Insert(s.records, pos, rec)
	s.index[rec.ID] = rec
	if !rec.IsRead {
		s.unreadCount++
	}
}

func (s *Store) removeLocked(id string) {
	rec := s.index[id]
	delete(s.index, id)
	s.records = slices.DeleteFunc(s.records, func(r *Record) bool { return r == rec })
	if !rec.IsRead {
		s.unreadCount--
	}
}

func (s *Store) evictLocked() {
	for len(s.records) > s.maxSize {
		oldest := s.records[len(s.records)-1]
		s.removeLocked(oldest.ID)
		s.publishLocked(Event{Kind: EventRemoved, Record: oldest.Clone()})
	}
}

func (s *Store) resetLocked() {
	s.records = nil
	s.index = make(map[string]*Record)
	s.unreadCount = 0
}

func (s *Store) updateMetricsLocked() {
	s.metrics.UpdateStore(len(s.records), s.unreadCount)
}

// publishLocked fans an event out to live subscribers. Callers hold s.mu so
// subscribers observe events in mutation order.
func (s *Store) publishLocked(ev Event) {
	s.updateMetricsLocked()

	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	active := s.subscribers[:0]
	for _, sub := range s.subscribers {
		if sub.ctx.Err() != nil {
			continue
		}
		active = append(active, sub)
		select {
		case sub.ch <- ev:
		default:
		}
	}
	clear(s.subscribers[len(active):])
	s.subscribers = active
}
