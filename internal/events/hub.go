package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/metrics"
)

// DefaultBuffer is the subscriber channel size used when Subscribe gets <= 0.
const DefaultBuffer = 16

// Subscription is one consumer's view of the hub.
type Subscription struct {
	name    string
	kinds   map[Kind]bool
	ch      chan Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// C delivers events in publish order. It is closed by Unsubscribe or Hub.Close.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Name() string { return s.name }

func (s *Subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// SubscriberStats are per-subscriber delivery counters.
type SubscriberStats struct {
	Name    string `json:"name"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

func (s *Subscription) Stats() SubscriberStats {
	return SubscriberStats{
		Name:    s.name,
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
		Queued:  len(s.ch),
	}
}

// Stats summarizes the hub.
type Stats struct {
	Published   uint64            `json:"published"`
	Subscribers []SubscriberStats `json:"subscribers"`
}

// Hub fans events out to subscribers. Publish never blocks: when a
// subscriber's buffer is full the new event is dropped for that subscriber
// only and counted.
type Hub struct {
	mu        sync.RWMutex
	subs      map[*Subscription]struct{}
	closed    bool
	published atomic.Uint64
	now       func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// Subscribe registers a consumer for the given kinds (all kinds if none given).
func (h *Hub) Subscribe(name string, buffer int, kinds ...Kind) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{
		name:  name,
		kinds: make(map[Kind]bool, len(kinds)),
		ch:    make(chan Event, buffer),
	}
	for _, k := range kinds {
		s.kinds[k] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}

// Publish delivers e to every interested subscriber without blocking.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = h.now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)
	for s := range h.subs {
		if !s.wants(e.Kind) {
			continue
		}
		select {
		case s.ch <- e:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
			metrics.RecordEventDrop(s.name)
		}
	}
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{Published: h.published.Load()}
	for s := range h.subs {
		st.Subscribers = append(st.Subscribers, s.Stats())
	}
	return st
}

// Close unsubscribes everyone. Later publishes are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
	}
	h.subs = nil
}

// AlarmDisposed publishes a lifecycle transition.
func (h *Hub) AlarmDisposed(a alarms.Alarm, action string, actor alarms.Principal) {
	alarm := a
	h.Publish(Event{
		Kind:    AlarmDisposed,
		Alarm:   &alarm,
		AlarmID: a.ID,
		Action:  action,
		ActorID: actor.UserID,
	})
}
