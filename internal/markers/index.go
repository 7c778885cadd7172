package markers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/events"
	"go.uber.org/zap"
)

// DefaultResync is how often Follow rebuilds from the store regardless of events.
const DefaultResync = 30 * time.Second

// Marker is the map pin for one alarm, placed at its box centroid. It carries
// no disposition; visibility is decided against the store per request.
type Marker struct {
	AlarmID int64              `json:"alarm_id"`
	X       int                `json:"x"`
	Y       int                `json:"y"`
	Box     alarms.BoundingBox `json:"bounding_box"`
}

func markerFor(a alarms.Alarm) Marker {
	x, y := a.Box.Centroid()
	return Marker{AlarmID: a.ID, X: x, Y: y, Box: a.Box}
}

// FromAlarms maps alarms to markers sorted by alarm id.
func FromAlarms(list []alarms.Alarm) []Marker {
	out := make([]Marker, 0, len(list))
	for _, a := range list {
		out = append(out, markerFor(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AlarmID < out[j].AlarmID })
	return out
}

// Index is a derived view of the alarm store, keyed by alarm id. It is never
// authoritative: events keep it warm between reads, and Current and Visible
// re-derive it from the store.
type Index struct {
	store  alarms.Store
	logger *zap.Logger

	mu      sync.RWMutex
	markers map[int64]Marker
}

func NewIndex(store alarms.Store, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{store: store, logger: logger, markers: make(map[int64]Marker)}
}

func (x *Index) Upsert(a alarms.Alarm) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.markers[a.ID] = markerFor(a)
}

func (x *Index) Remove(id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.markers, id)
}

func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.markers = make(map[int64]Marker)
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.markers)
}

// All returns the in-memory snapshot sorted by alarm id.
func (x *Index) All() []Marker {
	x.mu.RLock()
	out := make([]Marker, 0, len(x.markers))
	for _, m := range x.markers {
		out = append(out, m)
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AlarmID < out[j].AlarmID })
	return out
}

func (x *Index) replace(list []alarms.Alarm) {
	fresh := make(map[int64]Marker, len(list))
	for _, a := range list {
		fresh[a.ID] = markerFor(a)
	}
	x.mu.Lock()
	x.markers = fresh
	x.mu.Unlock()
}

// Rebuild replaces the index contents with the store's current alarms.
func (x *Index) Rebuild(ctx context.Context) error {
	list, err := x.store.ListByFilter(ctx, alarms.StoreFilter{})
	if err != nil {
		return err
	}
	x.replace(list)
	return nil
}

// Current rebuilds from the store and returns every marker.
func (x *Index) Current(ctx context.Context) ([]Marker, error) {
	if err := x.Rebuild(ctx); err != nil {
		return nil, err
	}
	return x.All(), nil
}

// Visible returns the markers caller may see, read through lc so ownership
// comes from the store at call time. An admin read also refreshes the index.
func (x *Index) Visible(ctx context.Context, lc *alarms.Lifecycle, caller alarms.Principal) ([]Marker, error) {
	list, err := lc.List(ctx, caller, alarms.ListFilter{})
	if err != nil {
		return nil, err
	}
	if caller.IsAdmin() {
		x.replace(list)
	}
	return FromAlarms(list), nil
}

// Apply folds one event into the index.
func (x *Index) Apply(e events.Event) {
	switch e.Kind {
	case events.AlarmRaised:
		if e.Alarm != nil {
			x.Upsert(*e.Alarm)
		}
	case events.AlarmDisposed:
		if e.Action == alarms.ActionDismiss {
			x.Remove(e.AlarmID)
		}
	}
}

// Follow applies events from sub until ctx is done or sub is closed. It
// rebuilds from the store every resync interval and as soon as the
// subscription reports dropped events, since those may have been dismissals.
func (x *Index) Follow(ctx context.Context, sub *events.Subscription, resync time.Duration) {
	if resync <= 0 {
		resync = DefaultResync
	}
	ticker := time.NewTicker(resync)
	defer ticker.Stop()

	var seen uint64
	rebuild := func(reason string) {
		if err := x.Rebuild(ctx); err != nil && ctx.Err() == nil {
			x.logger.Warn("marker rebuild failed", zap.String("reason", reason), zap.Error(err))
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rebuild("resync")
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			x.Apply(e)
		}
		if dropped := sub.Stats().Dropped; dropped > seen {
			seen = dropped
			rebuild("events dropped")
		}
	}
}

// OpenBoxes returns the boxes of alarms still awaiting a decision, read from
// the store.
func OpenBoxes(ctx context.Context, store alarms.Store) ([]alarms.BoundingBox, error) {
	open := alarms.Unprocessed
	list, err := store.ListByFilter(ctx, alarms.StoreFilter{Disposition: &open})
	if err != nil {
		return nil, err
	}
	boxes := make([]alarms.BoundingBox, 0, len(list))
	for _, a := range list {
		boxes = append(boxes, a.Box)
	}
	return boxes, nil
}
