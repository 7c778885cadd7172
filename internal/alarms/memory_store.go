package alarms

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore backs the alarm lifecycle when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	alarms map[int64]Alarm

	// Clock stamps RaisedAt on insert. Defaults to time.Now.
	Clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alarms: map[int64]Alarm{},
		Clock:  time.Now,
	}
}

func (s *MemoryStore) Insert(_ context.Context, in NewAlarm) (*Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	a := Alarm{
		ID:          s.nextID,
		RaisedAt:    s.Clock(),
		Box:         in.Box,
		EvidenceRef: in.EvidenceRef,
	}
	s.alarms[a.ID] = a
	out := a
	return &out, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id int64) (*Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alarms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) ListByFilter(_ context.Context, f StoreFilter) ([]Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Alarm, 0, len(s.alarms))
	for _, a := range s.alarms {
		if f.OwnerID != nil && a.OwnerID != *f.OwnerID {
			continue
		}
		if f.Disposition != nil && a.Disposition().Kind != *f.Disposition {
			continue
		}
		if f.Start != nil && a.RaisedAt.Before(*f.Start) {
			continue
		}
		if f.End != nil && !a.RaisedAt.Before(*f.End) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RaisedAt.Equal(out[j].RaisedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].RaisedAt.After(out[j].RaisedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateOwner(_ context.Context, id, from, to int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alarms[id]
	if !ok || a.OwnerID != from {
		return false, nil
	}
	a.OwnerID = to
	s.alarms[id] = a
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alarms[id]; !ok {
		return false, nil
	}
	delete(s.alarms, id)
	return true, nil
}

func (s *MemoryStore) CountInRange(_ context.Context, start, end time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.alarms {
		if !a.RaisedAt.Before(start) && a.RaisedAt.Before(end) {
			n++
		}
	}
	return n, nil
}
