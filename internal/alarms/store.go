package alarms

import (
	"context"
	"time"
)

// StoreFilter is the storage-level query. Nil fields do not constrain.
type StoreFilter struct {
	OwnerID     *int64
	Disposition *DispositionKind
	Start       *time.Time
	End         *time.Time
}

// Store is the durable alarm repository and the single writer-arbiter.
//
// UpdateOwner must be a conditional update: it succeeds only if the stored
// owner equals from, and exactly one concurrent caller may observe true.
type Store interface {
	Insert(ctx context.Context, a NewAlarm) (*Alarm, error)
	GetByID(ctx context.Context, id int64) (*Alarm, error)
	ListByFilter(ctx context.Context, f StoreFilter) ([]Alarm, error)
	UpdateOwner(ctx context.Context, id, from, to int64) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	CountInRange(ctx context.Context, start, end time.Time) (int, error)
}
