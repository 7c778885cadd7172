package alarms

import (
	"context"
	"errors"
	"fmt"

	"github.com/technosupport/firewatch/internal/metrics"
	"go.uber.org/zap"
)

// Audit actions recorded for lifecycle transitions.
const (
	ActionClaim   = "ALARM_CLAIM"
	ActionDismiss = "ALARM_DISMISS"
)

// Notifier receives lifecycle transitions. Implementations must not block.
type Notifier interface {
	AlarmDisposed(a Alarm, action string, actor Principal)
}

// Auditor records a durable trace of a lifecycle transition.
type Auditor interface {
	RecordAlarmAction(ctx context.Context, action string, a Alarm, actor Principal) error
}

// ListFilter is the caller-facing query accepted by List.
type ListFilter struct {
	OwnerID     *int64
	Disposition *DispositionKind
	Range       *TimeRange
}

// Lifecycle applies disposition transitions and visibility rules on top of a Store.
type Lifecycle struct {
	store    Store
	notifier Notifier
	auditor  Auditor
	logger   *zap.Logger
}

func NewLifecycle(store Store, notifier Notifier, auditor Auditor, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{store: store, notifier: notifier, auditor: auditor, logger: logger}
}

// Claim moves an unprocessed alarm to ProcessedBy(actor). Exactly one of any
// number of concurrent claimers succeeds; the rest get ErrAlreadyProcessed.
func (l *Lifecycle) Claim(ctx context.Context, actor Principal, id int64) (*Alarm, error) {
	if !actor.IsAdmin() || actor.UserID == 0 {
		return nil, ErrForbidden
	}

	ok, err := l.store.UpdateOwner(ctx, id, 0, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		if _, err := l.store.GetByID(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return nil, ErrAlreadyProcessed
	}

	a, err := l.store.GetByID(ctx, id)
	if err != nil {
		// Dismissed between the update and the read; the claim itself stood.
		a = &Alarm{ID: id, OwnerID: actor.UserID}
	}
	l.after(ctx, ActionClaim, *a, actor)
	return a, nil
}

// Dismiss removes an alarm regardless of disposition. A second dismiss of the
// same id returns ErrNotFound and has no other effect.
func (l *Lifecycle) Dismiss(ctx context.Context, actor Principal, id int64) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}

	a, err := l.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	ok, err := l.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		return ErrNotFound
	}
	l.after(ctx, ActionDismiss, *a, actor)
	return nil
}

// List returns alarms newest first. Non-admin callers only ever see their own.
func (l *Lifecycle) List(ctx context.Context, caller Principal, f ListFilter) ([]Alarm, error) {
	sf := StoreFilter{Disposition: f.Disposition}
	if f.Range != nil {
		if !f.Range.Start.Before(f.Range.End) {
			return nil, ErrInvalidFilter
		}
		start, end := f.Range.Start, f.Range.End
		sf.Start, sf.End = &start, &end
	}

	if caller.IsAdmin() {
		sf.OwnerID = f.OwnerID
	} else {
		if f.Disposition != nil && *f.Disposition == Unprocessed {
			return nil, ErrForbidden
		}
		if f.OwnerID != nil && *f.OwnerID != caller.UserID {
			return nil, ErrForbidden
		}
		self := caller.UserID
		sf.OwnerID = &self
	}

	out, err := l.store.ListByFilter(ctx, sf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

// Get returns one alarm. Alarms owned by someone else read as ErrNotFound for
// non-admin callers.
func (l *Lifecycle) Get(ctx context.Context, caller Principal, id int64) (*Alarm, error) {
	a, err := l.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !caller.IsAdmin() && a.OwnerID != caller.UserID {
		return nil, ErrNotFound
	}
	return a, nil
}

func (l *Lifecycle) after(ctx context.Context, action string, a Alarm, actor Principal) {
	metrics.RecordTransition(action)
	if l.auditor != nil {
		if err := l.auditor.RecordAlarmAction(ctx, action, a, actor); err != nil {
			l.logger.Warn("audit record failed",
				zap.String("action", action), zap.Int64("alarm_id", a.ID), zap.Error(err))
		}
	}
	if l.notifier != nil {
		l.notifier.AlarmDisposed(a, action, actor)
	}
}
