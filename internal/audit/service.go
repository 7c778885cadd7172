package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/data"
	"go.uber.org/zap"
)

const DefaultListLimit = 100

// Writer persists audit entries, spooling to disk while the database is unreachable.
type Writer struct {
	DB     data.DBTX
	Spool  *Spool
	Logger *zap.Logger
	now    func() time.Time
}

func NewWriter(db data.DBTX, spool *Spool, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{DB: db, Spool: spool, Logger: logger, now: time.Now}
}

// Record inserts e. A database failure is swallowed once the entry is spooled.
func (w *Writer) Record(ctx context.Context, e Entry) error {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = w.now().UTC()
	}
	if len(e.Metadata) == 0 {
		e.Metadata = json.RawMessage("{}")
	}

	err := w.insert(ctx, e)
	if err == nil {
		return nil
	}
	if w.Spool == nil {
		return fmt.Errorf("audit write: %w", err)
	}

	w.Logger.Warn("audit db write failed, spooling", zap.String("event_id", e.EventID.String()), zap.Error(err))
	if spoolErr := w.Spool.Append(e); spoolErr != nil {
		w.Logger.Error("audit spool failed", zap.String("event_id", e.EventID.String()), zap.Error(spoolErr))
		return fmt.Errorf("audit critical failure: %w", spoolErr)
	}
	return nil
}

func (w *Writer) insert(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO audit_log (event_id, action, actor_id, target_type, target_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := w.DB.ExecContext(ctx, query,
		e.EventID, e.Action, e.ActorID, e.TargetType, e.TargetID, []byte(e.Metadata), e.CreatedAt)
	return err
}

// List returns up to limit entries newest first, starting below beforeID when it is non-zero.
func (w *Writer) List(ctx context.Context, limit int, beforeID int64) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = DefaultListLimit
	}
	q := `SELECT id, event_id, action, actor_id, target_type, target_id, metadata, created_at
	      FROM audit_log`
	args := []any{}
	if beforeID > 0 {
		q += " WHERE id < $1"
		args = append(args, beforeID)
	}
	q += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := w.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.EventID, &e.Action, &e.ActorID, &e.TargetType, &e.TargetID, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			e.Metadata = json.RawMessage(meta)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordAlarmAction satisfies alarms.Auditor.
func (w *Writer) RecordAlarmAction(ctx context.Context, action string, a alarms.Alarm, actor alarms.Principal) error {
	meta, err := json.Marshal(map[string]any{
		"bbox":         a.Box,
		"evidence_ref": a.EvidenceRef,
		"raised_at":    a.RaisedAt,
	})
	if err != nil {
		return err
	}
	return w.Record(ctx, Entry{
		Action:     action,
		ActorID:    actorID(actor),
		TargetType: TargetAlarm,
		TargetID:   strconv.FormatInt(a.ID, 10),
		Metadata:   meta,
	})
}

// RecordUserAction satisfies users.Auditor.
func (w *Writer) RecordUserAction(ctx context.Context, action string, u data.User, actor alarms.Principal) error {
	meta, err := json.Marshal(map[string]any{"username": u.Username, "role": u.Role})
	if err != nil {
		return err
	}
	return w.Record(ctx, Entry{
		Action:     action,
		ActorID:    actorID(actor),
		TargetType: TargetUser,
		TargetID:   strconv.FormatInt(u.ID, 10),
		Metadata:   meta,
	})
}

func actorID(p alarms.Principal) *int64 {
	if p.UserID == 0 {
		return nil
	}
	id := p.UserID
	return &id
}
