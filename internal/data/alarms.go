package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/technosupport/firewatch/internal/alarms"
)

// AlarmModel is the Postgres alarm store. The conditional UPDATE in
// UpdateOwner is the single arbiter for concurrent claims.
type AlarmModel struct {
	DB DBTX
}

const alarmColumns = `id, raised_at, top_px, left_px, right_px, bottom_px, evidence_ref, owner_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlarm(r rowScanner) (*alarms.Alarm, error) {
	var a alarms.Alarm
	err := r.Scan(&a.ID, &a.RaisedAt, &a.Box.Top, &a.Box.Left, &a.Box.Right, &a.Box.Bottom, &a.EvidenceRef, &a.OwnerID)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (m AlarmModel) Insert(ctx context.Context, in alarms.NewAlarm) (*alarms.Alarm, error) {
	query := `
		INSERT INTO alarms (top_px, left_px, right_px, bottom_px, evidence_ref)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + alarmColumns
	return scanAlarm(m.DB.QueryRowContext(ctx, query,
		in.Box.Top, in.Box.Left, in.Box.Right, in.Box.Bottom, in.EvidenceRef))
}

func (m AlarmModel) GetByID(ctx context.Context, id int64) (*alarms.Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE id = $1`
	a, err := scanAlarm(m.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, alarms.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (m AlarmModel) ListByFilter(ctx context.Context, f alarms.StoreFilter) ([]alarms.Alarm, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OwnerID != nil {
		add("owner_id = $%d", *f.OwnerID)
	}
	if f.Disposition != nil {
		switch *f.Disposition {
		case alarms.Unprocessed:
			where = append(where, "owner_id = 0")
		case alarms.Processed:
			where = append(where, "owner_id <> 0")
		}
	}
	if f.Start != nil {
		add("raised_at >= $%d", *f.Start)
	}
	if f.End != nil {
		add("raised_at < $%d", *f.End)
	}

	query := `SELECT ` + alarmColumns + ` FROM alarms`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY raised_at DESC, id DESC`

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []alarms.Alarm{}
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (m AlarmModel) UpdateOwner(ctx context.Context, id, from, to int64) (bool, error) {
	query := `UPDATE alarms SET owner_id = $1 WHERE id = $2 AND owner_id = $3`
	res, err := m.DB.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (m AlarmModel) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM alarms WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (m AlarmModel) CountInRange(ctx context.Context, start, end time.Time) (int, error) {
	var n int
	err := m.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alarms WHERE raised_at >= $1 AND raised_at < $2`, start, end).Scan(&n)
	return n, err
}
