package audit

import (
	"context"
	"fmt"
	"time"
)

const MinRetention = 90 * 24 * time.Hour

// CheckRetention rejects windows that would purge recent history.
func CheckRetention(retention time.Duration) error {
	if retention < MinRetention {
		return fmt.Errorf("audit retention must be at least %s (requested %s)", MinRetention, retention)
	}
	return nil
}

// Purge deletes entries older than the retention window and returns the count removed.
func (w *Writer) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if err := CheckRetention(retention); err != nil {
		return 0, err
	}
	cutoff := w.now().UTC().Add(-retention)
	res, err := w.DB.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
