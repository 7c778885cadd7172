package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	spoolFile            = "audit_spool.log"
	DefaultReplayEvery   = 30 * time.Second
	DefaultMaxSpoolBytes = 256 * 1024 * 1024
)

var ErrSpoolFull = errors.New("audit spool full")

// Spool is an append-only JSONL file used while the audit table is unreachable.
type Spool struct {
	dir      string
	maxBytes int64
	mu       sync.Mutex
}

func NewSpool(dir string, maxBytes int64) (*Spool, error) {
	if dir == "" {
		return nil, errors.New("audit spool dir is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSpoolBytes
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Spool{dir: dir, maxBytes: maxBytes}, nil
}

func (s *Spool) Dir() string { return s.dir }

// Append writes e as one line. Entries are refused once the directory reaches maxBytes.
func (s *Spool) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size() >= s.maxBytes {
		return ErrSpoolFull
	}

	line, err := json.Marshal(spooledEntry{EventID: e.EventID.String(), Payload: e, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(s.dir, spoolFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

func (s *Spool) size() int64 {
	var size int64
	_ = filepath.WalkDir(s.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}

// claim moves the live spool aside so new failures append to a fresh file.
func (s *Spool) claim() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := filepath.Join(s.dir, spoolFile)
	info, err := os.Stat(live)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	replay := filepath.Join(s.dir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	if err := os.Rename(live, replay); err != nil {
		return "", err
	}
	return replay, nil
}

var replayLock sync.Mutex

// Replay re-records every spooled entry. Entries that fail again land back in
// the live spool; the event id keeps the insert idempotent.
func (w *Writer) Replay(ctx context.Context) (int, error) {
	if w.Spool == nil {
		return 0, nil
	}
	replayLock.Lock()
	defer replayLock.Unlock()

	replayFile, err := w.Spool.claim()
	if err != nil || replayFile == "" {
		return 0, err
	}

	f, err := os.Open(replayFile)
	if err != nil {
		return 0, err
	}

	var flushed, malformed int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var se spooledEntry
		if err := json.Unmarshal(scanner.Bytes(), &se); err != nil {
			malformed++
			continue
		}
		if err := w.insert(ctx, se.Payload); err != nil {
			if spoolErr := w.Spool.Append(se.Payload); spoolErr != nil {
				w.Logger.Error("audit entry lost during replay", zap.String("event_id", se.EventID), zap.Error(spoolErr))
			}
			continue
		}
		flushed++
	}
	f.Close()
	_ = os.Remove(replayFile)

	if flushed > 0 || malformed > 0 {
		w.Logger.Info("audit replay", zap.Int("flushed", flushed), zap.Int("malformed", malformed))
	}
	return flushed, scanner.Err()
}

// Start replays the spool every interval until ctx is done.
func (w *Writer) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReplayEvery
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.Replay(ctx); err != nil {
					w.Logger.Warn("audit replay failed", zap.Error(err))
				}
			}
		}
	}()
}
