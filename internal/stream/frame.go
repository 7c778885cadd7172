package stream

import (
	"context"
	"image"
	"time"
)

// Frame is one decoded image from the camera stream. Index is assigned by the
// ingestion worker and is monotonic across reconnects.
type Frame struct {
	Index      uint64
	Image      image.Image
	JPEG       []byte
	ReceivedAt time.Time
}

// Source yields decoded frames in arrival order. Next blocks until a frame is
// available, ctx is done, or the source fails. Any failure other than ctx
// cancellation wraps alarms.ErrSourceUnavailable.
type Source interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}
