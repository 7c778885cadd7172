package live

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hybridgroup/mjpeg"
	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/events"
	"github.com/technosupport/firewatch/internal/ingest"
	"go.uber.org/zap"
)

const (
	DefaultMaxFPS  = 10
	DefaultQuality = 75
)

// Feed republishes decoded frames as an MJPEG stream, optionally drawing the
// boxes of open alarms on top.
type Feed struct {
	stream   *mjpeg.Stream
	minGap   time.Duration
	quality  int
	overlay  func() []alarms.BoundingBox
	logger   *zap.Logger
	lastSent time.Time
	frames   atomic.Uint64
}

type Options struct {
	MaxFPS  int
	Quality int
	// Overlay returns the boxes to draw on each frame. Nil draws nothing.
	Overlay func() []alarms.BoundingBox
}

func NewFeed(opts Options, logger *zap.Logger) *Feed {
	if opts.MaxFPS <= 0 {
		opts.MaxFPS = DefaultMaxFPS
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		stream:  mjpeg.NewStream(),
		minGap:  time.Second / time.Duration(opts.MaxFPS),
		quality: opts.Quality,
		overlay: opts.Overlay,
		logger:  logger,
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.stream.ServeHTTP(w, r)
}

// Frames is the number of frames pushed to viewers.
func (f *Feed) Frames() uint64 { return f.frames.Load() }

// Follow consumes FrameDecoded events until ctx is done or sub is closed.
func (f *Feed) Follow(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if e.Kind != events.FrameDecoded || e.Frame == nil {
				continue
			}
			if err := f.push(e.Frame.Image, e.Frame.JPEG, e.At); err != nil {
				f.logger.Debug("live frame skipped", zap.Error(err))
			}
		}
	}
}

func (f *Feed) push(img image.Image, raw []byte, at time.Time) error {
	if !f.lastSent.IsZero() && at.Sub(f.lastSent) < f.minGap {
		return nil
	}

	var boxes []alarms.BoundingBox
	if f.overlay != nil {
		boxes = f.overlay()
	}

	payload := raw
	if len(boxes) > 0 || len(payload) == 0 {
		if img == nil {
			return nil
		}
		for _, b := range boxes {
			img = ingest.Annotate(img, b, ingest.DefaultStrokeWidth)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: f.quality}); err != nil {
			return err
		}
		payload = buf.Bytes()
	}

	f.stream.UpdateJPEG(payload)
	f.lastSent = at
	f.frames.Add(1)
	return nil
}
