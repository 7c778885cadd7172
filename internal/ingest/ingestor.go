package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/events"
	"github.com/technosupport/firewatch/internal/evidence"
	"github.com/technosupport/firewatch/internal/metrics"
	"github.com/technosupport/firewatch/internal/stream"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

// Publisher receives AlarmRaised events.
type Publisher interface {
	Publish(e events.Event)
}

// DefaultStrokeWidth is the evidence box outline in pixels.
const DefaultStrokeWidth = 2

// Config tunes the ingestor.
type Config struct {
	QueueSize     int           `yaml:"queue_size"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
	StrokeWidth   int           `yaml:"stroke_width"`
	IngestTimeout time.Duration `yaml:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 8
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 90
	}
	if c.StrokeWidth <= 0 {
		c.StrokeWidth = DefaultStrokeWidth
	}
	if c.IngestTimeout <= 0 {
		c.IngestTimeout = 10 * time.Second
	}
	return c
}

type job struct {
	cand  alarms.Candidate
	frame *stream.Frame
}

// Ingestor turns accepted detections into persisted alarms. Submit is safe to
// call from the frame loop; a single dispatch goroutine processes detections
// in submission order so alarm ids follow frame order.
type Ingestor struct {
	cfg      Config
	store    alarms.Store
	evidence evidence.Store
	pub      Publisher
	logger   *zap.Logger

	queue chan job
	quit  chan struct{}
	wg    sync.WaitGroup

	// mu orders Submit against Stop: once stopped is set under the write
	// lock, no send can land after the dispatcher's final drain.
	mu      sync.RWMutex
	stopped bool
	dropped atomic.Uint64
}

func New(cfg Config, store alarms.Store, ev evidence.Store, pub Publisher, logger *zap.Logger) *Ingestor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		cfg:      cfg,
		store:    store,
		evidence: ev,
		pub:      pub,
		logger:   logger,
		queue:    make(chan job, cfg.QueueSize),
		quit:     make(chan struct{}),
	}
}

// Ingest annotates the frame, persists evidence, inserts the alarm and
// publishes AlarmRaised. It is not retried on failure.
func (i *Ingestor) Ingest(ctx context.Context, cand alarms.Candidate, frame *stream.Frame) (int64, error) {
	start := time.Now()
	if frame == nil || frame.Image == nil {
		metrics.RecordIngest("invalid", 0)
		return 0, fmt.Errorf("%w: no frame", alarms.ErrEvidencePersistFailure)
	}

	annotated := Annotate(frame.Image, cand.Box, i.cfg.StrokeWidth)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, annotated, &jpeg.Options{Quality: i.cfg.JPEGQuality}); err != nil {
		metrics.RecordIngest("evidence_failed", 0)
		return 0, fmt.Errorf("%w: encode: %v", alarms.ErrEvidencePersistFailure, err)
	}

	ref, err := i.evidence.Save(ctx, buf.Bytes())
	if err != nil {
		metrics.RecordIngest("evidence_failed", 0)
		return 0, err
	}

	a, err := i.store.Insert(ctx, alarms.NewAlarm{Box: cand.Box, EvidenceRef: ref})
	if err != nil {
		metrics.RecordIngest("storage_failed", 0)
		i.logger.Warn("alarm insert failed, evidence orphaned",
			zap.String("evidence_ref", ref), zap.Error(err))
		return 0, fmt.Errorf("%w: %v", alarms.ErrStorageUnavailable, err)
	}

	metrics.RecordIngest("ok", float64(time.Since(start).Milliseconds()))
	if i.pub != nil {
		i.pub.Publish(events.Event{Kind: events.AlarmRaised, Alarm: a, AlarmID: a.ID})
	}
	i.logger.Info("alarm raised",
		zap.Int64("alarm_id", a.ID),
		zap.Uint64("frame_index", frame.Index),
		zap.Int("area", cand.Area),
		zap.String("evidence_ref", ref))
	return a.ID, nil
}

// Submit enqueues a detection without blocking. It returns false when the
// queue is full or the ingestor is stopped; the detection is then dropped.
func (i *Ingestor) Submit(cand alarms.Candidate, frame *stream.Frame) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.stopped {
		return false
	}
	select {
	case i.queue <- job{cand: cand, frame: frame}:
		metrics.RecordDetection(true)
		return true
	default:
		i.dropped.Add(1)
		metrics.RecordDetection(false)
		return false
	}
}

// Dropped returns the number of detections rejected by Submit.
func (i *Ingestor) Dropped() uint64 { return i.dropped.Load() }

// Start launches the dispatch goroutine.
func (i *Ingestor) Start() {
	i.wg.Add(1)
	go i.run()
}

// Stop finishes queued detections and waits for the dispatcher to exit.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	if !i.stopped {
		i.stopped = true
		close(i.quit)
	}
	i.mu.Unlock()
	i.wg.Wait()
}

func (i *Ingestor) run() {
	defer i.wg.Done()
	for {
		select {
		case j := <-i.queue:
			i.process(j)
		case <-i.quit:
			for {
				select {
				case j := <-i.queue:
					i.process(j)
				default:
					return
				}
			}
		}
	}
}

func (i *Ingestor) process(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), i.cfg.IngestTimeout)
	defer cancel()
	if _, err := i.Ingest(ctx, j.cand, j.frame); err != nil {
		i.logger.Error("alarm ingest failed", zap.Uint64("frame_index", j.frame.Index), zap.Error(err))
	}
}

var boxColor = image.NewUniform(color.RGBA{R: 255, A: 255})

// Annotate returns a copy of img with a red rectangle of the given stroke
// drawn along box. The source image is not modified.
func Annotate(img image.Image, box alarms.BoundingBox, stroke int) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)

	r := box.Rect().Intersect(b)
	if r.Empty() {
		return out
	}
	if stroke > r.Dx()/2 {
		stroke = max(1, r.Dx()/2)
	}
	if stroke > r.Dy()/2 {
		stroke = max(1, r.Dy()/2)
	}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+stroke),
		image.Rect(r.Min.X, r.Max.Y-stroke, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+stroke, r.Max.Y),
		image.Rect(r.Max.X-stroke, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(out, e, boxColor, image.Point{}, draw.Src)
	}
	return out
}
