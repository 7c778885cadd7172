package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/detection"
	"github.com/technosupport/firewatch/internal/events"
	"github.com/technosupport/firewatch/internal/metrics"
	"github.com/technosupport/firewatch/internal/stream"
	"go.uber.org/zap"
)

// OpenFunc connects to the frame source.
type OpenFunc func(ctx context.Context) (stream.Source, error)

// Submitter accepts detections without blocking.
type Submitter interface {
	Submit(cand alarms.Candidate, frame *stream.Frame) bool
}

// Publisher receives worker events.
type Publisher interface {
	Publish(e events.Event)
}

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateRunning    State = "running"
	StateRetrying   State = "reconnecting"
	StateFaulted    State = "faulted"
	StateStopped    State = "stopped"
)

// Status is a point-in-time snapshot of the worker.
type Status struct {
	State         State     `json:"state"`
	FramesDecoded uint64    `json:"frames_decoded"`
	FramesSampled uint64    `json:"frames_sampled"`
	Detections    uint64    `json:"detections"`
	Dropped       uint64    `json:"detections_dropped"`
	Reconnects    uint64    `json:"reconnects"`
	Panics        uint64    `json:"panics"`
	LastFrameAt   time.Time `json:"last_frame_at"`
	LastError     string    `json:"last_error,omitempty"`
}

var errAlreadyRunning = errors.New("worker already running")

// Worker drives the frame loop: read, index, publish, sample, detect, submit.
// It runs on its own goroutine and never blocks on alarm persistence.
type Worker struct {
	Open      OpenFunc
	Sampler   detection.Sampler
	Detector  detection.Detector
	Ingestor  Submitter
	Hub       Publisher
	Backoff   stream.Backoff
	StopGrace time.Duration
	Logger    *zap.Logger

	mu     sync.Mutex
	status Status
	src    stream.Source
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start launches the loop. The worker stops when ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		select {
		case <-w.done:
		default:
			return errAlreadyRunning
		}
	}
	if w.Logger == nil {
		w.Logger = zap.NewNop()
	}
	if w.StopGrace <= 0 {
		w.StopGrace = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.err = nil
	w.status.State = StateConnecting
	go w.run(ctx, w.done)
	return nil
}

// Stop requests a cooperative stop, waits StopGrace, then force-closes the
// source to unblock a pending read. It returns the loop's terminal error.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-time.After(w.StopGrace):
		w.Logger.Warn("worker did not stop within grace period, closing source")
		w.closeSource()
		<-done
	}
	return w.Err()
}

// Done is closed when the loop exits.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Err is non-nil only when the loop exited on a fault.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) update(fn func(*Status)) {
	w.mu.Lock()
	fn(&w.status)
	w.mu.Unlock()
}

func (w *Worker) setSource(src stream.Source) {
	w.mu.Lock()
	w.src = src
	w.mu.Unlock()
}

func (w *Worker) closeSource() {
	w.mu.Lock()
	src := w.src
	w.src = nil
	w.mu.Unlock()
	if src != nil {
		if err := src.Close(); err != nil {
			w.Logger.Debug("source close", zap.Error(err))
		}
	}
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer metrics.SetSourceUp(false)

	var index uint64
	attempt := 0
	for {
		if ctx.Err() != nil {
			w.update(func(s *Status) { s.State = StateStopped })
			return
		}

		src, err := w.Open(ctx)
		if err == nil {
			attempt = 0
			w.setSource(src)
			w.update(func(s *Status) { s.State = StateRunning })
			metrics.SetSourceUp(true)
			w.Logger.Info("frame source connected")

			err = w.consume(ctx, src, &index)
			w.closeSource()
			metrics.SetSourceUp(false)
		}
		if ctx.Err() != nil {
			w.update(func(s *Status) { s.State = StateStopped })
			return
		}

		attempt++
		metrics.SourceReconnectsTotal.Inc()
		w.update(func(s *Status) {
			s.Reconnects++
			s.LastError = err.Error()
		})
		if w.Backoff.Exhausted(attempt) {
			w.fault(err)
			return
		}

		delay := w.Backoff.Delay(attempt)
		w.update(func(s *Status) { s.State = StateRetrying })
		w.Logger.Warn("frame source failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", w.Backoff.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
}

func (w *Worker) fault(cause error) {
	err := fmt.Errorf("%w: retries exhausted: %v", alarms.ErrSourceUnavailable, cause)
	w.mu.Lock()
	w.err = err
	w.status.State = StateFaulted
	w.mu.Unlock()

	w.Logger.Error("frame source faulted", zap.Error(err))
	if w.Hub != nil {
		w.Hub.Publish(events.Event{Kind: events.SourceFault, Fault: err.Error()})
	}
}

// consume reads frames until the source fails or ctx is done.
func (w *Worker) consume(ctx context.Context, src stream.Source, index *uint64) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.step(ctx, src, index); err != nil {
			return err
		}
	}
}

// step handles one frame. A panic after the read is contained to that frame;
// a panic inside the read is reported as a source failure.
func (w *Worker) step(ctx context.Context, src stream.Source, index *uint64) (err error) {
	var frame *stream.Frame
	defer func() {
		if r := recover(); r != nil {
			w.update(func(s *Status) { s.Panics++ })
			w.Logger.Error("frame iteration panic", zap.Uint64("frame_index", *index), zap.Any("panic", r))
			if frame == nil {
				err = fmt.Errorf("%w: read panic: %v", alarms.ErrSourceUnavailable, r)
				return
			}
			err = nil
		}
	}()

	frame, err = src.Next(ctx)
	if err != nil {
		return err
	}
	frame.Index = *index
	*index++

	w.update(func(s *Status) {
		s.FramesDecoded++
		s.LastFrameAt = frame.ReceivedAt
	})
	if w.Hub != nil {
		w.Hub.Publish(events.Event{Kind: events.FrameDecoded, Frame: frame, At: frame.ReceivedAt})
	}

	if !w.Sampler.ShouldProcess(frame.Index) {
		return nil
	}
	metrics.FramesSampledTotal.Inc()
	w.update(func(s *Status) { s.FramesSampled++ })

	cand, ok := w.Detector.Detect(frame.Image)
	if !ok {
		return nil
	}
	queued := w.Ingestor.Submit(*cand, frame)
	w.update(func(s *Status) {
		s.Detections++
		if !queued {
			s.Dropped++
		}
	})
	return nil
}
