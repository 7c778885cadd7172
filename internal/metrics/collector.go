package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Probe reports whether a backing component is reachable.
type Probe func(ctx context.Context) error

// CollectorConfig holds the components sampled on each tick.
type CollectorConfig struct {
	Interval time.Duration
	Timeout  time.Duration
	Probes   map[string]Probe
	// Backlog returns the number of unprocessed alarms. Nil skips the gauge.
	Backlog func(ctx context.Context) (int, error)
	Logger  *zap.Logger
}

// Collector periodically snapshots component health and the alarm backlog
// into gauges. Each probe runs with its own timeout so one slow dependency
// cannot hold up the others.
type Collector struct {
	cfg CollectorConfig

	mu           sync.RWMutex
	lastSnapshot time.Time

	up          *prometheus.GaugeVec
	snapshotAge prometheus.GaugeFunc
	backlog     prometheus.Gauge
}

func NewCollector(cfg CollectorConfig, reg prometheus.Registerer) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{cfg: cfg}
	c.up = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "firewatch_component_up",
		Help: "Reachability of backing components (1=up, 0=down)",
	}, []string{"component"})
	c.snapshotAge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "firewatch_metrics_snapshot_age_seconds",
		Help: "Age of the last completed collection pass",
	}, func() float64 {
		last := c.LastSnapshot()
		if last.IsZero() {
			return -1
		}
		return time.Since(last).Seconds()
	})
	c.backlog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "firewatch_alarms_unprocessed",
		Help: "Alarms awaiting an admin decision",
	})
	reg.MustRegister(c.up, c.snapshotAge, c.backlog)
	return c
}

// Start collects once immediately and then every Interval until ctx is done.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			c.Collect(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Collect runs one pass over all probes and the backlog.
func (c *Collector) Collect(ctx context.Context) {
	var wg sync.WaitGroup
	for name, probe := range c.cfg.Probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
			if err := probe(pctx); err != nil {
				c.up.WithLabelValues(name).Set(0)
				c.cfg.Logger.Debug("component probe failed", zap.String("component", name), zap.Error(err))
				return
			}
			c.up.WithLabelValues(name).Set(1)
		}(name, probe)
	}
	wg.Wait()

	if c.cfg.Backlog != nil {
		bctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		n, err := c.cfg.Backlog(bctx)
		cancel()
		if err != nil {
			c.cfg.Logger.Debug("backlog count failed", zap.Error(err))
		} else {
			c.backlog.Set(float64(n))
		}
	}

	c.mu.Lock()
	c.lastSnapshot = time.Now()
	c.mu.Unlock()
}

// LastSnapshot is the completion time of the most recent pass.
func (c *Collector) LastSnapshot() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSnapshot
}
