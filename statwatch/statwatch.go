// Package statwatch collects the seller metrics shown on the kwork
// dashboard (views, sales, earnings, competition) on a recurring schedule
// and keeps an append-only history of them.
//
// Each cycle opens an isolated visit on the dashboard, injects an extraction
// script that reads the rendered page through a cascade of lookup
// strategies, and tears the visit down on a fixed timer. Records reach the
// store through a one-way message channel.
//
//	c, _ := statwatch.New(cfg, logger)
//	c.Start(ctx)
//	defer c.Close()
package statwatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/kworkstat/statwatch/internal/diag"
	"github.com/hazyhaar/kworkstat/statwatch/internal/extract"
	"github.com/hazyhaar/kworkstat/statwatch/internal/message"
	"github.com/hazyhaar/kworkstat/statwatch/internal/metric"
	"github.com/hazyhaar/kworkstat/statwatch/internal/schedule"
	"github.com/hazyhaar/kworkstat/statwatch/internal/store"
	"github.com/hazyhaar/kworkstat/statwatch/internal/visit"
	"github.com/hazyhaar/kworkstat/watch"
)

// Re-exported data model.
type (
	Record   = metric.Record
	History  = metric.History
	LogEntry = store.LogEntry
)

// Snapshot is the stored history with its last-updated stamp.
type Snapshot struct {
	Metrics     History    `json:"metrics"`
	LastUpdated *time.Time `json:"lastUpdated"`
}

// Collector wires the store, the visit host, the extractor and the
// scheduler together.
type Collector struct {
	cfg     *Config
	logger  *slog.Logger
	store   *store.Store
	host    visit.Host
	channel *message.Channel
	diag    *diag.Logger
	sched   *schedule.Scheduler
	unit    time.Duration

	ownStore bool
	ownHost  bool
}

// Option configures a Collector.
type Option func(*Collector)

// WithStore uses an already-open store. The caller keeps ownership.
func WithStore(st *store.Store) Option {
	return func(c *Collector) { c.store = st }
}

// WithHost uses host for visits instead of the configured one. The caller
// keeps ownership.
func WithHost(h visit.Host) Option {
	return func(c *Collector) { c.host = h }
}

// WithIntervalUnit scales the configured interval (tests).
func WithIntervalUnit(d time.Duration) Option {
	return func(c *Collector) { c.unit = d }
}

// New creates a Collector. Nothing runs until Start.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Collector, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Collector{cfg: cfg, logger: logger, unit: time.Minute}
	for _, o := range opts {
		o(c)
	}

	if c.store == nil {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("statwatch: open store: %w", err)
		}
		c.store = st
		c.ownStore = true
	}
	if c.host == nil {
		c.host = newHost(cfg, logger)
		c.ownHost = true
	}

	c.channel = message.NewChannel(cfg.Collector.ChannelBuffer, logger)
	c.diag = diag.New(c.store, logger)

	script := extract.New().Script(extract.ScriptConfig{
		RenderDelay: cfg.Collector.RenderDelay,
		Diag:        c.diag,
		Channel:     c.channel,
		OnResult:    schedule.ObserveExtraction,
	})
	c.sched = schedule.New(c.host, c.store, c.channel, script, c.diag, schedule.Config{
		URL:          cfg.DashboardURL,
		LoadDelay:    cfg.Collector.LoadDelay,
		GraceDelay:   cfg.Collector.GraceDelay,
		IntervalUnit: c.unit,
	}, logger)
	return c, nil
}

func newHost(cfg *Config, logger *slog.Logger) visit.Host {
	if cfg.Browser.Mode == ModeHTTP {
		return visit.NewHTTPHost(visit.WithHTTPLogger(logger))
	}
	return visit.NewRodHost(visit.RodConfig{
		RemoteURL:        cfg.Browser.Remote,
		Stealth:          *cfg.Browser.Stealth,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		NavTimeout:       cfg.Browser.NavTimeout,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		Logger:           logger,
	})
}

// Start seeds the configured default interval on first run and starts the
// scheduler.
func (c *Collector) Start(ctx context.Context) error {
	if iv := c.cfg.Collector.DefaultInterval; iv > 0 {
		ver, err := c.store.ConfigVersion(ctx, c.store.DB)
		if err != nil {
			return fmt.Errorf("statwatch: read config version: %w", err)
		}
		if ver == 0 {
			if err := c.store.SetConfig(ctx, metric.Config{IntervalMinutes: iv}); err != nil {
				return fmt.Errorf("statwatch: seed interval: %w", err)
			}
		}
	}
	if err := c.sched.Start(ctx); err != nil {
		return fmt.Errorf("statwatch: start: %w", err)
	}
	c.logger.Info("statwatch: started", "url", c.cfg.DashboardURL, "mode", c.cfg.Browser.Mode)
	return nil
}

// Watch blocks until ctx is cancelled, forwarding interval changes written
// to the store by other processes to the running scheduler.
func (c *Collector) Watch(ctx context.Context) {
	w := watch.New(c.store.DB, watch.Options{
		Interval: c.cfg.Watch.Interval,
		Detector: c.store.ConfigVersion,
		Logger:   c.logger,
	})
	w.OnChange(ctx, c.syncInterval)
}

// syncInterval sends an interval update when the stored interval differs
// from the active alarm.
func (c *Collector) syncInterval(ctx context.Context) error {
	cfg, err := c.store.GetConfig(ctx)
	if err != nil {
		return err
	}
	alarms := c.sched.Alarms()
	if alarms == nil {
		return nil
	}
	if p, ok := alarms.Get(schedule.AlarmName); ok && p == cfg.Period(c.unit) {
		return nil
	}
	if !c.channel.Send(message.IntervalUpdateRequested{Interval: cfg.IntervalMinutes}) {
		return fmt.Errorf("statwatch: channel full")
	}
	return nil
}

// Close stops the scheduler and releases what the collector opened.
func (c *Collector) Close() error {
	c.sched.Close()
	var firstErr error
	if c.ownHost {
		if err := c.host.Close(); err != nil {
			firstErr = err
		}
	}
	if c.ownStore {
		if err := c.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Collect runs one cycle now.
func (c *Collector) Collect(ctx context.Context) error {
	return c.sched.Collect(ctx)
}

// CollectOnce starts the scheduler, runs a single cycle and waits until
// its record is stored or the visit's teardown has passed. It reports
// whether a record arrived.
func (c *Collector) CollectOnce(ctx context.Context) (bool, error) {
	before, _, err := c.store.LastUpdated(ctx)
	if err != nil {
		return false, err
	}
	if err := c.Start(ctx); err != nil {
		return false, err
	}
	if err := c.Collect(ctx); err != nil {
		return false, err
	}

	deadline := time.NewTimer(c.cfg.Collector.LoadDelay + c.cfg.Collector.GraceDelay + time.Second)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-tick.C:
			t, ok, err := c.store.LastUpdated(ctx)
			if err != nil {
				return false, err
			}
			if ok && t.After(before) {
				return true, nil
			}
		}
	}
}

// Snapshot returns the history and its last-updated stamp.
func (c *Collector) Snapshot(ctx context.Context) (Snapshot, error) {
	h, err := c.store.GetHistory(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Metrics: h}
	t, ok, err := c.store.LastUpdated(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if ok {
		snap.LastUpdated = &t
	}
	return snap, nil
}

// Interval returns the stored collection interval in minutes.
func (c *Collector) Interval(ctx context.Context) (float64, error) {
	cfg, err := c.store.GetConfig(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.IntervalMinutes, nil
}

// SetInterval asks the running scheduler to change the interval. Before
// Start it writes the config directly.
func (c *Collector) SetInterval(ctx context.Context, minutes float64) error {
	if c.sched.Alarms() == nil {
		return c.store.SetConfig(ctx, metric.Config{IntervalMinutes: minutes})
	}
	if !c.channel.Send(message.IntervalUpdateRequested{Interval: minutes}) {
		return fmt.Errorf("statwatch: channel full")
	}
	return nil
}

// Logs returns the diagnostic log, oldest first.
func (c *Collector) Logs(ctx context.Context) ([]LogEntry, error) {
	return c.store.Logs(ctx)
}

// ExportLogs renders the diagnostic log as a plain-text file.
func (c *Collector) ExportLogs(ctx context.Context) (filename, body string, err error) {
	entries, err := c.store.Logs(ctx)
	if err != nil {
		return "", "", err
	}
	return diag.Filename(time.Now()), diag.Render(entries), nil
}

// ClearLogs empties the diagnostic log.
func (c *Collector) ClearLogs(ctx context.Context) error {
	return c.store.ClearLogs(ctx)
}
