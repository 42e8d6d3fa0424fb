// Package schedule drives collection cycles. A recurring alarm opens a
// visit on the dashboard, injects the extraction script after a load delay
// and tears the visit down after a grace delay, whether or not the script
// delivered anything. Delivered records and interval changes arrive on the
// message channel and are dispatched by variant.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hazyhaar/kworkstat/statwatch/internal/diag"
	"github.com/hazyhaar/kworkstat/statwatch/internal/message"
	"github.com/hazyhaar/kworkstat/statwatch/internal/metric"
	"github.com/hazyhaar/kworkstat/statwatch/internal/visit"
)

// AlarmName is the name of the collection alarm.
const AlarmName = "fetchMetrics"

// DefaultURL is the seller dashboard.
const DefaultURL = "https://kwork.ru/manage_kworks"

// Storage is what the scheduler needs from the store.
type Storage interface {
	GetConfig(ctx context.Context) (metric.Config, error)
	SetConfig(ctx context.Context, c metric.Config) error
	AppendRecord(ctx context.Context, r metric.Record) (time.Time, error)
}

// Config configures the scheduler.
type Config struct {
	// URL is the page each cycle visits. Default: DefaultURL.
	URL string
	// LoadDelay separates opening the visit from injecting the script.
	// Default: 3s.
	LoadDelay time.Duration
	// GraceDelay separates injection from teardown. Default: 5s.
	GraceDelay time.Duration
	// IntervalUnit is the length of one configured interval unit.
	// Default: time.Minute.
	IntervalUnit time.Duration
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.LoadDelay <= 0 {
		c.LoadDelay = 3 * time.Second
	}
	if c.GraceDelay <= 0 {
		c.GraceDelay = 5 * time.Second
	}
	if c.IntervalUnit <= 0 {
		c.IntervalUnit = time.Minute
	}
}

// Scheduler owns the collection alarm and the dispatch loop.
type Scheduler struct {
	cfg     Config
	host    visit.Host
	store   Storage
	channel *message.Channel
	script  visit.Script
	diag    *diag.Logger
	logger  *slog.Logger

	mu     sync.Mutex
	alarms *Alarms
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// New creates a Scheduler. script is injected into every visit.
func New(host visit.Host, store Storage, ch *message.Channel, script visit.Script, dlog *diag.Logger, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg,
		host:    host,
		store:   store,
		channel: ch,
		script:  script,
		diag:    dlog,
		logger:  logger,
	}
}

// Start reads the persisted interval, installs the collection alarm and
// starts the dispatch loop. A config read failure falls back to the default
// interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alarms != nil || s.closed {
		return fmt.Errorf("schedule: already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.ctx, s.cancel = ctx, cancel
	s.alarms = NewAlarms(ctx)

	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		s.logger.Warn("schedule: read config, using default", "error", err)
		cfg = metric.Config{}
	}
	cfg = cfg.Normalize()

	if err := s.arm(ctx, cfg); err != nil {
		cancel()
		s.alarms.Close()
		s.alarms, s.ctx, s.cancel = nil, nil, nil
		return err
	}
	s.diag.Log(ctx, "Auto-collect set to "+formatMinutes(cfg.IntervalMinutes)+" minutes")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatch(ctx)
	}()
	return nil
}

// Close stops the alarm and the dispatch loop, tears down pending visits
// and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	cancel, alarms := s.cancel, s.alarms
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if alarms != nil {
		alarms.Close()
	}
	s.wg.Wait()
}

// Alarms exposes the alarm set. Nil before Start.
func (s *Scheduler) Alarms() *Alarms {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarms
}

// Collect runs one cycle now, through the same path as the alarm. ctx
// bounds opening the visit only: it returns once the visit is open and
// the timed injection and teardown continue under the scheduler.
func (s *Scheduler) Collect(ctx context.Context) error {
	s.mu.Lock()
	run := s.ctx
	s.mu.Unlock()
	if run == nil {
		return fmt.Errorf("schedule: not started")
	}
	return s.cycle(ctx, run)
}

// arm replaces the collection alarm with one firing at cfg's period. The
// alarm's own context only stops its ticker: cycles open and run under ctx,
// so replacing the alarm does not cancel a visit being opened or in flight.
// On error the previous alarm stays active.
func (s *Scheduler) arm(ctx context.Context, cfg metric.Config) error {
	err := s.alarms.Create(AlarmName, cfg.Period(s.cfg.IntervalUnit), func(context.Context) {
		if err := s.cycle(ctx, ctx); err != nil {
			s.logger.Warn("schedule: cycle failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule: arm: %w", err)
	}
	return nil
}

// cycle is Idle -> VisitCreated -> ExtractionInjected -> VisitTornDown.
// The script's outcome is never awaited.
func (s *Scheduler) cycle(openCtx, ctx context.Context) error {
	cyclesTotal.Inc()
	s.diag.Log(ctx, "Auto-collecting metrics...")

	v, err := s.host.Open(openCtx, s.cfg.URL)
	if err != nil {
		visitFailures.Inc()
		s.diag.Logf(ctx, "Visit failed: %v", err)
		return fmt.Errorf("schedule: open visit: %w", err)
	}
	s.logger.Debug("schedule: visit created", "visit", v.ID(), "url", s.cfg.URL)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		v.Close()
		return fmt.Errorf("schedule: closed")
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		defer func() {
			if err := v.Close(); err != nil {
				s.logger.Warn("schedule: close visit", "visit", v.ID(), "error", err)
			}
			s.logger.Debug("schedule: visit torn down", "visit", v.ID())
		}()

		if !sleep(ctx, s.cfg.LoadDelay) {
			return
		}
		v.Inject(ctx, s.script)
		s.logger.Debug("schedule: extraction injected", "visit", v.ID())
		sleep(ctx, s.cfg.GraceDelay)
	}()
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.channel.Receive():
			s.handle(ctx, m)
		}
	}
}

// handle reacts to m by variant only.
func (s *Scheduler) handle(ctx context.Context, m message.Message) {
	switch v := m.(type) {
	case message.MetricsDelivered:
		if _, err := s.store.AppendRecord(ctx, v.Record); err != nil {
			s.logger.Error("schedule: save record", "error", err)
			s.diag.Logf(ctx, "Save failed: %v", err)
			return
		}
		recordsStored.Inc()
		s.diag.Log(ctx, "Metrics saved: "+v.Record.String())

	case message.IntervalUpdateRequested:
		cfg := metric.Config{IntervalMinutes: v.Interval}.Normalize()
		if err := s.arm(ctx, cfg); err != nil {
			s.logger.Error("schedule: interval update", "error", err)
			s.diag.Logf(ctx, "Interval update failed: %v", err)
			return
		}
		if err := s.store.SetConfig(ctx, cfg); err != nil {
			s.logger.Error("schedule: save config", "error", err)
		}
		intervalChanges.Inc()
		s.diag.Log(ctx, "Interval updated to "+formatMinutes(cfg.IntervalMinutes)+" minutes")

	default:
		s.logger.Warn("schedule: unknown message", "type", fmt.Sprintf("%T", m))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func formatMinutes(m float64) string {
	return strconv.FormatFloat(m, 'f', -1, 64)
}
