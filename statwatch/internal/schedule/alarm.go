package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAlarmsClosed is returned by Create after Close.
var ErrAlarmsClosed = errors.New("schedule: alarms closed")

// Alarms holds named recurring triggers. Creating an alarm under a name
// already in use replaces it, so at most one trigger exists per name.
type Alarms struct {
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	alarms map[string]*alarm
	wg     sync.WaitGroup
}

type alarm struct {
	period time.Duration
	stop   context.CancelFunc
}

// NewAlarms creates an empty set. Triggers stop when ctx is cancelled or
// Close is called.
func NewAlarms(ctx context.Context) *Alarms {
	ctx, cancel := context.WithCancel(ctx)
	return &Alarms{ctx: ctx, cancel: cancel, alarms: make(map[string]*alarm)}
}

// Create starts a trigger that calls fire every period, the first call one
// period from now. An existing alarm with the same name is replaced. On
// error the existing alarm is left running.
func (a *Alarms) Create(name string, period time.Duration, fire func(ctx context.Context)) error {
	if period <= 0 {
		return fmt.Errorf("schedule: alarm %q: invalid period %v", name, period)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx.Err() != nil {
		return ErrAlarmsClosed
	}
	if old, ok := a.alarms[name]; ok {
		old.stop()
	}

	ctx, stop := context.WithCancel(a.ctx)
	a.alarms[name] = &alarm{period: period, stop: stop}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fire(ctx)
			}
		}
	}()
	return nil
}

// Clear stops the named alarm. It reports whether one existed.
func (a *Alarms) Clear(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	old, ok := a.alarms[name]
	if !ok {
		return false
	}
	old.stop()
	delete(a.alarms, name)
	return true
}

// Get returns the period of the named alarm.
func (a *Alarms) Get(name string) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	old, ok := a.alarms[name]
	if !ok {
		return 0, false
	}
	return old.period, true
}

// Count returns the number of live alarms.
func (a *Alarms) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alarms)
}

// Close stops every alarm and waits for in-flight triggers to return.
func (a *Alarms) Close() {
	a.mu.Lock()
	a.cancel()
	a.alarms = make(map[string]*alarm)
	a.mu.Unlock()
	a.wg.Wait()
}
