// Package metric holds the data model shared by the extractor, the store and
// the scheduler: one Record per collection cycle, the ordered History, and
// the persisted collection Config.
package metric

import (
	"fmt"
	"math"
	"time"
)

// NoCompetition is the competition label used when nothing was extracted.
const NoCompetition = "N/A"

// DefaultIntervalMinutes is the collection period used when none is configured.
const DefaultIntervalMinutes = 1

// Interval bounds. Anything outside falls back to DefaultIntervalMinutes:
// the lower bound is one second, the upper one the largest interval a
// time.Duration can hold.
const (
	MinIntervalMinutes = 1.0 / 60
	MaxIntervalMinutes = float64(math.MaxInt64) / float64(time.Minute)
)

// Record is one observation of the dashboard. Every field is always set:
// extraction misses fall back to zero values and NoCompetition.
type Record struct {
	Date        time.Time `json:"date"`
	Views       int64     `json:"views"`
	Sales       int64     `json:"sales"`
	Earned      int64     `json:"earned"`
	Competition string    `json:"competition"`
}

// NewRecord returns a record stamped at t (UTC) with every field defaulted.
func NewRecord(t time.Time) Record {
	return Record{Date: t.UTC(), Competition: NoCompetition}
}

// String renders the record the way it appears in the diagnostic log.
func (r Record) String() string {
	return fmt.Sprintf(`{"date":%q,"views":%d,"sales":%d,"earned":%d,"competition":%q}`,
		r.Date.Format(time.RFC3339Nano), r.Views, r.Sales, r.Earned, r.Competition)
}

// History is the insertion-ordered sequence of records, oldest first.
type History []Record

// Latest returns the most recent record, if any.
func (h History) Latest() (Record, bool) {
	if len(h) == 0 {
		return Record{}, false
	}
	return h[len(h)-1], true
}

// Config controls how often a collection cycle runs.
type Config struct {
	IntervalMinutes float64 `json:"intervalMinutes"`
}

// Normalize replaces a missing, non-finite or out-of-range interval with
// the default.
func (c Config) Normalize() Config {
	m := c.IntervalMinutes
	if math.IsNaN(m) || m < MinIntervalMinutes || m >= MaxIntervalMinutes {
		c.IntervalMinutes = DefaultIntervalMinutes
	}
	return c
}

// Period converts the interval to a duration, scaled by unit (normally
// time.Minute). A product that does not fit a positive duration gives the
// default period.
func (c Config) Period(unit time.Duration) time.Duration {
	p := c.Normalize().IntervalMinutes * float64(unit)
	if p < 1 || p >= float64(math.MaxInt64) {
		return DefaultIntervalMinutes * unit
	}
	return time.Duration(p)
}
