// Package loop runs the periodic enforcement pass: every interval it
// enumerates controllable instances, re-reads schedule, pause and power state
// for each, asks the evaluator for a decision, and issues at most one
// corrective power operation per instance.
package loop

import (
	"errors"
	"time"
)

type Config struct {
	Enabled     bool
	Interval    time.Duration
	TickTimeout time.Duration
	CallTimeout time.Duration
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = 2 * time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 20 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	return c
}

// ErrTickInProgress is returned by Tick when a tick is already running.
// The loop is a two-state machine (idle/ticking); overlapping ticks are
// skipped, never stacked.
var ErrTickInProgress = errors.New("tick already in progress")

// TickSummary records one completed tick for the in-memory history ring.
type TickSummary struct {
	Started   time.Time
	Duration  time.Duration
	Instances int
	Starts    int
	Stops     int
	Skipped   int
	Error     string
}
