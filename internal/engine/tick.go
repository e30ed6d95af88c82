// Package engine provides the experiment loop: it starts agents, opens
// negotiations and polls the log until every negotiation has closed.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned by Engine.Run when the deadline passes before the
// run completes.
var ErrTimeout = errors.New("timed out waiting for negotiations")

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTimeout      = 30 * time.Second
)

// Engine polls a completion check at a fixed interval.
type Engine struct {
	Tick     uint64        // polls performed, read it after Run returns
	Interval time.Duration // time between polls
	Timeout  time.Duration // 0 waits until ctx is done

	// OnTick runs on every poll and reports whether the run is complete.
	OnTick func(tick uint64) bool

	running atomic.Bool
}

// NewEngine creates an engine with the default poll interval and timeout.
func NewEngine() *Engine {
	return &Engine{
		Interval: DefaultPollInterval,
		Timeout:  DefaultTimeout,
	}
}

// Run polls until OnTick reports completion or Stop is called, returning
// nil. It returns ErrTimeout when Timeout passes first and ctx.Err() when ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.Timeout, ErrTimeout)
		defer cancel()
	}
	interval := e.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	e.running.Store(true)
	defer e.running.Store(false)
	slog.Debug("engine started", "interval", interval, "timeout", e.Timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if e.step() || !e.running.Load() {
			slog.Debug("engine stopped", "tick", e.Tick)
			return nil
		}
		select {
		case <-ctx.Done():
			slog.Debug("engine stopped", "tick", e.Tick, "cause", context.Cause(ctx))
			return context.Cause(ctx)
		case <-ticker.C:
		}
	}
}

// Stop makes a running loop return at its next poll.
func (e *Engine) Stop() {
	e.running.Store(false)
}

func (e *Engine) step() bool {
	e.Tick++
	return e.OnTick != nil && e.OnTick(e.Tick)
}
