// Package polling runs a function on a fixed interval without ever letting
// two calls overlap.
package polling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRunning is returned by Start on a loop that is already running.
var ErrRunning = errors.New("polling loop already running")

// Loop calls Fn every Interval. The first call happens as soon as the loop
// starts. A tick that arrives while Fn is still running is skipped.
type Loop struct {
	Interval time.Duration
	Fn       func(ctx context.Context)
	Logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	busy    atomic.Bool
	calls   atomic.Int64
	skipped atomic.Int64
	inCall  sync.WaitGroup
}

// New returns a loop that calls fn every interval.
func New(interval time.Duration, fn func(ctx context.Context), logger *slog.Logger) *Loop {
	return &Loop{Interval: interval, Fn: fn, Logger: logger}
}

// Start launches the loop and returns immediately. Calls receive ctx.
func (l *Loop) Start(ctx context.Context) error {
	if l.Interval <= 0 {
		return errors.New("polling interval must be positive")
	}
	if l.Fn == nil {
		return errors.New("polling function is nil")
	}
	if l.Logger == nil {
		l.Logger = slog.Default()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(loopCtx, ctx, l.done)
	return nil
}

// run schedules on loopCtx while calls receive callCtx, so Stop ends the
// schedule without cancelling a call in progress.
func (l *Loop) run(loopCtx, callCtx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	l.tick(callCtx)
	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			l.tick(callCtx)
		}
	}
}

// tick dispatches Fn unless the previous call is still running.
func (l *Loop) tick(ctx context.Context) {
	if !l.busy.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		l.Logger.Debug("skipping poll, previous call still running")
		return
	}
	l.inCall.Add(1)
	go func() {
		defer l.inCall.Done()
		defer l.busy.Store(false)
		l.calls.Add(1)
		l.Fn(ctx)
	}()
}

// Stop stops scheduling and waits for an in-flight call to return.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.inCall.Wait()
}

// Running reports whether the loop has been started and not stopped.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Stats returns how many calls were made and how many ticks were skipped.
func (l *Loop) Stats() (calls, skipped int64) {
	return l.calls.Load(), l.skipped.Load()
}
