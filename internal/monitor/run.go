package monitor

import (
	"context"
	"errors"
	"time"

	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	"perfwatch/internal/polling"
	"perfwatch/internal/source"
)

// ErrNotWanted is returned by Start before SetWanted succeeded.
var ErrNotWanted = errors.New("monitor: wanted counters not set")

// Start begins delivering snapshots: pollable sources are polled on the
// monitor interval, pushable ones are subscribed to. Pollable wins when a
// source supports both.
func (m *Monitor) Start(ctx context.Context) error {
	if m.Wanted() == nil {
		return ErrNotWanted
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.loop != nil || m.cancel != nil {
		return polling.ErrRunning
	}

	caps := m.client.Capabilities()
	switch {
	case caps.Has(source.CapPollable):
		poller := m.client.(source.Poller)
		m.loop = polling.New(m.interval, func(ctx context.Context) {
			m.poll(ctx, poller)
		}, m.logger)
		if err := m.loop.Start(ctx); err != nil {
			m.loop = nil
			return err
		}
		m.logger.Info("polling started", "interval", m.interval)
	case caps.Has(source.CapPushable):
		pusher := m.client.(source.Pusher)
		pctx, cancel := context.WithCancel(ctx)
		m.cancel = cancel
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.push(pctx, pusher)
		}()
		m.logger.Info("push subscription started")
	default:
		return perrors.UnsupportedError(m.Name(), "source can neither be polled nor pushed")
	}
	return nil
}

// Stop stops scheduling. A produce already in progress completes.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	loop, cancel := m.loop, m.cancel
	m.loop, m.cancel = nil, nil
	m.runMu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Close stops the monitor, closes all subscriber channels and the client.
func (m *Monitor) Close() error {
	m.Stop()
	m.events.Close()
	if err := m.Disconnect(); err != nil {
		m.logger.Debug("disconnect failed", "error", err)
	}
	return m.client.Close()
}

func (m *Monitor) poll(ctx context.Context, poller source.Poller) {
	if m.NeedsRediscovery() {
		if err := m.Rediscover(ctx); err != nil {
			m.logger.Warn("rediscovery failed, wanted counters no longer offered", "error", err)
			m.publishError(err)
			return
		}
		m.logger.Info("rediscovered counters")
	}

	wanted := m.Wanted()
	if wanted == nil {
		return
	}

	var raw *counters.Entities
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		values, err := poller.Poll(ctx, wanted)
		if err != nil {
			return err
		}
		raw = values
		return nil
	})
	if err != nil {
		m.logger.Warn("poll failed", "error", err)
		m.publishError(err)
		return
	}
	// Produce publishes its own failures.
	_, _ = m.Produce(raw)
}

func (m *Monitor) push(ctx context.Context, pusher source.Pusher) {
	for {
		wanted := m.Wanted()
		sctx, cancel := context.WithCancel(ctx)
		err := pusher.Subscribe(sctx, wanted, func(values *counters.Entities) {
			// A source that changed shape keeps streaming it; end the
			// subscription so the wanted tree is rebuilt.
			if _, err := m.Produce(values); perrors.IsStructuralMismatch(err) {
				cancel()
			}
		})
		cancel()
		if ctx.Err() != nil {
			return
		}
		if m.NeedsRediscovery() {
			m.logger.Info("push stream reset after structural mismatch")
		} else {
			m.logger.Warn("push stream ended", "error", err)
			m.publishError(perrors.NetworkError("push stream ended", err))
		}

		delay := m.retry.Delay
		if delay <= 0 {
			delay = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := m.reconnect(ctx); err != nil {
			m.logger.Warn("reconnect failed", "error", err)
			continue
		}
		if m.NeedsRediscovery() {
			if err := m.Rediscover(ctx); err != nil {
				m.logger.Warn("rediscovery failed", "error", err)
			}
		}
	}
}

func (m *Monitor) reconnect(ctx context.Context) error {
	if !m.client.Capabilities().Has(source.CapConnected) {
		return nil
	}
	_ = m.Disconnect()
	return m.Connect(ctx)
}

func (m *Monitor) publishError(err error) {
	m.failed.Add(1)
	m.events.Publish(Event{Source: m.Name(), Session: m.Session(), Time: m.now(), Err: err})
}
