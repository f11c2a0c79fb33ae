package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"perfwatch/internal/broadcast"
	"perfwatch/internal/counters"
	"perfwatch/internal/resilience"
	"perfwatch/internal/source"
)

// HostConfig sets defaults applied to every monitor a Host creates.
type HostConfig struct {
	PollInterval    time.Duration
	Timeout         time.Duration
	EventBuffer     int
	ShutdownTimeout time.Duration
	Retry           resilience.RetryPolicy
}

// Target describes one source the host should watch. Wanted lists
// slash separated counter paths; empty means everything available.
type Target struct {
	Spec   source.Spec
	Wanted []string
}

// Host runs one monitor per configured source and merges their events.
type Host struct {
	registry   *source.Registry
	config     HostConfig
	logger     *slog.Logger
	baseLogger *slog.Logger
	events     *broadcast.Broadcaster[Event]

	mu       sync.RWMutex
	monitors map[string]*Monitor
	forward  sync.WaitGroup
	stopOnce sync.Once
}

// NewHost creates a host that builds clients from registry.
func NewHost(registry *source.Registry, config HostConfig, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.Retry.Attempts <= 0 {
		config.Retry = resilience.DefaultRetryPolicy()
	}
	return &Host{
		registry:   registry,
		config:     config,
		logger:     logger.With("component", "host"),
		baseLogger: logger,
		events:     broadcast.New[Event](),
		monitors:   make(map[string]*Monitor),
	}
}

// Add builds, connects and configures a monitor for target. The monitor
// is not started.
func (h *Host) Add(ctx context.Context, target Target) (*Monitor, error) {
	spec := target.Spec
	h.mu.RLock()
	_, exists := h.monitors[spec.Name]
	h.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("source %s already added", spec.Name)
	}

	client, err := h.registry.New(spec, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create source %s: %w", spec.Name, err)
	}

	interval := spec.Interval
	if interval <= 0 {
		interval = h.config.PollInterval
	}
	m := New(client,
		WithLogger(h.baseLogger),
		WithInterval(interval),
		WithTimeout(spec.TimeoutOr(h.config.Timeout)),
		WithRetryPolicy(h.config.Retry),
	)

	if err := h.configure(ctx, m, target.Wanted); err != nil {
		_ = m.Close()
		return nil, err
	}

	// Another Add for the same name may have finished while this one was
	// configuring.
	h.mu.Lock()
	if _, exists := h.monitors[spec.Name]; exists {
		h.mu.Unlock()
		_ = m.Close()
		return nil, fmt.Errorf("source %s already added", spec.Name)
	}
	h.monitors[spec.Name] = m
	h.mu.Unlock()

	sub := m.Subscribe(h.config.EventBuffer)
	h.forward.Add(1)
	go func() {
		defer h.forward.Done()
		for ev := range sub.C {
			h.events.Publish(ev)
		}
	}()

	h.logger.Info("source added",
		"source", spec.Name,
		"type", spec.Type,
		"capabilities", client.Capabilities().String(),
		"interval", interval)
	return m, nil
}

func (h *Host) configure(ctx context.Context, m *Monitor, paths []string) error {
	if err := m.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect %s: %w", m.Name(), err)
	}
	available, err := m.Available(ctx)
	if err != nil {
		return fmt.Errorf("failed to discover %s: %w", m.Name(), err)
	}

	var wanted *counters.Entities
	if len(paths) == 0 {
		wanted, err = counters.AllWanted(available)
	} else {
		wanted, err = counters.Select(available, paths...)
	}
	if err != nil {
		return fmt.Errorf("failed to select counters for %s: %w", m.Name(), err)
	}
	if err := m.SetWanted(ctx, wanted); err != nil {
		return fmt.Errorf("failed to set wanted counters for %s: %w", m.Name(), err)
	}
	return nil
}

// Monitor returns the monitor for a source name, or nil.
func (h *Host) Monitor(name string) *Monitor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.monitors[name]
}

// Monitors returns all monitors sorted by source name.
func (h *Host) Monitors() []*Monitor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Monitor, 0, len(h.monitors))
	for _, m := range h.monitors {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Events subscribes to the merged event stream of every monitor.
func (h *Host) Events(buffer int) *broadcast.Subscription[Event] {
	return h.events.Subscribe(buffer)
}

// Start starts every monitor. A monitor that fails to start is logged and
// skipped; the error lists all failures.
func (h *Host) Start(ctx context.Context) error {
	var errs []error
	for _, m := range h.Monitors() {
		if err := m.Start(ctx); err != nil {
			h.logger.Error("failed to start monitor", "source", m.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Run starts every monitor and blocks until ctx is done, then shuts down
// within the configured timeout.
func (h *Host) Run(ctx context.Context) error {
	if len(h.Monitors()) == 0 {
		return errors.New("no sources to monitor")
	}
	if err := h.Start(ctx); err != nil {
		h.logger.Warn("some monitors failed to start", "error", err)
	}
	h.logger.Info("host running", "sources", len(h.Monitors()))
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.config.ShutdownTimeout)
	defer cancel()
	return h.Shutdown(shutdownCtx)
}

// Shutdown stops and closes every monitor in parallel. It returns early with
// ctx's error if the monitors do not finish in time.
func (h *Host) Shutdown(ctx context.Context) error {
	h.logger.Info("shutting down host")

	monitors := h.Monitors()
	errCh := make(chan error, len(monitors))
	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m *Monitor) {
			defer wg.Done()
			if err := m.Close(); err != nil {
				errCh <- fmt.Errorf("%s: %w", m.Name(), err)
			}
		}(m)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		h.forward.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("host shutdown timed out: %w", ctx.Err())
	}

	h.stopOnce.Do(h.events.Close)
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	h.logger.Info("host shutdown completed")
	return nil
}

// Status reports per-source stats and health.
func (h *Host) Status(ctx context.Context) map[string]any {
	status := make(map[string]any)
	for _, m := range h.Monitors() {
		entry := map[string]any{
			"type":         m.Client().Type(),
			"capabilities": m.Client().Capabilities().String(),
			"stats":        m.Stats(),
			"health":       "healthy",
		}
		if hc, ok := m.Client().(source.HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				entry["health"] = fmt.Sprintf("error: %v", err)
			}
		} else if !m.breaker.IsHealthy() {
			entry["health"] = "degraded"
		}
		status[m.Name()] = entry
	}
	return status
}
