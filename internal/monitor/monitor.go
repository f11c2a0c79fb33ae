// Package monitor turns a source client into a stream of validated counter
// snapshots. One Monitor watches one source; a Host runs many.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"perfwatch/internal/broadcast"
	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	"perfwatch/internal/polling"
	"perfwatch/internal/resilience"
	"perfwatch/internal/source"
)

const (
	defaultInterval = 10 * time.Second
	defaultTimeout  = 10 * time.Second
)

// Event is published to subscribers after every produce attempt.
type Event struct {
	Source  string
	Session uuid.UUID
	Time    time.Time

	// Snapshot and Values are set on success. Snapshot must not be modified.
	Snapshot *counters.Entities
	Values   []string
	Warnings []string

	Err error
}

// Stats summarizes a monitor's activity.
type Stats struct {
	Produced        int64
	Failed          int64
	MissingValues   int64
	NeedsRediscover bool
	Breaker         resilience.CircuitBreakerStats
}

// Monitor owns the discovery cache, the wanted tree and the snapshot
// buffers for one source. The front buffer is the last good snapshot; a
// produce builds the back buffer from it and swaps only on success.
type Monitor struct {
	client   source.Client
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	retry    resilience.RetryPolicy
	breaker  *resilience.CircuitBreaker
	now      func() time.Time
	events   *broadcast.Broadcaster[Event]

	mu          sync.Mutex
	session     uuid.UUID
	available   *counters.Entities
	wanted      *counters.Entities
	front       *counters.Entities
	hasSnapshot bool
	rediscover  bool

	// produceMu keeps a single merge in flight.
	produceMu sync.Mutex

	runMu  sync.Mutex
	loop   *polling.Loop
	cancel context.CancelFunc
	wg     sync.WaitGroup

	produced atomic.Int64
	failed   atomic.Int64
	missing  atomic.Int64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTimeout bounds each Discover and Poll call.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithRetryPolicy sets the policy used for Connect and push resubscription.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(m *Monitor) { m.retry = p }
}

// WithCircuitBreaker replaces the default poll circuit breaker.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(m *Monitor) { m.breaker = resilience.NewCircuitBreaker(cfg) }
}

// WithClock overrides the time source used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New wraps client in a monitor.
func New(client source.Client, opts ...Option) *Monitor {
	m := &Monitor{
		client:   client,
		logger:   slog.Default(),
		interval: defaultInterval,
		timeout:  defaultTimeout,
		retry:    resilience.DefaultRetryPolicy(),
		now:      time.Now,
		events:   broadcast.New[Event](),
		session:  uuid.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "monitor", "source", client.Name())
	if m.breaker == nil {
		cfg := resilience.DefaultCircuitBreakerConfig(client.Name())
		cfg.Timeout = m.timeout
		cfg.Logger = m.logger
		m.breaker = resilience.NewCircuitBreaker(cfg)
	}
	return m
}

// Name returns the source name.
func (m *Monitor) Name() string { return m.client.Name() }

// Client returns the wrapped client.
func (m *Monitor) Client() source.Client { return m.client }

// Session identifies the current connection. It changes on every Connect.
func (m *Monitor) Session() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Connect opens the client connection for Connected sources, retrying
// transient failures. The discovery cache is dropped.
func (m *Monitor) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.available = nil
	m.session = uuid.New()
	session := m.session
	m.mu.Unlock()

	conn, ok := m.client.(source.Connector)
	if !ok || !m.client.Capabilities().Has(source.CapConnected) {
		return nil
	}
	err := resilience.RetryWithPolicy(ctx, m.retry, func() error {
		return conn.Connect(ctx)
	})
	if err != nil {
		return perrors.WrapError(err, perrors.ErrTypeNetwork, m.Name())
	}
	m.logger.Info("connected", "session", session)
	return nil
}

// Disconnect closes the client connection for Connected sources.
func (m *Monitor) Disconnect() error {
	conn, ok := m.client.(source.Connector)
	if !ok {
		return nil
	}
	return conn.Disconnect()
}

// Available returns what the source offers. The catalog is fetched once
// per connection and cached.
func (m *Monitor) Available(ctx context.Context) (*counters.Entities, error) {
	m.mu.Lock()
	cached := m.available
	m.mu.Unlock()
	if cached != nil {
		return cached.Clone(), nil
	}

	dctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	available, err := m.client.Discover(dctx)
	if err != nil {
		return nil, err
	}
	if available == nil {
		return nil, perrors.ProtocolError(m.Name(), "discovery returned no tree", nil)
	}
	if path, dup := available.DuplicatePath(); dup {
		return nil, perrors.MalformedTree(fmt.Sprintf("source %s offers duplicate counter %s", m.Name(), path), path)
	}

	available = available.Shape()
	m.mu.Lock()
	m.available = available
	m.mu.Unlock()
	m.logger.Debug("discovered counters", "entities", len(available.Subs), "nodes", available.NodeCount())
	return available.Clone(), nil
}

// SetWanted validates wanted against the catalog and makes it the template
// for every following snapshot. The previous snapshot is discarded.
func (m *Monitor) SetWanted(ctx context.Context, wanted *counters.Entities) error {
	available, err := m.Available(ctx)
	if err != nil {
		return err
	}
	if err := counters.ValidateWanted(wanted, available); err != nil {
		return err
	}

	shape := wanted.Shape()
	m.mu.Lock()
	m.wanted = shape
	m.front = shape.Clone()
	m.hasSnapshot = false
	m.rediscover = false
	m.mu.Unlock()
	m.logger.Info("wanted counters set", "entities", len(shape.Subs), "nodes", shape.NodeCount())
	return nil
}

// Wanted returns a copy of the current wanted tree, or nil.
func (m *Monitor) Wanted() *counters.Entities {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wanted == nil {
		return nil
	}
	return m.wanted.Clone()
}

// Snapshot returns the last good snapshot, or nil before the first one.
// The returned tree is shared and must not be modified.
func (m *Monitor) Snapshot() *counters.Entities {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSnapshot {
		return nil
	}
	return m.front
}

// Values returns the deepest values of the last good snapshot.
func (m *Monitor) Values() []string {
	snap := m.Snapshot()
	if snap == nil {
		return nil
	}
	return snap.DeepestValues()
}

// Produce validates raw against the wanted tree and, if it conforms, merges
// it into a fresh buffer, stamps it and publishes it. On failure the last
// good snapshot is kept and the error is published.
func (m *Monitor) Produce(raw *counters.Entities) (*counters.Entities, error) {
	m.produceMu.Lock()
	defer m.produceMu.Unlock()

	m.mu.Lock()
	wanted, front, session := m.wanted, m.front, m.session
	m.mu.Unlock()

	if wanted == nil {
		err := perrors.MalformedTree("no wanted counters set", "")
		m.fail(session, err)
		return nil, err
	}

	result, err := counters.ValidateCounters(raw, wanted)
	if err != nil {
		if perrors.IsStructuralMismatch(err) {
			m.mu.Lock()
			m.rediscover = true
			m.mu.Unlock()
		}
		m.fail(session, err)
		return nil, err
	}
	for _, w := range result.Warnings {
		m.logger.Warn("value above deepest level ignored", "path", w)
	}

	// Published snapshots are shared with subscribers, so the back buffer
	// is always a fresh copy of the front.
	back := front.Clone()
	if missing := back.SetCounters(raw); len(missing) > 0 {
		m.missing.Add(int64(len(missing)))
		m.logger.Debug("counters missing from received tree", "paths", missing)
	}
	back.Timestamp = m.now().UnixMilli()

	m.mu.Lock()
	if m.wanted != wanted {
		m.mu.Unlock()
		err := perrors.StructuralMismatch("wanted counters changed during produce")
		m.fail(session, err)
		return nil, err
	}
	m.front = back
	m.hasSnapshot = true
	m.mu.Unlock()

	m.produced.Add(1)
	m.events.Publish(Event{
		Source:   m.Name(),
		Session:  session,
		Time:     m.now(),
		Snapshot: back,
		Values:   back.DeepestValues(),
		Warnings: result.Warnings,
	})
	return back, nil
}

func (m *Monitor) fail(session uuid.UUID, err error) {
	m.failed.Add(1)
	m.logger.Warn("snapshot rejected", "error", err)
	m.events.Publish(Event{Source: m.Name(), Session: session, Time: m.now(), Err: err})
}

// NeedsRediscovery reports whether a structural mismatch was seen since the
// wanted tree was last set.
func (m *Monitor) NeedsRediscovery() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rediscover
}

// Refresh drops the cached catalog and discovers again.
func (m *Monitor) Refresh(ctx context.Context) (*counters.Entities, error) {
	m.mu.Lock()
	m.available = nil
	m.mu.Unlock()
	return m.Available(ctx)
}

// Rediscover refreshes the catalog and re-applies the current wanted tree,
// dropping whatever the source no longer offers.
func (m *Monitor) Rediscover(ctx context.Context) error {
	available, err := m.Refresh(ctx)
	if err != nil {
		return err
	}
	wanted := m.Wanted()
	if wanted == nil {
		return nil
	}
	retained, dropped := counters.Retain(wanted, available)
	if len(dropped) > 0 {
		m.logger.Warn("wanted counters no longer offered", "paths", dropped)
	}
	if retained == nil {
		return perrors.StructuralMismatch("source no longer offers any wanted counter")
	}
	return m.SetWanted(ctx, retained)
}

// Subscribe registers an observer of produce events.
func (m *Monitor) Subscribe(buffer int) *broadcast.Subscription[Event] {
	return m.events.Subscribe(buffer)
}

// Unsubscribe removes an observer.
func (m *Monitor) Unsubscribe(sub *broadcast.Subscription[Event]) {
	m.events.Unsubscribe(sub)
}

// Stats returns activity counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Produced:        m.produced.Load(),
		Failed:          m.failed.Load(),
		MissingValues:   m.missing.Load(),
		NeedsRediscover: m.NeedsRediscovery(),
		Breaker:         m.breaker.Stats(),
	}
}
