// Package sourcetest provides an in-memory source client for tests.
package sourcetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"perfwatch/internal/counters"
	"perfwatch/internal/source"
)

// Fake is a scriptable client. Poll answers with its values projected onto
// the wanted tree unless PollFunc is set.
type Fake struct {
	ClientName string
	Caps       source.Capability
	Catalog    *counters.Entities

	PollFunc    func(ctx context.Context, wanted *counters.Entities) (*counters.Entities, error)
	ConnectErr  error
	DiscoverErr error

	// Pushes are emitted by Subscribe as they arrive. With PushInterval set,
	// Subscribe also emits the current values projected onto wanted.
	Pushes       chan *counters.Entities
	PushInterval time.Duration

	mu          sync.Mutex
	values      *counters.Entities
	connected   bool
	connects    int
	discovers   int
	polls       int
	closed      bool
	subscribeCh chan struct{}
}

// NewFake returns a pollable client whose catalog and values are catalog.
func NewFake(name string, catalog *counters.Entities) *Fake {
	return &Fake{
		ClientName:  name,
		Caps:        source.CapPollable,
		Catalog:     catalog,
		values:      catalog.Clone(),
		Pushes:      make(chan *counters.Entities, 16),
		subscribeCh: make(chan struct{}, 1),
	}
}

func (f *Fake) Name() string                    { return f.ClientName }
func (f *Fake) Type() string                    { return "fake" }
func (f *Fake) Capabilities() source.Capability { return f.Caps }

// SetValues replaces the tree Poll projects from.
func (f *Fake) SetValues(values *counters.Entities) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = values.Clone()
}

func (f *Fake) Discover(ctx context.Context) (*counters.Entities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovers++
	if f.DiscoverErr != nil {
		return nil, f.DiscoverErr
	}
	return f.Catalog.Clone(), nil
}

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

func (f *Fake) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Poll(ctx context.Context, wanted *counters.Entities) (*counters.Entities, error) {
	f.mu.Lock()
	f.polls++
	fn := f.PollFunc
	values := f.values
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, wanted)
	}
	return counters.Project(values, wanted), nil
}

func (f *Fake) Subscribe(ctx context.Context, wanted *counters.Entities, emit source.EmitFunc) error {
	select {
	case f.subscribeCh <- struct{}{}:
	default:
	}
	var tick <-chan time.Time
	if f.PushInterval > 0 {
		ticker := time.NewTicker(f.PushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			f.mu.Lock()
			values := f.values
			f.mu.Unlock()
			emit(counters.Project(values, wanted))
		case values, ok := <-f.Pushes:
			if !ok {
				return errors.New("push stream closed")
			}
			emit(values)
		}
	}
}

// Subscribed is signalled each time Subscribe starts.
func (f *Fake) Subscribed() <-chan struct{} { return f.subscribeCh }

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Counts returns how often Connect, Discover and Poll were called.
func (f *Fake) Counts() (connects, discovers, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.discovers, f.polls
}

var (
	_ source.Client    = (*Fake)(nil)
	_ source.Connector = (*Fake)(nil)
	_ source.Poller    = (*Fake)(nil)
	_ source.Pusher    = (*Fake)(nil)
)
