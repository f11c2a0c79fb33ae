// Package source defines the contract between the monitoring host and the
// programs it watches, plus the registry that builds clients from config.
package source

import (
	"context"
	"strings"

	"perfwatch/internal/counters"
)

// Capability tags describe how a client delivers values.
type Capability uint8

const (
	// CapConnected marks clients with an explicit connect/disconnect cycle.
	CapConnected Capability = 1 << iota
	// CapPollable marks clients that answer Poll on demand.
	CapPollable
	// CapPushable marks clients that stream values after Subscribe.
	CapPushable
)

// Has reports whether every bit of o is set in c.
func (c Capability) Has(o Capability) bool {
	return c&o == o
}

func (c Capability) String() string {
	var parts []string
	if c.Has(CapConnected) {
		parts = append(parts, "connected")
	}
	if c.Has(CapPollable) {
		parts = append(parts, "pollable")
	}
	if c.Has(CapPushable) {
		parts = append(parts, "pushable")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Client is implemented by every monitored program.
type Client interface {
	// Name returns the configured instance name.
	Name() string

	// Type returns the registry key the client was built from.
	Type() string

	Capabilities() Capability

	// Discover returns the full catalog of entities and counters the source
	// offers. Values in the returned tree are ignored.
	Discover(ctx context.Context) (*counters.Entities, error)

	// Close releases all resources. Safe to call more than once.
	Close() error
}

// Connector is implemented by clients tagged CapConnected.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
}

// Poller is implemented by clients tagged CapPollable. The returned tree
// must contain exactly the nodes of wanted, in any order.
type Poller interface {
	Poll(ctx context.Context, wanted *counters.Entities) (*counters.Entities, error)
}

// EmitFunc receives one pushed values tree.
type EmitFunc func(values *counters.Entities)

// Pusher is implemented by clients tagged CapPushable. Subscribe blocks,
// calling emit for every update, until ctx is cancelled or the stream ends.
type Pusher interface {
	Subscribe(ctx context.Context, wanted *counters.Entities, emit EmitFunc) error
}

// HealthChecker is an optional interface for clients that can report
// liveness without producing values.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
