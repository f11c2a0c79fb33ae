// Package local reads operating system counters of the machine perfwatch
// runs on.
package local

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"perfwatch/internal/counters"
	"perfwatch/internal/source"
)

// TypeName is the registry key of the local source.
const TypeName = "local"

// EntityName is the single entity the local source offers.
const EntityName = "Host"

var errClosed = errors.New("local: client closed")

// Settings are the local source options.
type Settings struct {
	// ExcludeInterfaces drops network interfaces by name; "*" wildcards are
	// allowed at either end.
	ExcludeInterfaces []string `yaml:"exclude_interfaces"`
	// ExcludeMounts drops disks by mount point, with the same wildcards.
	ExcludeMounts []string `yaml:"exclude_mounts"`
	// IncludeVirtual keeps container and hypervisor interfaces.
	IncludeVirtual bool `yaml:"include_virtual"`
	// Gateway adds the default gateway address to the Network group.
	Gateway *bool `yaml:"gateway"`
}

func (s Settings) gateway() bool {
	return s.Gateway == nil || *s.Gateway
}

// Client is the local OS counters source.
type Client struct {
	name     string
	settings Settings
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

var (
	_ source.Client = (*Client)(nil)
	_ source.Poller = (*Client)(nil)
)

// New builds a local client.
func New(spec source.Spec, logger *slog.Logger) (source.Client, error) {
	var settings Settings
	if err := spec.Decode(&settings); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:     spec.Name,
		settings: settings,
		logger:   logger,
	}, nil
}

// Register adds the local source to r.
func Register(r *source.Registry) error {
	return r.Register(TypeName, New)
}

func (c *Client) Name() string                    { return c.name }
func (c *Client) Type() string                    { return TypeName }
func (c *Client) Capabilities() source.Capability { return source.CapPollable }

// Discover reads every counter once and returns the shape of the result.
func (c *Client) Discover(ctx context.Context) (*counters.Entities, error) {
	full, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	return full.Shape(), nil
}

// Poll reads every counter and projects the reading onto wanted. Counters
// that could not be read this time are reported as Unavailable.
func (c *Client) Poll(ctx context.Context, wanted *counters.Entities) (*counters.Entities, error) {
	full, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	return counters.ProjectFilled(full, wanted), nil
}

// HealthCheck fails only once the client is closed.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	return ctx.Err()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) read(ctx context.Context) (*counters.Entities, error) {
	if err := c.HealthCheck(ctx); err != nil {
		return nil, err
	}

	host := counters.NewEntity(EntityName, true)
	readers := []struct {
		name string
		read func(context.Context) (*counters.CounterInfo, error)
	}{
		{"CPU", c.readCPU},
		{"Memory", c.readMemory},
		{"Load", c.readLoad},
		{"Disk", c.readDisk},
		{"Network", c.readNetwork},
		{"Uptime", c.readUptime},
	}
	for _, r := range readers {
		group, err := r.read(ctx)
		if err != nil {
			c.logger.Debug("failed to read counter group", "group", r.name, "error", err)
		}
		if group != nil && len(group.Subs) > 0 {
			host.Add(group)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return counters.NewEntities(host), nil
}
