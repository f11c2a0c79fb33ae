// Package self exposes perfwatch's own runtime and process counters as a
// source, so the monitor can watch itself.
package self

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	"perfwatch/internal/source"
)

// TypeName is the registry key of the self source.
const TypeName = "self"

// Client reads the counters of the current process.
type Client struct {
	name      string
	logger    *slog.Logger
	startTime time.Time

	mu     sync.Mutex
	proc   *process.Process
	closed bool
}

var (
	_ source.Client = (*Client)(nil)
	_ source.Poller = (*Client)(nil)
)

// New builds a self client. The entity is named after the source.
func New(spec source.Spec, logger *slog.Logger) (source.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:      spec.Name,
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// Register adds the self source to r.
func Register(r *source.Registry) error {
	return r.Register(TypeName, New)
}

func (c *Client) Name() string                    { return c.name }
func (c *Client) Type() string                    { return TypeName }
func (c *Client) Capabilities() source.Capability { return source.CapPollable }

func (c *Client) Discover(ctx context.Context) (*counters.Entities, error) {
	full, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	return full.Shape(), nil
}

func (c *Client) Poll(ctx context.Context, wanted *counters.Entities) (*counters.Entities, error) {
	full, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	return counters.ProjectFilled(full, wanted), nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.proc = nil
	return nil
}

func (c *Client) process(ctx context.Context) (*process.Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, perrors.InternalError("self source is closed", nil)
	}
	if c.proc == nil {
		p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
		if err != nil {
			return nil, err
		}
		c.proc = p
	}
	return c.proc, nil
}

func (c *Client) read(ctx context.Context) (*counters.Entities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	rt := counters.NewGroup("Runtime",
		counters.NewValue("Goroutines", counters.FormatValue(runtime.NumGoroutine())),
		counters.NewValue("HeapAlloc", counters.FormatValue(ms.HeapAlloc)),
		counters.NewValue("HeapObjects", counters.FormatValue(ms.HeapObjects)),
		counters.NewValue("NumGC", counters.FormatValue(ms.NumGC)),
		counters.NewValue("UptimeSeconds", counters.FormatValue(int64(time.Since(c.startTime).Seconds()))),
	)

	proc := counters.NewGroup("Process",
		counters.NewCounter("RSS"),
		counters.NewCounter("CPUPercent"),
		counters.NewCounter("OpenFiles"),
		counters.NewCounter("Threads"),
	)
	p, err := c.process(ctx)
	if err != nil {
		if perrors.GetErrorType(err) == perrors.ErrTypeInternal {
			return nil, err
		}
		c.logger.Debug("process handle unavailable", "error", err)
	} else {
		c.readProcess(ctx, p, proc)
	}

	return counters.NewEntities(counters.NewEntity(c.name, true, rt, proc)), nil
}

func (c *Client) readProcess(ctx context.Context, p *process.Process, group *counters.CounterInfo) {
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		group.Child("RSS").SetValue(counters.FormatValue(mem.RSS))
	}
	if pct, err := p.CPUPercentWithContext(ctx); err == nil {
		group.Child("CPUPercent").SetValue(counters.FormatValue(pct))
	}
	if fds, err := p.NumFDsWithContext(ctx); err == nil {
		group.Child("OpenFiles").SetValue(counters.FormatValue(fds))
	} else {
		c.logger.Debug("open file count unavailable", "error", err)
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		group.Child("Threads").SetValue(counters.FormatValue(n))
	}
}
