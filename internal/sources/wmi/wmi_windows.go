//go:build windows

package wmi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ceshihao/windowsupdate"
	"github.com/yusufpapurcu/wmi"
	"golang.org/x/sys/windows"

	"perfwatch/internal/cache"
	"perfwatch/internal/counters"
	"perfwatch/internal/source"
)

const (
	processorQuery = "SELECT Name, PercentProcessorTime, PercentIdleTime, PercentPrivilegedTime, PercentUserTime FROM Win32_PerfFormattedData_PerfOS_Processor"
	memoryQuery    = "SELECT AvailableMBytes, CommittedBytes, PagesPersec, PercentCommittedBytesInUse FROM Win32_PerfFormattedData_PerfOS_Memory"
	updateCriteria = "IsInstalled=0 AND IsHidden=0"
)

// Client queries WMI on the local machine.
type Client struct {
	name     string
	settings Settings
	logger   *slog.Logger
	updates  *cache.Manager[updateCounts]

	// WMI and COM calls are not run concurrently.
	mu sync.Mutex
}

var (
	_ source.Client = (*Client)(nil)
	_ source.Poller = (*Client)(nil)
)

// New builds a wmi client.
func New(spec source.Spec, logger *slog.Logger) (source.Client, error) {
	var settings Settings
	if err := spec.Decode(&settings); err != nil {
		return nil, err
	}
	if settings.UpdatesTTL == 0 {
		settings.UpdatesTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:     spec.Name,
		settings: settings,
		logger:   logger,
		updates:  cache.NewManager[updateCounts](),
	}, nil
}

func (c *Client) Name() string                    { return c.name }
func (c *Client) Type() string                    { return TypeName }
func (c *Client) Capabilities() source.Capability { return source.CapPollable }

func (c *Client) Close() error {
	c.updates.Clear()
	return nil
}

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

func (c *Client) read(ctx context.Context) (*counters.Entities, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := reading{uptime: windows.DurationSinceBoot()}

	if err := wmi.Query(processorQuery, &r.processors); err != nil {
		c.logger.Debug("processor query failed", "error", err)
		r.processors = nil
	}
	var mem []win32Memory
	if err := wmi.Query(memoryQuery, &mem); err != nil {
		c.logger.Debug("memory query failed", "error", err)
	} else if len(mem) > 0 {
		r.memory = &mem[0]
	}

	if !c.settings.SkipUpdates {
		counts, err := c.updates.GetOrLoad("updates", c.settings.UpdatesTTL, c.searchUpdates)
		if err != nil {
			c.logger.Warn("windows update search failed", "error", err)
		} else {
			r.updates = &counts
		}
	}
	return r.tree(c.settings.SkipUpdates), nil
}

func (c *Client) searchUpdates() (updateCounts, error) {
	session, err := windowsupdate.NewUpdateSession()
	if err != nil {
		return updateCounts{}, err
	}
	searcher, err := session.CreateUpdateSearcher()
	if err != nil {
		return updateCounts{}, err
	}
	result, err := searcher.Search(updateCriteria)
	if err != nil {
		return updateCounts{}, err
	}

	counts := updateCounts{Pending: len(result.Updates)}
	for _, update := range result.Updates {
		if update.MsrcSeverity != "" {
			counts.Security++
		}
	}
	c.logger.Debug("windows update search completed", "pending", counts.Pending, "security", counts.Security)
	return counts, nil
}
