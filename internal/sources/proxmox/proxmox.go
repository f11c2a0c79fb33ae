// Package proxmox reads node and guest counters from the Proxmox VE API.
package proxmox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"perfwatch/internal/cache"
	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	phttp "perfwatch/internal/http"
	"perfwatch/internal/source"
)

// TypeName is the registry key of the proxmox source.
const TypeName = "proxmox"

// ticketTTL is how long a login ticket is reused. Proxmox expires tickets
// after two hours.
const ticketTTL = 110 * time.Minute

// Settings are the proxmox source options. Either a token or a
// username/password pair must be set.
type Settings struct {
	API           string `yaml:"api" validate:"required,url"`
	TokenID       string `yaml:"token_id" validate:"required_with=TokenSecret"`
	TokenSecret   string `yaml:"token_secret" validate:"required_with=TokenID"`
	Username      string `yaml:"username" validate:"required_without=TokenID"`
	Password      string `yaml:"password" validate:"required_with=Username"`
	Node          string `yaml:"node"`
	SkipTLSVerify bool   `yaml:"skip_tls_verify"`
	// IncludeLXC adds containers next to QEMU guests.
	IncludeLXC bool `yaml:"include_lxc"`
}

// resource is one entry of /cluster/resources.
type resource struct {
	Type      string  `json:"type"`
	Node      string  `json:"node"`
	VMID      int     `json:"vmid"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	Template  int     `json:"template"`
	CPU       float64 `json:"cpu"`
	Mem       int64   `json:"mem"`
	MaxMem    int64   `json:"maxmem"`
	NetIn     int64   `json:"netin"`
	NetOut    int64   `json:"netout"`
	DiskRead  int64   `json:"diskread"`
	DiskWrite int64   `json:"diskwrite"`
}

type apiResponse struct {
	Data json.RawMessage `json:"data"`
}

// Client polls one Proxmox cluster.
type Client struct {
	name     string
	settings Settings
	baseURL  string
	http     *http.Client
	tickets  *cache.Manager[string]
	logger   *slog.Logger
}

var (
	_ source.Client        = (*Client)(nil)
	_ source.Poller        = (*Client)(nil)
	_ source.HealthChecker = (*Client)(nil)
)

// New builds a proxmox client.
func New(spec source.Spec, logger *slog.Logger) (source.Client, error) {
	var settings Settings
	if err := spec.Decode(&settings); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := spec.TimeoutOr(10 * time.Second)
	client := phttp.GetClientWithTimeout(timeout)
	if settings.SkipTLSVerify {
		client = phttp.GetInsecureClient(timeout)
	}
	return &Client{
		name:     spec.Name,
		settings: settings,
		baseURL:  strings.TrimSuffix(settings.API, "/") + "/api2/json",
		http:     client,
		tickets:  cache.NewManager[string](),
		logger:   logger,
	}, nil
}

// Register adds the proxmox source to r.
func Register(r *source.Registry) error {
	return r.Register(TypeName, New)
}

func (c *Client) Name() string                    { return c.name }
func (c *Client) Type() string                    { return TypeName }
func (c *Client) Capabilities() source.Capability { return source.CapPollable }

func (c *Client) Close() error {
	c.tickets.Clear()
	return nil
}

// HealthCheck reads the unauthenticated version endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := phttp.Fetch(ctx, c.http, c.name, c.baseURL+"/version", nil)
	return err
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
	header, err := c.authHeader(ctx)
	if err != nil {
		return nil, err
	}
	body, err := phttp.Fetch(ctx, c.http, c.name, c.baseURL+"/cluster/resources", header)
	if err != nil {
		if perrors.GetErrorType(err) == perrors.ErrTypeProtocol {
			// An expired or revoked ticket shows up as 401.
			c.tickets.Clear()
		}
		return nil, err
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, perrors.ProtocolError(c.name, "failed to decode cluster resources", err)
	}
	var resources []resource
	if err := json.Unmarshal(resp.Data, &resources); err != nil {
		return nil, perrors.ProtocolError(c.name, "failed to parse cluster resources", err)
	}
	return c.tree(resources), nil
}

// tree makes one entity per node followed by one per guest. A node is
// available while online, a guest while running.
func (c *Client) tree(resources []resource) *counters.Entities {
	out := counters.NewEntities()
	var guests []*counters.Entity
	names := make(map[string]bool)

	for _, r := range resources {
		if c.settings.Node != "" && r.Node != c.settings.Node {
			continue
		}
		switch r.Type {
		case "node":
			names[r.Node] = true
			out.Add(counters.NewEntity(r.Node, r.Status == "online",
				cpuGroup(r), memoryGroup(r)))
		case "qemu", "lxc":
			if r.Template == 1 || (r.Type == "lxc" && !c.settings.IncludeLXC) {
				continue
			}
			guests = append(guests, counters.NewEntity(guestName(r), r.Status == "running",
				cpuGroup(r),
				memoryGroup(r),
				counters.NewGroup("Network",
					counters.NewValue("In", counters.FormatValue(r.NetIn)),
					counters.NewValue("Out", counters.FormatValue(r.NetOut)),
				),
				counters.NewGroup("Disk",
					counters.NewValue("Read", counters.FormatValue(r.DiskRead)),
					counters.NewValue("Write", counters.FormatValue(r.DiskWrite)),
				),
			))
		}
	}
	for _, g := range guests {
		if names[g.Name] {
			c.logger.Debug("guest name collides, skipping", "guest", g.Name)
			continue
		}
		names[g.Name] = true
		out.Add(g)
	}
	return out
}

func cpuGroup(r resource) *counters.CounterInfo {
	return counters.NewGroup("CPU", counters.NewValue("Usage", counters.FormatValue(r.CPU)))
}

func memoryGroup(r resource) *counters.CounterInfo {
	return counters.NewGroup("Memory",
		counters.NewValue("Used", counters.FormatValue(r.Mem)),
		counters.NewValue("Max", counters.FormatValue(r.MaxMem)),
	)
}

// guestName is "<name>-<vmid>", or "vm<vmid>" for unnamed guests, so the
// entity stays unique when guests share a name.
func guestName(r resource) string {
	if r.Name == "" {
		return fmt.Sprintf("vm%d", r.VMID)
	}
	return fmt.Sprintf("%s-%d", r.Name, r.VMID)
}

func (c *Client) authHeader(ctx context.Context) (http.Header, error) {
	if c.settings.TokenID != "" {
		return http.Header{
			"Authorization": {fmt.Sprintf("PVEAPIToken=%s=%s", c.settings.TokenID, c.settings.TokenSecret)},
		}, nil
	}
	ticket, err := c.tickets.GetOrLoad("ticket", ticketTTL, func() (string, error) {
		return c.login(ctx)
	})
	if err != nil {
		return nil, err
	}
	return http.Header{"Cookie": {"PVEAuthCookie=" + ticket}}, nil
}

func (c *Client) login(ctx context.Context) (string, error) {
	form := url.Values{
		"username": {c.settings.Username},
		"password": {c.settings.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/access/ticket", strings.NewReader(form.Encode()))
	if err != nil {
		return "", perrors.ConfigError(fmt.Sprintf("proxmox %s: %v", c.name, err), "api")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", perrors.NetworkError(fmt.Sprintf("proxmox %s: authentication request failed", c.name), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", perrors.NewError(perrors.ErrTypeConfig, fmt.Sprintf("proxmox %s: authentication failed: status %d", c.name, resp.StatusCode)).
			WithComponent(c.name).
			WithRetryable(false).
			Build()
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", perrors.ProtocolError(c.name, "failed to decode authentication response", err)
	}
	var auth struct {
		Ticket string `json:"ticket"`
	}
	if err := json.Unmarshal(apiResp.Data, &auth); err != nil || auth.Ticket == "" {
		return "", perrors.ProtocolError(c.name, "authentication response has no ticket", err)
	}
	return auth.Ticket, nil
}
