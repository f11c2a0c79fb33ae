// Package jmx reads MBean attributes from the JSON servlets exposed by Hadoop
// daemons (HDFS, HBase, YARN) and Jolokia style endpoints.
package jmx

import (
	"context"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"perfwatch/internal/cache"
	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	phttp "perfwatch/internal/http"
	"perfwatch/internal/source"
)

// TypeName is the registry key of the jmx source.
const TypeName = "jmx"

// GroupName holds the attributes of each bean.
const GroupName = "Attributes"

// Settings are the jmx source options.
type Settings struct {
	URL string `yaml:"url" validate:"required,url"`
	// Path is appended to URL. Defaults to /jmx.
	Path string `yaml:"path"`
	// Beans keeps only beans whose name starts with one of the prefixes.
	Beans    []string          `yaml:"beans"`
	CacheTTL time.Duration     `yaml:"cache_ttl" validate:"min=0"`
	Headers  map[string]string `yaml:"headers"`
}

// Client polls one JMX JSON endpoint.
type Client struct {
	name     string
	settings Settings
	endpoint string
	header   stdhttp.Header
	http     *stdhttp.Client
	docs     *cache.Manager[[]byte]
	logger   *slog.Logger
}

var (
	_ source.Client        = (*Client)(nil)
	_ source.Poller        = (*Client)(nil)
	_ source.HealthChecker = (*Client)(nil)
)

// New builds a jmx client.
func New(spec source.Spec, logger *slog.Logger) (source.Client, error) {
	var settings Settings
	if err := spec.Decode(&settings); err != nil {
		return nil, err
	}
	if settings.Path == "" {
		settings.Path = "/jmx"
	}
	if logger == nil {
		logger = slog.Default()
	}
	header := make(stdhttp.Header, len(settings.Headers))
	for k, v := range settings.Headers {
		header.Set(k, v)
	}
	return &Client{
		name:     spec.Name,
		settings: settings,
		endpoint: strings.TrimRight(settings.URL, "/") + "/" + strings.TrimLeft(settings.Path, "/"),
		header:   header,
		http:     phttp.GetClientWithTimeout(spec.TimeoutOr(10 * time.Second)),
		docs:     cache.NewManager[[]byte](),
		logger:   logger,
	}, nil
}

// Register adds the jmx source to r.
func Register(r *source.Registry) error {
	return r.Register(TypeName, New)
}

func (c *Client) Name() string                    { return c.name }
func (c *Client) Type() string                    { return TypeName }
func (c *Client) Capabilities() source.Capability { return source.CapPollable }

// Discover fetches a fresh document and lists its beans.
func (c *Client) Discover(ctx context.Context) (*counters.Entities, error) {
	c.docs.Delete(c.endpoint)
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

// HealthCheck fetches the document, bypassing the cache.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := phttp.Fetch(ctx, c.http, c.name, c.endpoint, c.header)
	return err
}

func (c *Client) Close() error {
	c.docs.Clear()
	return nil
}

func (c *Client) read(ctx context.Context) (*counters.Entities, error) {
	doc, err := c.docs.GetOrLoad(c.endpoint, c.settings.CacheTTL, func() ([]byte, error) {
		return phttp.Fetch(ctx, c.http, c.name, c.endpoint, c.header)
	})
	if err != nil {
		return nil, err
	}
	return c.parse(doc)
}

// parse turns a {"beans": [...]} document into one entity per bean. Only
// numeric and boolean attributes become counters.
func (c *Client) parse(doc []byte) (*counters.Entities, error) {
	if !gjson.ValidBytes(doc) {
		return nil, perrors.ProtocolError(c.name, "response is not valid JSON", nil)
	}
	beans := gjson.GetBytes(doc, "beans")
	if !beans.IsArray() {
		return nil, perrors.ProtocolError(c.name, `response has no "beans" array`, nil)
	}

	out := counters.NewEntities()
	seen := make(map[string]bool)
	beans.ForEach(func(_, bean gjson.Result) bool {
		name := bean.Get("name").String()
		if name == "" || !c.wantBean(name) {
			return true
		}
		if seen[name] {
			c.logger.Debug("duplicate bean ignored", "bean", name)
			return true
		}
		seen[name] = true

		attrs := counters.NewGroup(GroupName)
		bean.ForEach(func(key, value gjson.Result) bool {
			if v, ok := attributeValue(value); ok {
				attrs.Add(counters.NewValue(key.String(), v))
			}
			return true
		})
		if len(attrs.Subs) > 0 {
			out.Add(counters.NewEntity(name, true, attrs))
		}
		return true
	})
	return out, nil
}

func (c *Client) wantBean(name string) bool {
	if len(c.settings.Beans) == 0 {
		return true
	}
	for _, prefix := range c.settings.Beans {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func attributeValue(v gjson.Result) (string, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Raw, true
	case gjson.True, gjson.False:
		return fmt.Sprint(v.Bool()), true
	default:
		return "", false
	}
}
