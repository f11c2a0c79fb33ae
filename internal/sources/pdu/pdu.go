// Package pdu reads per-outlet power counters from a power distribution unit
// over SNMP.
package pdu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	"perfwatch/internal/source"
)

// TypeName is the registry key of the pdu source.
const TypeName = "pdu"

const sysUpTimeOID = ".1.3.6.1.2.1.1.3.0"

// Settings are the pdu source options. The OID bases are suffixed with the
// outlet number.
type Settings struct {
	Address   string  `yaml:"address" validate:"required,hostname|ip"`
	Port      uint16  `yaml:"port"`
	Community string  `yaml:"community"`
	Version   string  `yaml:"version" validate:"omitempty,oneof=1 2c"`
	Outlets   int     `yaml:"outlets" validate:"required,min=1,max=256"`
	Retries   int     `yaml:"retries" validate:"min=0,max=10"`
	StateOID  string  `yaml:"state_oid"`
	StateOn   int     `yaml:"state_on"`
	AmpsOID   string  `yaml:"current_oid"`
	AmpsScale float64 `yaml:"current_scale"`
	WattsOID  string  `yaml:"watts_oid"`
}

func (s *Settings) setDefaults() {
	if s.Port == 0 {
		s.Port = 161
	}
	if s.Community == "" {
		s.Community = "public"
	}
	if s.Version == "" {
		s.Version = "2c"
	}
	if s.StateOID == "" {
		s.StateOID = ".1.3.6.1.4.1.318.1.1.12.3.5.1.1.4"
	}
	if s.StateOn == 0 {
		s.StateOn = 1
	}
	if s.AmpsOID == "" {
		s.AmpsOID = ".1.3.6.1.4.1.318.1.1.26.9.4.3.1.6"
	}
	if s.AmpsScale == 0 {
		s.AmpsScale = 0.1
	}
	if s.WattsOID == "" {
		s.WattsOID = ".1.3.6.1.4.1.318.1.1.26.9.4.3.1.7"
	}
	s.StateOID = normalizeOID(s.StateOID)
	s.AmpsOID = normalizeOID(s.AmpsOID)
	s.WattsOID = normalizeOID(s.WattsOID)
}

// getter is the part of gosnmp.GoSNMP the client needs.
type getter interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
}

// Client polls one PDU.
type Client struct {
	name     string
	settings Settings
	timeout  time.Duration
	logger   *slog.Logger

	// dial opens a session; replaced by tests.
	dial func(ctx context.Context) (getter, func() error, error)

	mu        sync.Mutex
	snmp      getter
	closeConn func() error
	maxOids   int
}

var (
	_ source.Client    = (*Client)(nil)
	_ source.Connector = (*Client)(nil)
	_ source.Poller    = (*Client)(nil)
)

// New builds a pdu client.
func New(spec source.Spec, logger *slog.Logger) (source.Client, error) {
	var settings Settings
	if err := spec.Decode(&settings); err != nil {
		return nil, err
	}
	settings.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		name:     spec.Name,
		settings: settings,
		timeout:  spec.TimeoutOr(5 * time.Second),
		logger:   logger,
		maxOids:  gosnmp.MaxOids,
	}
	c.dial = c.dialSNMP
	return c, nil
}

// Register adds the pdu source to r.
func Register(r *source.Registry) error {
	return r.Register(TypeName, New)
}

func (c *Client) Name() string { return c.name }
func (c *Client) Type() string { return TypeName }

func (c *Client) Capabilities() source.Capability {
	return source.CapConnected | source.CapPollable
}

func (c *Client) dialSNMP(_ context.Context) (getter, func() error, error) {
	version := gosnmp.Version2c
	if c.settings.Version == "1" {
		version = gosnmp.Version1
	}
	g := &gosnmp.GoSNMP{
		Target:    c.settings.Address,
		Port:      c.settings.Port,
		Version:   version,
		Community: c.settings.Community,
		Timeout:   c.timeout,
		Retries:   c.settings.Retries,
		MaxOids:   gosnmp.MaxOids,
	}
	if err := g.Connect(); err != nil {
		return nil, nil, err
	}
	return g, g.Conn.Close, nil
}

// Connect opens the SNMP session and checks the agent answers.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snmp != nil {
		return nil
	}
	g, closeConn, err := c.dial(ctx)
	if err != nil {
		return perrors.NetworkError(fmt.Sprintf("pdu %s: connect %s:%d", c.name, c.settings.Address, c.settings.Port), err)
	}
	if _, err := g.Get([]string{sysUpTimeOID}); err != nil {
		_ = closeConn()
		return perrors.NetworkError(fmt.Sprintf("pdu %s: agent not answering", c.name), err)
	}
	c.snmp, c.closeConn = g, closeConn
	c.logger.Debug("connected to pdu", "address", c.settings.Address, "outlets", c.settings.Outlets)
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectLocked()
}

func (c *Client) disconnectLocked() error {
	if c.snmp == nil {
		return nil
	}
	err := c.closeConn()
	c.snmp, c.closeConn = nil, nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snmp != nil
}

func (c *Client) Close() error {
	return c.Disconnect()
}

// Discover reads every outlet state. An outlet is available while it is on.
func (c *Client) Discover(ctx context.Context) (*counters.Entities, error) {
	oids := make([]string, 0, c.settings.Outlets)
	for n := 1; n <= c.settings.Outlets; n++ {
		oids = append(oids, outletOID(c.settings.StateOID, n))
	}
	values, err := c.get(ctx, oids)
	if err != nil {
		return nil, err
	}

	out := counters.NewEntities()
	for n := 1; n <= c.settings.Outlets; n++ {
		state, ok := values[outletOID(c.settings.StateOID, n)]
		out.Add(counters.NewEntity(outletName(n), ok && c.isOn(state),
			counters.NewGroup("Power",
				counters.NewCounter("Current"),
				counters.NewCounter("Watts"),
				counters.NewCounter("State"),
			),
		))
	}
	return out, nil
}

// Poll reads the wanted counters of the wanted outlets in as few requests as
// the agent allows. The state of every wanted outlet is always read so that
// availability follows the outlet being switched on or off.
func (c *Client) Poll(ctx context.Context, wanted *counters.Entities) (*counters.Entities, error) {
	out := wanted.Shape()
	type slot struct {
		leaf   *counters.CounterInfo
		oid    string
		format func(snmpValue) string
	}
	var (
		slots  []slot
		states []string
		oids   []string
	)
	for _, e := range out.Subs {
		n, ok := outletNumber(e.Name)
		if !ok {
			return nil, perrors.StructuralMismatch(fmt.Sprintf("pdu %s: unknown entity %s", c.name, e.Name))
		}
		stateOID := outletOID(c.settings.StateOID, n)
		states = append(states, stateOID)
		oids = append(oids, stateOID)
		for _, group := range e.Subs {
			if group.Name != "Power" {
				return nil, perrors.StructuralMismatch(fmt.Sprintf("pdu %s: unknown counter %s/%s", c.name, e.Name, group.Name))
			}
			for _, leaf := range group.Subs {
				s := slot{leaf: leaf}
				switch leaf.Name {
				case "Current":
					s.oid, s.format = outletOID(c.settings.AmpsOID, n), c.formatAmps
				case "Watts":
					s.oid, s.format = outletOID(c.settings.WattsOID, n), formatInt
				case "State":
					s.oid, s.format = stateOID, c.formatState
				default:
					return nil, perrors.StructuralMismatch(fmt.Sprintf("pdu %s: unknown counter %s/Power/%s", c.name, e.Name, leaf.Name))
				}
				slots = append(slots, s)
				if s.oid != stateOID {
					oids = append(oids, s.oid)
				}
			}
		}
	}

	values, err := c.get(ctx, oids)
	if err != nil {
		return nil, err
	}
	for _, s := range slots {
		if v, ok := values[s.oid]; ok {
			s.leaf.SetValue(s.format(v))
		} else {
			s.leaf.SetValue(counters.Unavailable)
		}
	}
	for i, e := range out.Subs {
		state, ok := values[states[i]]
		e.IsAvailable = ok && c.isOn(state)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, oids []string) (map[string]snmpValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snmp == nil {
		return nil, perrors.NetworkError(fmt.Sprintf("pdu %s: not connected", c.name), nil)
	}
	values := make(map[string]snmpValue, len(oids))
	for start := 0; start < len(oids); start += c.maxOids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+c.maxOids, len(oids))
		packet, err := c.snmp.Get(oids[start:end])
		if err != nil {
			_ = c.disconnectLocked()
			return nil, perrors.NetworkError(fmt.Sprintf("pdu %s: snmp get", c.name), err)
		}
		for _, v := range packet.Variables {
			if sv, ok := toValue(v); ok {
				values[normalizeOID(v.Name)] = sv
			}
		}
	}
	return values, nil
}
