// Package agent talks to custom monitoring agents over a line based socket
// protocol. The client sends WDYH to learn what the agent has, then
// "WIW <tree>" to choose counters, after which every line the agent sends is
// a values tree.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	"perfwatch/internal/source"
	"perfwatch/internal/transport"
)

// TypeName is the registry key of the agent source.
const TypeName = "agent"

const lineBuffer = 64

// Settings are the agent source options.
type Settings struct {
	// Address is tcp://host:port, unix:///path or npipe://./pipe/name.
	Address      string        `yaml:"address" validate:"required"`
	ReplyTimeout time.Duration `yaml:"reply_timeout" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"min=0"`
	MaxLine      int           `yaml:"max_line" validate:"min=0"`
}

// session is one connection and the lines it received.
type session struct {
	tr    *transport.SocketTransport
	lines chan []byte
	stop  chan struct{}
}

// Client is a push source backed by a socket transport.
type Client struct {
	name     string
	settings Settings
	logger   *slog.Logger

	mu   sync.Mutex
	sess *session

	// busy serializes request/reply exchanges and subscriptions.
	busy sync.Mutex
}

var (
	_ source.Client    = (*Client)(nil)
	_ source.Connector = (*Client)(nil)
	_ source.Pusher    = (*Client)(nil)
)

// New builds an agent client. The address is checked here, dialing happens
// in Connect.
func New(spec source.Spec, logger *slog.Logger) (source.Client, error) {
	var settings Settings
	if err := spec.Decode(&settings); err != nil {
		return nil, err
	}
	if _, _, err := transport.ParseAddress(settings.Address); err != nil {
		return nil, err
	}
	if settings.ReplyTimeout == 0 {
		settings.ReplyTimeout = spec.TimeoutOr(10 * time.Second)
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

// Register adds the agent source to r.
func Register(r *source.Registry) error {
	return r.Register(TypeName, New)
}

func (c *Client) Name() string { return c.name }
func (c *Client) Type() string { return TypeName }

func (c *Client) Capabilities() source.Capability {
	return source.CapConnected | source.CapPushable
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		select {
		case <-c.sess.tr.Done():
			close(c.sess.stop)
			c.sess = nil
		default:
			return nil
		}
	}

	lines := make(chan []byte, lineBuffer)
	stop := make(chan struct{})
	onLine := func(line []byte) {
		frame := append([]byte(nil), line...)
		select {
		case lines <- frame:
		case <-stop:
		}
	}
	tr, err := transport.Dial(ctx, c.settings.Address, onLine, transport.Options{
		Logger:       c.logger,
		MaxLine:      c.settings.MaxLine,
		WriteTimeout: c.settings.WriteTimeout,
	})
	if err != nil {
		return err
	}
	c.sess = &session{tr: tr, lines: lines, stop: stop}
	c.logger.Debug("connected to agent", "address", c.settings.Address)
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	close(sess.stop)
	return sess.tr.Close()
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return false
	}
	select {
	case <-c.sess.tr.Done():
		return false
	default:
		return true
	}
}

func (c *Client) Close() error {
	return c.Disconnect()
}

func (c *Client) session() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, perrors.NetworkError(fmt.Sprintf("agent %s: not connected", c.name), nil)
	}
	return c.sess, nil
}

// Discover asks the agent what it has.
func (c *Client) Discover(ctx context.Context) (*counters.Entities, error) {
	c.busy.Lock()
	defer c.busy.Unlock()

	sess, err := c.session()
	if err != nil {
		return nil, err
	}
	sess.drain()
	if err := sess.tr.SendString(cmdWDYH); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.settings.ReplyTimeout)
	defer timer.Stop()
	select {
	case line := <-sess.lines:
		return decodeFrame(c.name, line)
	case <-sess.tr.Done():
		return nil, perrors.NetworkError(fmt.Sprintf("agent %s: connection lost", c.name), sess.tr.Err())
	case <-timer.C:
		return nil, perrors.TimeoutError("agent "+c.name+" WDYH", c.settings.ReplyTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe sends the wanted tree and emits every values tree the agent
// streams back until ctx ends or the connection drops.
func (c *Client) Subscribe(ctx context.Context, wanted *counters.Entities, emit source.EmitFunc) error {
	if wanted == nil {
		return perrors.MalformedTree("wanted tree is nil", "")
	}
	c.busy.Lock()
	defer c.busy.Unlock()

	sess, err := c.session()
	if err != nil {
		return err
	}
	data, err := wanted.Shape().Marshal()
	if err != nil {
		return perrors.InternalError("encode wanted tree", err)
	}
	sess.drain()
	if err := sess.tr.SendString(cmdWIW + string(data)); err != nil {
		return err
	}

	for {
		select {
		case line := <-sess.lines:
			values, err := decodeFrame(c.name, line)
			if err != nil {
				c.logger.Warn("dropping agent frame", "error", err)
				continue
			}
			emit(values)
		case <-sess.tr.Done():
			return perrors.NetworkError(fmt.Sprintf("agent %s: connection lost", c.name), sess.tr.Err())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *session) drain() {
	for {
		select {
		case <-s.lines:
		default:
			return
		}
	}
}
