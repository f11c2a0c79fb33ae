// Package transport provides a line oriented socket connection shared by
// sources that speak a text protocol over tcp, unix sockets or named pipes.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	perrors "perfwatch/internal/errors"
)

// DefaultMaxLine bounds a single received line.
const DefaultMaxLine = 4 * 1024 * 1024

// LineHandler receives every line read from the peer, without the newline.
// The slice is only valid during the call.
type LineHandler func(line []byte)

// Options configures a SocketTransport.
type Options struct {
	Logger       *slog.Logger
	MaxLine      int
	WriteTimeout time.Duration
}

// SocketTransport owns one connection and one reader goroutine.
type SocketTransport struct {
	conn    net.Conn
	onLine  LineHandler
	logger  *slog.Logger
	maxLine int
	wto     time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// ParseAddress splits tcp://host:port, unix:///path and npipe://./pipe/name
// into a network and a dial address.
func ParseAddress(address string) (network, addr string, err error) {
	scheme, rest, ok := strings.Cut(address, "://")
	if !ok || rest == "" {
		return "", "", perrors.ConfigError(fmt.Sprintf("invalid transport address %q", address), "address")
	}
	switch scheme {
	case "tcp", "tcp4", "tcp6":
		if _, _, err := net.SplitHostPort(rest); err != nil {
			return "", "", perrors.ConfigError(fmt.Sprintf("invalid tcp address %q: %v", rest, err), "address")
		}
		return scheme, rest, nil
	case "unix":
		return "unix", rest, nil
	case "npipe":
		return "npipe", `\\` + strings.ReplaceAll(rest, "/", `\`), nil
	default:
		return "", "", perrors.ConfigError(fmt.Sprintf("unsupported transport scheme %q", scheme), "address")
	}
}

// Dial connects to address and starts reading lines into onLine.
func Dial(ctx context.Context, address string, onLine LineHandler, opts Options) (*SocketTransport, error) {
	network, addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	var conn net.Conn
	if network == "npipe" {
		conn, err = dialPipe(ctx, addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, network, addr)
	}
	if err != nil {
		if perrors.GetErrorType(err) == perrors.ErrTypeUnsupported {
			return nil, err
		}
		return nil, perrors.NetworkError(fmt.Sprintf("failed to dial %s", address), err)
	}
	return New(conn, onLine, opts), nil
}

// New wraps an established connection.
func New(conn net.Conn, onLine LineHandler, opts Options) *SocketTransport {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxLine <= 0 {
		opts.MaxLine = DefaultMaxLine
	}
	if onLine == nil {
		onLine = func([]byte) {}
	}
	t := &SocketTransport{
		conn:    conn,
		onLine:  onLine,
		logger:  opts.Logger.With("component", "transport", "remote", conn.RemoteAddr().String()),
		maxLine: opts.MaxLine,
		wto:     opts.WriteTimeout,
		done:    make(chan struct{}),
	}
	go t.read()
	return t
}

func (t *SocketTransport) read() {
	scanner := bufio.NewScanner(t.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), t.maxLine)
	for scanner.Scan() {
		line := bytes.TrimSuffix(scanner.Bytes(), []byte("\r"))
		if len(line) == 0 {
			continue
		}
		t.onLine(line)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case <-t.done:
		err = net.ErrClosed
	default:
	}
	t.errMu.Lock()
	t.err = err
	t.errMu.Unlock()
	if !errors.Is(err, net.ErrClosed) {
		t.logger.Debug("transport reader stopped", "error", err)
	}
	_ = t.Close()
}

// Send writes line followed by a newline. Concurrent sends do not interleave.
func (t *SocketTransport) Send(line []byte) error {
	select {
	case <-t.done:
		return perrors.NetworkError("transport closed", t.Err())
	default:
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.wto > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.wto))
	}
	if _, err := t.conn.Write(buf); err != nil {
		return perrors.NetworkError("failed to send line", err)
	}
	return nil
}

// SendString is Send for text.
func (t *SocketTransport) SendString(line string) error {
	return t.Send([]byte(line))
}

// Done is closed once the connection is gone, by Close or by the peer.
func (t *SocketTransport) Done() <-chan struct{} {
	return t.done
}

// Err returns why the reader stopped, or nil while it is running.
func (t *SocketTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close closes the connection and stops the reader.
func (t *SocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}
