package agent

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	"perfwatch/internal/source"
)

const catalogJSON = `{"subs":[{"name":"Host","isAvailable":true,"subs":[{"name":"CPU","subs":[{"name":"Core0"},{"name":"Core1"}]}]}]}`

// fakeAgent serves one connection at a time. After WIW it sends pushes
// values trees, with leaf values as JSON numbers.
type fakeAgent struct {
	ln     net.Listener
	pushes int

	mu     sync.Mutex
	wanted []string
	conns  []net.Conn
}

func startAgent(t *testing.T, pushes int) *fakeAgent {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	a := &fakeAgent{ln: ln, pushes: pushes}
	go a.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, c := range a.conns {
			_ = c.Close()
		}
	})
	return a
}

func (a *fakeAgent) address() string {
	return "tcp://" + a.ln.Addr().String()
}

func (a *fakeAgent) serve() {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return
		}
		a.mu.Lock()
		a.conns = append(a.conns, conn)
		a.mu.Unlock()
		go a.handle(conn)
	}
}

func (a *fakeAgent) handle(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "WDYH":
			_, _ = conn.Write([]byte(catalogJSON + "\n"))
		case strings.HasPrefix(line, "WIW "):
			a.mu.Lock()
			a.wanted = append(a.wanted, strings.TrimPrefix(line, "WIW "))
			a.mu.Unlock()
			_, _ = conn.Write([]byte("not json\n"))
			for i := range a.pushes {
				frame := `{"subs":[{"name":"Host","isAvailable":true,"subs":[{"name":"CPU","subs":[{"name":"Core0","counter":` +
					strings.Repeat("1", i+1) + `}]}]}]}`
				_, _ = conn.Write([]byte(frame + "\n"))
			}
		default:
			_, _ = conn.Write([]byte(`{"error":"unknown command"}` + "\n"))
		}
	}
}

func newClient(t *testing.T, address string) *Client {
	t.Helper()
	client, err := New(source.Spec{
		Name:     "agent1",
		Type:     TypeName,
		Settings: map[string]any{"address": address, "reply_timeout": "2s"},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client.(*Client)
}

func TestNew_Settings(t *testing.T) {
	_, err := New(source.Spec{Name: "a"}, nil)
	assert.Equal(t, perrors.ErrTypeConfig, perrors.GetErrorType(err))

	_, err = New(source.Spec{Name: "a", Settings: map[string]any{"address": "udp://x:1"}}, nil)
	assert.Equal(t, perrors.ErrTypeConfig, perrors.GetErrorType(err))

	client, err := New(source.Spec{Name: "a", Settings: map[string]any{"address": "tcp://127.0.0.1:9"}}, nil)
	require.NoError(t, err)
	require.NoError(t, source.CheckCapabilities(client))
}

func TestClient_NotConnected(t *testing.T) {
	c := newClient(t, "tcp://127.0.0.1:9")
	_, err := c.Discover(context.Background())
	require.Error(t, err)
	assert.True(t, perrors.IsRetryable(err))
	assert.False(t, c.IsConnected())
}

func TestClient_Discover(t *testing.T) {
	a := startAgent(t, 0)
	c := newClient(t, a.address())
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())

	catalog, err := c.Discover(ctx)
	require.NoError(t, err)
	require.NotNil(t, catalog.Lookup("Host", "CPU", "Core1"))
	assert.True(t, catalog.Entity("Host").IsAvailable)
}

func TestClient_Subscribe(t *testing.T) {
	a := startAgent(t, 3)
	c := newClient(t, a.address())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	wanted := counters.NewEntities(counters.NewEntity("Host", true,
		counters.NewGroup("CPU", counters.NewCounter("Core0"))))

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error, 1)
	go func() {
		done <- c.Subscribe(ctx, wanted, func(values *counters.Entities) {
			res, err := counters.ValidateCounters(values, wanted)
			if err != nil {
				return
			}
			mu.Lock()
			got = append(got, res.Values...)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"1", "11", "111"}, got)
	mu.Unlock()

	a.mu.Lock()
	require.Len(t, a.wanted, 1)
	sent, err := counters.Parse([]byte(a.wanted[0]))
	a.mu.Unlock()
	require.NoError(t, err)
	assert.True(t, sent.Match(wanted, false))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

func TestClient_SubscribeConnectionLost(t *testing.T) {
	a := startAgent(t, 0)
	c := newClient(t, a.address())
	require.NoError(t, c.Connect(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- c.Subscribe(context.Background(), counters.NewEntities(), func(*counters.Entities) {})
	}()

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.wanted) == 1
	}, 2*time.Second, 5*time.Millisecond)
	a.mu.Lock()
	for _, conn := range a.conns {
		_ = conn.Close()
	}
	a.mu.Unlock()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, perrors.ErrTypeNetwork, perrors.GetErrorType(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not notice the closed connection")
	}
	assert.False(t, c.IsConnected())
}

func TestDecodeFrame(t *testing.T) {
	es, err := decodeFrame("a", []byte(`{"subs":[{"name":"E","subs":[{"name":"G","subs":[{"name":"x","counter":1.5},{"name":"y","counter":"up"},{"name":"z","counter":true},{"name":"w","counter":null}]}]}]}`))
	require.NoError(t, err)
	g := es.Lookup("E", "G")
	require.NotNil(t, g)
	var vals []string
	for _, leaf := range g.Subs {
		v, ok := leaf.Value()
		if !ok {
			v = "<nil>"
		}
		vals = append(vals, v)
	}
	assert.Equal(t, []string{"1.5", "up", "true", "<nil>"}, vals)

	_, err = decodeFrame("a", []byte(`{"error":"boom"}`))
	assert.Equal(t, perrors.ErrTypeProtocol, perrors.GetErrorType(err))
	_, err = decodeFrame("a", []byte(`[1,2]`))
	assert.Equal(t, perrors.ErrTypeProtocol, perrors.GetErrorType(err))
	_, err = decodeFrame("a", []byte(`nope`))
	assert.Equal(t, perrors.ErrTypeProtocol, perrors.GetErrorType(err))
}
