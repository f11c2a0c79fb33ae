package proxmox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	"perfwatch/internal/source"
)

const resourcesJSON = `{"data":[
  {"type":"node","node":"pve1","status":"online","cpu":0.25,"mem":1000,"maxmem":4000},
  {"type":"node","node":"pve2","status":"offline"},
  {"type":"qemu","node":"pve1","vmid":101,"name":"web","status":"running","cpu":0.5,"mem":200,"maxmem":1024,"netin":10,"netout":20,"diskread":30,"diskwrite":40},
  {"type":"qemu","node":"pve1","vmid":102,"name":"db","status":"stopped"},
  {"type":"qemu","node":"pve1","vmid":900,"name":"tmpl","status":"stopped","template":1},
  {"type":"lxc","node":"pve2","vmid":200,"status":"running"},
  {"type":"storage","node":"pve1","status":"available"}
]}`

type fakeAPI struct {
	logins    atomic.Int32
	resources atomic.Int32
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/version", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"version":"8.2"}}`))
	})
	mux.HandleFunc("/api2/json/access/ticket", func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		require.NoError(t, r.ParseForm())
		if r.Form.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"ticket":"TICKET","CSRFPreventionToken":"x"}}`))
	})
	mux.HandleFunc("/api2/json/cluster/resources", func(w http.ResponseWriter, r *http.Request) {
		f.resources.Add(1)
		token := r.Header.Get("Authorization") == "PVEAPIToken=root@pam!mon=abc"
		cookie, _ := r.Cookie("PVEAuthCookie")
		if !token && (cookie == nil || cookie.Value != "TICKET") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(resourcesJSON))
	})
	return mux
}

func newClient(t *testing.T, settings map[string]any) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	settings["api"] = srv.URL
	client, err := New(source.Spec{Name: "cluster", Type: TypeName, Settings: settings}, nil)
	require.NoError(t, err)
	return client.(*Client), api
}

func TestNew_Settings(t *testing.T) {
	_, err := New(source.Spec{Name: "c", Settings: map[string]any{"api": "https://pve:8006"}}, nil)
	require.Error(t, err)
	assert.Equal(t, perrors.ErrTypeConfig, perrors.GetErrorType(err))

	_, err = New(source.Spec{Name: "c", Settings: map[string]any{"api": "https://pve:8006", "token_id": "a"}}, nil)
	require.Error(t, err)

	_, err = New(source.Spec{Name: "c", Settings: map[string]any{"api": "https://pve:8006", "username": "root@pam", "password": "x"}}, nil)
	require.NoError(t, err)
}

func TestClient_DiscoverWithToken(t *testing.T) {
	c, api := newClient(t, map[string]any{"token_id": "root@pam!mon", "token_secret": "abc"})

	catalog, err := c.Discover(context.Background())
	require.NoError(t, err)

	var names []string
	for _, e := range catalog.Subs {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"pve1", "pve2", "web-101", "db-102"}, names)
	assert.True(t, catalog.Entity("pve1").IsAvailable)
	assert.False(t, catalog.Entity("pve2").IsAvailable)
	assert.True(t, catalog.Entity("web-101").IsAvailable)
	assert.False(t, catalog.Entity("db-102").IsAvailable)
	assert.NotNil(t, catalog.Lookup("web-101", "Disk", "Write"))
	assert.Nil(t, catalog.Entity("pve1").Child("Network"))
	assert.Zero(t, api.logins.Load())
}

func TestClient_PollWithTicket(t *testing.T) {
	c, api := newClient(t, map[string]any{"username": "root@pam", "password": "secret", "include_lxc": true})
	ctx := context.Background()

	catalog, err := c.Discover(ctx)
	require.NoError(t, err)
	assert.NotNil(t, catalog.Entity("vm200"))

	wanted, err := counters.Select(catalog, "pve1/CPU", "web-101/Network")
	require.NoError(t, err)
	for range 2 {
		values, err := c.Poll(ctx, wanted)
		require.NoError(t, err)
		res, err := counters.ValidateCounters(values, wanted)
		require.NoError(t, err)
		assert.Equal(t, []string{"0.25", "10", "20"}, res.Values)
	}
	assert.Equal(t, int32(1), api.logins.Load())
	assert.Equal(t, int32(3), api.resources.Load())
}

func TestClient_NodeFilter(t *testing.T) {
	c, _ := newClient(t, map[string]any{"token_id": "root@pam!mon", "token_secret": "abc", "node": "pve2"})
	catalog, err := c.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog.Subs, 1)
	assert.Equal(t, "pve2", catalog.Subs[0].Name)
}

func TestClient_LoginRejected(t *testing.T) {
	c, _ := newClient(t, map[string]any{"username": "root@pam", "password": "wrong"})
	_, err := c.Discover(context.Background())
	require.Error(t, err)
	assert.False(t, perrors.IsRetryable(err))
}

func TestClient_HealthCheck(t *testing.T) {
	c, _ := newClient(t, map[string]any{"token_id": "root@pam!mon", "token_secret": "abc"})
	assert.NoError(t, c.HealthCheck(context.Background()))
}
