package local

import (
	"context"
	"errors"
	"net"
	"testing"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfwatch/internal/counters"
	"perfwatch/internal/source"
)

func newClient(t *testing.T, settings map[string]any) *Client {
	t.Helper()
	client, err := New(source.Spec{Name: "localhost", Type: TypeName, Settings: settings}, nil)
	require.NoError(t, err)
	return client.(*Client)
}

func stubGateway(t *testing.T, ip net.IP, err error) {
	t.Helper()
	orig := discoverGateway
	discoverGateway = func() (net.IP, error) { return ip, err }
	t.Cleanup(func() { discoverGateway = orig })
}

func TestClient_DiscoverAndPoll(t *testing.T) {
	stubGateway(t, nil, errors.New("no route"))
	c := newClient(t, nil)
	ctx := context.Background()

	catalog, err := c.Discover(ctx)
	require.NoError(t, err)
	host := catalog.Entity(EntityName)
	require.NotNil(t, host)
	assert.True(t, host.IsAvailable)
	require.NotNil(t, host.Child("CPU"))
	assert.NotNil(t, host.Child("CPU").Child("Total"))
	assert.NotNil(t, host.Child("CPU").Child("Core0"))
	require.NotNil(t, host.Child("Network"))
	assert.NotNil(t, host.Child("Network").Child("Gateway"))

	wanted, err := counters.AllWanted(catalog)
	require.NoError(t, err)

	values, err := c.Poll(ctx, wanted)
	require.NoError(t, err)
	res, err := counters.ValidateCounters(values, wanted)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Values)
	gw, ok := values.Lookup(EntityName, "Network", "Gateway").Value()
	require.True(t, ok)
	assert.Equal(t, counters.Unavailable, gw)
}

func TestClient_PollSubset(t *testing.T) {
	stubGateway(t, net.IPv4(192, 168, 1, 1), nil)
	c := newClient(t, nil)
	ctx := context.Background()

	catalog, err := c.Discover(ctx)
	require.NoError(t, err)
	wanted, err := counters.Select(catalog, "Host/CPU/Total", "Host/Network/Gateway")
	require.NoError(t, err)

	values, err := c.Poll(ctx, wanted)
	require.NoError(t, err)
	_, err = counters.ValidateCounters(values, wanted)
	require.NoError(t, err)
	gw, ok := values.Lookup(EntityName, "Network", "Gateway").Value()
	require.True(t, ok)
	assert.Equal(t, "192.168.1.1", gw)
}

func TestClient_GatewayDisabled(t *testing.T) {
	c := newClient(t, map[string]any{"gateway": false})
	catalog, err := c.Discover(context.Background())
	require.NoError(t, err)
	if network := catalog.Lookup(EntityName, "Network"); network != nil {
		assert.Nil(t, network.Child("Gateway"))
	}
}

func TestClient_Closed(t *testing.T) {
	c := newClient(t, nil)
	require.NoError(t, c.Close())
	_, err := c.Discover(context.Background())
	assert.Error(t, err)
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestRegister(t *testing.T) {
	r := source.NewRegistry(nil)
	require.NoError(t, Register(r))
	assert.True(t, r.Has(TypeName))
}

func TestMountName(t *testing.T) {
	tests := map[string]string{
		"/":        "root",
		"/var/log": "var_log",
		"C:":       "C",
		`C:\`:      "C",
		"/home/":   "home",
	}
	for in, want := range tests {
		assert.Equal(t, want, mountName(in), in)
	}
}

func TestShouldMonitorInterface(t *testing.T) {
	up := []string{"up", "broadcast"}
	tests := []struct {
		name    string
		iface   gopsnet.InterfaceStat
		exclude []string
		virtual bool
		want    bool
	}{
		{"physical", gopsnet.InterfaceStat{Name: "eth0", Flags: up}, nil, false, true},
		{"down", gopsnet.InterfaceStat{Name: "eth0", Flags: []string{"broadcast"}}, nil, false, false},
		{"loopback", gopsnet.InterfaceStat{Name: "lo", Flags: []string{"up", "loopback"}}, nil, false, false},
		{"docker", gopsnet.InterfaceStat{Name: "docker0", Flags: up}, nil, false, false},
		{"docker kept", gopsnet.InterfaceStat{Name: "docker0", Flags: up}, nil, true, true},
		{"excluded", gopsnet.InterfaceStat{Name: "eth1", Flags: up}, []string{"eth*"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldMonitorInterface(tt.iface, tt.exclude, tt.virtual))
		})
	}
}

func TestMatchesPattern(t *testing.T) {
	assert.True(t, matchesPattern("eth0", "eth0"))
	assert.True(t, matchesPattern("eth0", "eth*"))
	assert.True(t, matchesPattern("br-eth", "*eth"))
	assert.True(t, matchesPattern("xethy", "*eth*"))
	assert.False(t, matchesPattern("wlan0", "eth*"))
	assert.False(t, matchesPattern("eth0", ""))
}

func TestGatewayInterface(t *testing.T) {
	ifaces := []gopsnet.InterfaceStat{
		{Name: "lo", Addrs: []gopsnet.InterfaceAddr{{Addr: "127.0.0.1/8"}}},
		{Name: "eth0", Addrs: []gopsnet.InterfaceAddr{{Addr: "bad"}, {Addr: "192.168.1.20/24"}}},
	}
	assert.Equal(t, "eth0", gatewayInterface(net.ParseIP("192.168.1.1"), ifaces))
	assert.Empty(t, gatewayInterface(net.ParseIP("10.0.0.1"), ifaces))
}
