package local

import (
	"net"
	"strings"

	"github.com/jackpal/gateway"
	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// discoverGateway is swapped out by tests.
var discoverGateway = gateway.DiscoverGateway

// virtualPrefixes name interfaces created by containers, hypervisors and
// tunnels.
var virtualPrefixes = []string{
	"vEthernet",
	"docker0", "br-", "veth",
	"cni-podman",
	"virbr", "vnet",
	"vmbr", "tap", "fwbr", "fwpr", "fwln",
	"wg", "tun", "utun",
}

func isVirtualInterface(name string) bool {
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return strings.Contains(name, "WSL")
}

func hasFlag(iface gopsnet.InterfaceStat, flag string) bool {
	for _, f := range iface.Flags {
		if strings.Contains(strings.ToLower(f), flag) {
			return true
		}
	}
	return false
}

// shouldMonitorInterface keeps interfaces that are up, not loopback and not
// excluded.
func shouldMonitorInterface(iface gopsnet.InterfaceStat, excludePatterns []string, includeVirtual bool) bool {
	if hasFlag(iface, "loopback") || !hasFlag(iface, "up") {
		return false
	}
	if !includeVirtual && isVirtualInterface(iface.Name) {
		return false
	}
	for _, pattern := range excludePatterns {
		if matchesPattern(iface.Name, pattern) {
			return false
		}
	}
	return true
}

// gatewayInterface returns the name of the interface whose subnet holds gw.
func gatewayInterface(gw net.IP, ifaces []gopsnet.InterfaceStat) string {
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			ip, ipnet, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				continue
			}
			if ipnet.Contains(gw) || ip.Equal(gw) {
				return iface.Name
			}
		}
	}
	return ""
}

// matchesPattern does wildcard matching with "*" at the start, the end or
// both.
func matchesPattern(name, pattern string) bool {
	switch {
	case pattern == "":
		return false
	case pattern == name:
		return true
	case len(pattern) > 1 && strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(name, strings.Trim(pattern, "*"))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, strings.TrimPrefix(pattern, "*"))
	}
	return false
}
