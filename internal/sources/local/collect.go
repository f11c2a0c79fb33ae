package local

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"

	"perfwatch/internal/counters"
)

// virtualFilesystems never show up in the Disk group.
var virtualFilesystems = map[string]bool{
	"tmpfs":    true,
	"devtmpfs": true,
	"sysfs":    true,
	"proc":     true,
	"overlay":  true,
	"overlay2": true,
	"aufs":     true,
	"squashfs": true,
}

func (c *Client) readCPU(ctx context.Context) (*counters.CounterInfo, error) {
	group := counters.NewGroup("CPU")

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return group, fmt.Errorf("cpu count: %w", err)
	}
	perCore, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		c.logger.Debug("per-core cpu usage unavailable", "error", err)
	}
	for i := range cores {
		leaf := counters.NewCounter(fmt.Sprintf("Core%d", i))
		if i < len(perCore) {
			leaf.SetValue(counters.FormatValue(perCore[i]))
		}
		group.Add(leaf)
	}

	total := counters.NewCounter("Total")
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		total.SetValue(counters.FormatValue(pct[0]))
	}
	group.Add(total)
	return group, nil
}

func (c *Client) readMemory(ctx context.Context) (*counters.CounterInfo, error) {
	group := counters.NewGroup("Memory")

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return group, fmt.Errorf("virtual memory: %w", err)
	}
	group.Add(
		counters.NewValue("Total", counters.FormatValue(vm.Total)),
		counters.NewValue("Used", counters.FormatValue(vm.Used)),
		counters.NewValue("Available", counters.FormatValue(vm.Available)),
		counters.NewValue("UsedPercent", counters.FormatValue(vm.UsedPercent)),
	)

	swap := counters.NewCounter("SwapUsed")
	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		swap.SetValue(counters.FormatValue(sw.Used))
	}
	group.Add(swap)
	return group, nil
}

func (c *Client) readLoad(ctx context.Context) (*counters.CounterInfo, error) {
	group := counters.NewGroup("Load")

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return group, fmt.Errorf("load average: %w", err)
	}
	group.Add(
		counters.NewValue("Load1", counters.FormatValue(avg.Load1)),
		counters.NewValue("Load5", counters.FormatValue(avg.Load5)),
		counters.NewValue("Load15", counters.FormatValue(avg.Load15)),
	)
	return group, nil
}

func (c *Client) readDisk(ctx context.Context) (*counters.CounterInfo, error) {
	group := counters.NewGroup("Disk")

	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return group, fmt.Errorf("partitions: %w", err)
	}

	seen := make(map[string]bool)
	for _, p := range partitions {
		if !c.shouldMonitorPartition(p) {
			continue
		}
		name := mountName(p.Mountpoint)
		if seen[name] {
			continue
		}
		seen[name] = true

		used := counters.NewCounter(name + ".UsedPercent")
		free := counters.NewCounter(name + ".FreeBytes")
		if usage, err := disk.UsageWithContext(ctx, p.Mountpoint); err == nil {
			used.SetValue(counters.FormatValue(usage.UsedPercent))
			free.SetValue(counters.FormatValue(usage.Free))
		} else {
			c.logger.Debug("disk usage unavailable", "mountpoint", p.Mountpoint, "error", err)
		}
		group.Add(used, free)
	}
	return group, nil
}

func (c *Client) shouldMonitorPartition(p disk.PartitionStat) bool {
	if virtualFilesystems[p.Fstype] || strings.HasPrefix(p.Device, "/dev/loop") {
		return false
	}
	for _, pattern := range c.settings.ExcludeMounts {
		if matchesPattern(p.Mountpoint, pattern) {
			return false
		}
	}
	return true
}

func (c *Client) readNetwork(ctx context.Context) (*counters.CounterInfo, error) {
	group := counters.NewGroup("Network")

	ifaces, ifaceErr := gopsnet.InterfacesWithContext(ctx)

	if c.settings.gateway() {
		gw := counters.NewValue("Gateway", counters.Unavailable)
		gwIface := counters.NewValue("GatewayInterface", counters.Unavailable)
		if ip, err := discoverGateway(); err == nil && ip != nil {
			gw.SetValue(ip.String())
			if name := gatewayInterface(ip, ifaces); name != "" {
				gwIface.SetValue(name)
			}
		} else {
			c.logger.Debug("default gateway not found", "error", err)
		}
		group.Add(gw, gwIface)
	}

	if ifaceErr != nil {
		return group, fmt.Errorf("interfaces: %w", ifaceErr)
	}
	monitored := make(map[string]bool, len(ifaces))
	for _, iface := range ifaces {
		if shouldMonitorInterface(iface, c.settings.ExcludeInterfaces, c.settings.IncludeVirtual) {
			monitored[iface.Name] = true
		}
	}

	stats, err := gopsnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return group, fmt.Errorf("io counters: %w", err)
	}
	for _, st := range stats {
		if !monitored[st.Name] {
			continue
		}
		group.Add(
			counters.NewValue(st.Name+".RxBytes", counters.FormatValue(st.BytesRecv)),
			counters.NewValue(st.Name+".TxBytes", counters.FormatValue(st.BytesSent)),
		)
	}
	return group, nil
}

func (c *Client) readUptime(ctx context.Context) (*counters.CounterInfo, error) {
	group := counters.NewGroup("Uptime")

	secs, err := host.UptimeWithContext(ctx)
	if err != nil {
		return group, fmt.Errorf("uptime: %w", err)
	}
	group.Add(counters.NewValue("Seconds", counters.FormatValue(secs)))
	return group, nil
}

// mountName turns a mount point into a counter name without path
// separators: "/" is "root", "/var/log" is "var_log" and "C:" is "C".
func mountName(mount string) string {
	name := strings.Trim(mount, `/\:`)
	name = strings.NewReplacer("/", "_", `\`, "_", ":", "").Replace(name)
	if name == "" {
		return "root"
	}
	return name
}
