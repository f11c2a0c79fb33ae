// Package wmi reads Windows performance counters through WMI and pending
// update counts through the Windows Update Agent. On other platforms the
// factory reports the source as unsupported.
package wmi

import (
	"time"

	"perfwatch/internal/counters"
	"perfwatch/internal/source"
)

// TypeName is the registry key of the wmi source.
const TypeName = "wmi"

// Settings are the wmi source options.
type Settings struct {
	// UpdatesTTL is how long update counts are reused. Searching is slow.
	UpdatesTTL time.Duration `yaml:"updates_ttl" validate:"min=0"`
	// SkipUpdates leaves the Updates entity out.
	SkipUpdates bool `yaml:"skip_updates"`
}

// Register adds the wmi source to r.
func Register(r *source.Registry) error {
	return r.Register(TypeName, New)
}

// win32Processor mirrors Win32_PerfFormattedData_PerfOS_Processor.
type win32Processor struct {
	Name                  string
	PercentProcessorTime  uint64
	PercentIdleTime       uint64
	PercentPrivilegedTime uint64
	PercentUserTime       uint64
}

// win32Memory mirrors Win32_PerfFormattedData_PerfOS_Memory.
type win32Memory struct {
	AvailableMBytes            uint64
	CommittedBytes             uint64
	PagesPersec                uint32
	PercentCommittedBytesInUse uint32
}

// updateCounts are pending Windows updates; security updates carry an MSRC
// severity.
type updateCounts struct {
	Pending  int
	Security int
}

// reading is one full pass over every query. A nil part failed.
type reading struct {
	processors []win32Processor
	memory     *win32Memory
	updates    *updateCounts
	uptime     time.Duration
}

// tree lays a reading out as entities Processor (one group per instance),
// Memory, System and Updates.
func (r reading) tree(skipUpdates bool) *counters.Entities {
	out := counters.NewEntities()

	proc := counters.NewEntity("Processor", len(r.processors) > 0)
	for _, p := range r.processors {
		proc.Add(counters.NewGroup(instanceName(p.Name),
			counters.NewValue("PercentProcessorTime", counters.FormatValue(p.PercentProcessorTime)),
			counters.NewValue("PercentIdleTime", counters.FormatValue(p.PercentIdleTime)),
			counters.NewValue("PercentPrivilegedTime", counters.FormatValue(p.PercentPrivilegedTime)),
			counters.NewValue("PercentUserTime", counters.FormatValue(p.PercentUserTime)),
		))
	}
	out.Add(proc)

	mem := counters.NewGroup("Memory",
		counters.NewCounter("AvailableMBytes"),
		counters.NewCounter("CommittedBytes"),
		counters.NewCounter("PagesPersec"),
		counters.NewCounter("PercentCommittedBytesInUse"),
	)
	if m := r.memory; m != nil {
		mem.Child("AvailableMBytes").SetValue(counters.FormatValue(m.AvailableMBytes))
		mem.Child("CommittedBytes").SetValue(counters.FormatValue(m.CommittedBytes))
		mem.Child("PagesPersec").SetValue(counters.FormatValue(m.PagesPersec))
		mem.Child("PercentCommittedBytesInUse").SetValue(counters.FormatValue(m.PercentCommittedBytesInUse))
	}
	out.Add(counters.NewEntity("Memory", r.memory != nil, mem))

	out.Add(counters.NewEntity("System", true,
		counters.NewGroup("Uptime", counters.NewValue("Seconds", counters.FormatValue(int64(r.uptime.Seconds())))),
	))

	if !skipUpdates {
		counts := counters.NewGroup("Updates",
			counters.NewCounter("Pending"),
			counters.NewCounter("Security"),
		)
		if u := r.updates; u != nil {
			counts.Child("Pending").SetValue(counters.FormatValue(u.Pending))
			counts.Child("Security").SetValue(counters.FormatValue(u.Security))
		}
		out.Add(counters.NewEntity("Updates", r.updates != nil, counts))
	}
	return out
}

// instanceName maps WMI instance names to group names: "_Total" becomes
// "Total" and "3" becomes "Core3".
func instanceName(name string) string {
	switch {
	case name == "_Total":
		return "Total"
	case name != "" && name[0] >= '0' && name[0] <= '9':
		return "Core" + name
	case name == "":
		return "Unknown"
	}
	return name
}
