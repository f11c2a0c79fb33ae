package wmi

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	"perfwatch/internal/source"
)

func TestReading_Tree(t *testing.T) {
	r := reading{
		processors: []win32Processor{
			{Name: "0", PercentProcessorTime: 12},
			{Name: "1", PercentProcessorTime: 30},
			{Name: "_Total", PercentProcessorTime: 21},
		},
		memory:  &win32Memory{AvailableMBytes: 2048, PercentCommittedBytesInUse: 40},
		updates: &updateCounts{Pending: 3, Security: 1},
		uptime:  90 * time.Second,
	}

	es := r.tree(false)
	names := make([]string, 0, len(es.Subs))
	for _, e := range es.Subs {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Processor", "Memory", "System", "Updates"}, names)

	v, ok := es.Lookup("Processor", "Core1", "PercentProcessorTime").Value()
	require.True(t, ok)
	assert.Equal(t, "30", v)
	assert.NotNil(t, es.Lookup("Processor", "Total", "PercentIdleTime"))
	v, _ = es.Lookup("Updates", "Updates", "Security").Value()
	assert.Equal(t, "1", v)
	v, _ = es.Lookup("System", "Uptime", "Seconds").Value()
	assert.Equal(t, "90", v)

	wanted, err := counters.AllWanted(es)
	require.NoError(t, err)
	_, err = counters.ValidateCounters(counters.ProjectFilled(es, wanted), wanted)
	require.NoError(t, err)
}

func TestReading_TreeWithFailures(t *testing.T) {
	es := reading{}.tree(true)
	assert.Nil(t, es.Entity("Updates"))
	assert.False(t, es.Entity("Processor").IsAvailable)
	assert.False(t, es.Entity("Memory").IsAvailable)
	_, ok := es.Lookup("Memory", "Memory", "AvailableMBytes").Value()
	assert.False(t, ok)
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "Total", instanceName("_Total"))
	assert.Equal(t, "Core7", instanceName("7"))
	assert.Equal(t, "Core0,1", instanceName("0,1"))
	assert.Equal(t, "Unknown", instanceName(""))
	assert.Equal(t, "Node", instanceName("Node"))
}

func TestNew_Platform(t *testing.T) {
	client, err := New(source.Spec{Name: "win", Type: TypeName}, nil)
	if runtime.GOOS != "windows" {
		require.Error(t, err)
		assert.Equal(t, perrors.ErrTypeUnsupported, perrors.GetErrorType(err))
		return
	}
	require.NoError(t, err)
	require.NoError(t, source.CheckCapabilities(client))
}

func TestRegister(t *testing.T) {
	r := source.NewRegistry(nil)
	require.NoError(t, Register(r))
	assert.True(t, r.Has(TypeName))
}
