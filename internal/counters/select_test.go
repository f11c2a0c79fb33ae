package counters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "perfwatch/internal/errors"
)

func TestAllWanted(t *testing.T) {
	available := valuesTree()
	available.Add(NewEntity("Bare", true))

	wanted, err := AllWanted(available)
	require.NoError(t, err)
	require.Len(t, wanted.Subs, 1)
	assert.Equal(t, "Host", wanted.Subs[0].Name)
	assert.Equal(t, []string{"", "", "", ""}, wanted.DeepestValues())
	assert.NoError(t, ValidateWanted(wanted, available))

	_, err = AllWanted(NewEntities(NewEntity("Down", false, NewGroup("CPU", NewCounter("Core0")))))
	assert.True(t, perrors.IsMalformedTree(err))
}

func TestSelect(t *testing.T) {
	available := valuesTree()
	available.Entity("VM1").IsAvailable = true

	wanted, err := Select(available, "Host/CPU/Core1", "Host/Memory", "VM1/Disk/Read")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Host/CPU/Core1",
		"Host/Memory/Used",
		"Host/Memory/Free",
		"VM1/Disk/Read",
	}, wanted.DeepestPaths())
	assert.NoError(t, ValidateWanted(wanted, available))

	whole, err := Select(available, "Host")
	require.NoError(t, err)
	assert.Equal(t, 4, len(whole.DeepestPaths()))

	_, err = Select(available, "Nope/CPU")
	assert.True(t, perrors.IsStructuralMismatch(err))
	_, err = Select(available, "Host/CPU/Core7")
	assert.True(t, perrors.IsStructuralMismatch(err))
	_, err = Select(available, "Host/CPU/Core0/Deeper")
	assert.True(t, perrors.IsStructuralMismatch(err))
	_, err = Select(available, "", "/")
	assert.True(t, perrors.IsMalformedTree(err))
}

func TestRetain(t *testing.T) {
	wanted := hostTree().Shape()

	kept, dropped := Retain(wanted, hostTree())
	assert.True(t, kept.Match(wanted, false))
	assert.Empty(t, dropped)

	available := hostTree()
	available.Subs = available.Subs[:1]
	kept, dropped = Retain(wanted, available)
	assert.Equal(t, []string{"Host/CPU/Core0", "Host/CPU/Core1"}, kept.DeepestPaths())
	assert.Equal(t, []string{"VM1"}, dropped)

	available = hostTree()
	available.Entity("VM1").IsAvailable = false
	kept, dropped = Retain(wanted, available)
	assert.Nil(t, kept.Entity("VM1"))
	assert.Equal(t, []string{"VM1"}, dropped)
}

func TestRetain_DropsRemovedCounters(t *testing.T) {
	wanted := hostTree().Shape()
	available := NewEntities(
		NewEntity("Host", true, NewGroup("CPU", NewCounter("Core1"))),
		NewEntity("VM1", true, NewGroup("Disk", NewCounter("Read"))),
	)

	kept, dropped := Retain(wanted, available)
	require.NotNil(t, kept)
	assert.Equal(t, []string{"Host/CPU/Core1"}, kept.DeepestPaths())
	assert.Equal(t, []string{"Host/CPU/Core0", "VM1/CPU"}, dropped)
	assert.NoError(t, ValidateWanted(kept, available))

	kept, dropped = Retain(wanted, NewEntities(NewEntity("Other", true)))
	assert.Nil(t, kept)
	assert.Equal(t, []string{"Host", "VM1"}, dropped)

	kept, dropped = Retain(nil, available)
	assert.Nil(t, kept)
	assert.Nil(t, dropped)
}
