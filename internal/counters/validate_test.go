package counters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "perfwatch/internal/errors"
)

func TestValidateCounters_Passes(t *testing.T) {
	wanted := valuesTree().Shape()
	snapshot := permuted(valuesTree())

	result, err := ValidateCounters(snapshot, wanted)
	require.NoError(t, err)
	assert.Len(t, result.Values, 7)
	assert.Empty(t, result.Warnings)
}

func TestValidateCounters_AllNullDeepestLevelIsAllowed(t *testing.T) {
	wanted := hostTree()
	result, err := ValidateCounters(hostTree(), wanted)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "", ""}, result.Values)
}

func TestValidateCounters_MixedNullsFail(t *testing.T) {
	wanted := hostTree()
	snapshot := hostTree()
	snapshot.Lookup("Host", "CPU", "Core0").SetValue("1")

	_, err := ValidateCounters(snapshot, wanted)
	require.Error(t, err)
	assert.True(t, perrors.IsMalformedTree(err))
	assert.Contains(t, err.Error(), "Host/CPU")
}

func TestValidateCounters_NullsAcrossParentsAreNotMixed(t *testing.T) {
	wanted := hostTree()
	snapshot := hostTree()
	snapshot.Lookup("VM1", "CPU", "Core0").SetValue("1")

	_, err := ValidateCounters(snapshot, wanted)
	assert.NoError(t, err)
}

func TestValidateCounters_MixedNullsAtEntityLevel(t *testing.T) {
	wanted := NewEntities(NewEntity("Host", true, NewCounter("Up"), NewCounter("Load")))
	snapshot := NewEntities(NewEntity("Host", true, NewValue("Up", "1"), NewCounter("Load")))

	_, err := ValidateCounters(snapshot, wanted)
	assert.True(t, perrors.IsMalformedTree(err))
}

func TestValidateCounters_DuplicateNamesFail(t *testing.T) {
	wanted := hostTree()
	snapshot := hostTree()
	snapshot.Subs[0].Subs[0].Subs[1].Name = "Core0"

	_, err := ValidateCounters(snapshot, wanted)
	require.Error(t, err)
	assert.True(t, perrors.IsMalformedTree(err))
	assert.Contains(t, err.Error(), "duplicate counter name Host/CPU/Core0")
}

func TestValidateCounters_CountMismatchFails(t *testing.T) {
	wanted := hostTree()
	snapshot := hostTree()
	snapshot.Subs[0].Subs[0].Add(NewCounter("Core2"))

	_, err := ValidateCounters(snapshot, wanted)
	require.Error(t, err)
	assert.True(t, perrors.IsMalformedTree(err))
	assert.Contains(t, err.Error(), "#received (9) != #wanted (8)")
}

func TestValidateCounters_EntitySetChangeFails(t *testing.T) {
	wanted := hostTree()
	snapshot := hostTree()
	snapshot.Subs = snapshot.Subs[:1]

	_, err := ValidateCounters(snapshot, wanted)
	require.Error(t, err)
	assert.True(t, perrors.IsStructuralMismatch(err))
	assert.Contains(t, err.Error(), "entity VM1 vanished from the source")

	snapshot = hostTree()
	snapshot.Add(NewEntity("VM2", true, NewGroup("CPU", NewCounter("Core0"))))
	_, err = ValidateCounters(snapshot, wanted)
	require.Error(t, err)
	assert.True(t, perrors.IsStructuralMismatch(err))
	assert.Contains(t, err.Error(), "entity VM2 was not wanted")
}

func TestValidateCounters_ShapeMismatchFails(t *testing.T) {
	wanted := hostTree()
	snapshot := hostTree()
	snapshot.Subs[1].Subs[0].Subs[0].Name = "Core9"

	_, err := ValidateCounters(snapshot, wanted)
	require.Error(t, err)
	assert.True(t, perrors.IsStructuralMismatch(err))
	assert.Contains(t, err.Error(), "missing VM1/CPU/Core0")
	assert.Contains(t, err.Error(), "unexpected VM1/CPU/Core9")
}

func TestValidateCounters_WarnsOnValuesAboveDeepestLevel(t *testing.T) {
	wanted := hostTree()
	snapshot := hostTree()
	snapshot.Subs[0].Subs[0].SetValue("oops")

	result, err := ValidateCounters(snapshot, wanted)
	require.NoError(t, err)
	assert.Equal(t, []string{"Host/CPU"}, result.Warnings)
}

func TestValidateCounters_NegativeWantedLevel(t *testing.T) {
	wanted := NewEntities(NewEntity("Host", true))
	_, err := ValidateCounters(NewEntities(NewEntity("Host", true)), wanted)
	require.Error(t, err)
	assert.True(t, perrors.IsMalformedTree(err))
	assert.Contains(t, err.Error(), "wanted level is negative")

	_, err = ValidateCounters(nil, wanted)
	assert.True(t, perrors.IsMalformedTree(err))
}

func TestValidateWanted(t *testing.T) {
	available := hostTree()
	available.Add(NewEntity("VM2", false, NewGroup("CPU", NewCounter("Core0"))))

	testCases := []struct {
		name     string
		wanted   *Entities
		mismatch bool
		ok       bool
	}{
		{"subset", wantedCore0(), false, true},
		{"full", hostTree(), false, true},
		{"empty", NewEntities(), false, false},
		{"unknown entity", NewEntities(NewEntity("VM7", true, NewCounter("x"))), true, false},
		{"unavailable entity", NewEntities(NewEntity("VM2", true, NewGroup("CPU", NewCounter("Core0")))), false, false},
		{"entity without counters", NewEntities(NewEntity("Host", true), NewEntity("VM1", true, NewGroup("CPU", NewCounter("Core0")))), false, false},
		{"unknown counter", NewEntities(NewEntity("Host", true, NewGroup("CPU", NewCounter("Core5")))), true, false},
		{"group selects nothing", NewEntities(NewEntity("Host", true, NewCounter("CPU"))), false, false},
		{"leaf treated as group", NewEntities(NewEntity("Host", true, NewGroup("CPU", NewGroup("Core0", NewCounter("x"))))), true, false},
		{"duplicates", NewEntities(NewEntity("Host", true, NewGroup("CPU", NewCounter("Core0"), NewCounter("Core0")))), false, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateWanted(tc.wanted, available)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.mismatch, perrors.IsStructuralMismatch(err), err.Error())
			assert.Equal(t, !tc.mismatch, perrors.IsMalformedTree(err), err.Error())
		})
	}
}
