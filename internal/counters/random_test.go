package counters

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomWanted_AtLeastOnePerLevel(t *testing.T) {
	available := hostTree()
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 100; i++ {
		wanted, err := RandomWanted(available, rng)
		require.NoError(t, err)
		require.True(t, AtLeastOnePerLevel(wanted), "round %d produced an empty level", i)
		for _, e := range wanted.Subs {
			cpu := e.Child("CPU")
			require.NotNil(t, cpu)
			assert.NotEmpty(t, cpu.Subs)
		}
		assert.NoError(t, ValidateWanted(wanted, available))
	}
}

func TestRandomWanted_UnseededStillHoldsInvariant(t *testing.T) {
	for i := 0; i < 20; i++ {
		wanted, err := RandomWanted(valuesTree(), nil)
		require.NoError(t, err)
		assert.True(t, AtLeastOnePerLevel(wanted))
		for _, v := range wanted.DeepestValues() {
			assert.Empty(t, v)
		}
	}
}

func TestRandomWanted_OnlyAvailableEntities(t *testing.T) {
	available := hostTree()
	available.Subs[1].IsAvailable = false
	available.Add(NewEntity("Bare", true))

	rng := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 50; i++ {
		wanted, err := RandomWanted(available, rng)
		require.NoError(t, err)
		require.Len(t, wanted.Subs, 1)
		assert.Equal(t, "Host", wanted.Subs[0].Name)
	}
}

func TestRandomWanted_NoEligibleEntity(t *testing.T) {
	_, err := RandomWanted(NewEntities(NewEntity("Off", false, NewCounter("x"))), nil)
	assert.Error(t, err)

	_, err = RandomWanted(nil, nil)
	assert.Error(t, err)
}

func TestAtLeastOnePerLevel(t *testing.T) {
	assert.True(t, AtLeastOnePerLevel(hostTree()))
	assert.False(t, AtLeastOnePerLevel(NewEntities()))
	assert.False(t, AtLeastOnePerLevel(NewEntities(NewEntity("Host", true))))
	assert.False(t, AtLeastOnePerLevel(NewEntities(NewEntity("Host", true, NewGroup("CPU")))))
}
