package conformance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	"perfwatch/internal/source"
	"perfwatch/internal/source/sourcetest"
)

func catalog() *counters.Entities {
	return counters.NewEntities(
		counters.NewEntity("Host", true,
			counters.NewGroup("CPU", counters.NewValue("Core0", "1"), counters.NewValue("Core1", "2")),
			counters.NewGroup("Memory", counters.NewValue("Used", "3"), counters.NewValue("Free", "4")),
		),
		counters.NewEntity("VM1", true,
			counters.NewGroup("Disk", counters.NewValue("Read", "5"), counters.NewValue("Write", "6")),
		),
		counters.NewEntity("VM2", false,
			counters.NewGroup("Disk", counters.NewValue("Read", "-1")),
		),
	)
}

func testConfig() Config {
	return Config{
		Rounds:            5,
		SnapshotsPerRound: 2,
		Workers:           2,
		Seed:              7,
		Interval:          2 * time.Millisecond,
		RoundTimeout:      2 * time.Second,
	}
}

func TestRunner_ConformingSources(t *testing.T) {
	polled := sourcetest.NewFake("polled", catalog())
	pushed := sourcetest.NewFake("pushed", catalog())
	pushed.Caps = source.CapPushable
	pushed.PushInterval = 2 * time.Millisecond

	r := NewRunner(testConfig(), nil)
	reports := r.Run(context.Background(), []source.Client{polled, pushed})
	require.Len(t, reports, 2)

	for _, rep := range reports {
		assert.True(t, rep.OK(), "%s: %v", rep.Source, rep.FirstError())
		assert.Equal(t, 5, rep.Passed)
		require.Len(t, rep.Rounds, 5)
		for _, round := range rep.Rounds {
			assert.NotEmpty(t, round.Wanted)
			assert.Equal(t, 2, round.Snapshots)
			for _, p := range round.Wanted {
				assert.NotContains(t, p, "VM2", "unavailable entities are never drawn")
			}
		}
	}
	assert.Equal(t, "polled", reports[0].Source)
	assert.False(t, polled.Closed(), "runner does not close clients")
}

func TestRunner_SeedIsReproducible(t *testing.T) {
	draw := func() [][]string {
		rep := NewRunner(testConfig(), nil).RunSource(context.Background(), sourcetest.NewFake("s", catalog()))
		var out [][]string
		for _, round := range rep.Rounds {
			out = append(out, round.Wanted)
		}
		return out
	}
	assert.Equal(t, draw(), draw())
}

func TestRunner_DetectsNonConformingSource(t *testing.T) {
	bad := sourcetest.NewFake("bad", catalog())
	bad.PollFunc = func(_ context.Context, wanted *counters.Entities) (*counters.Entities, error) {
		out := counters.Project(catalog(), wanted)
		out.Add(counters.NewEntity("Extra", true, counters.NewGroup("X", counters.NewValue("Y", "1"))))
		return out, nil
	}

	cfg := testConfig()
	cfg.Rounds = 2
	rep := NewRunner(cfg, nil).RunSource(context.Background(), bad)

	assert.False(t, rep.OK())
	assert.Equal(t, 2, rep.Failed)
	err := rep.FirstError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "round 1")
	assert.Contains(t, err.Error(), "entity Extra was not wanted")
	assert.True(t, perrors.IsStructuralMismatch(err))
}

func TestRunner_DiscoveryFailure(t *testing.T) {
	broken := sourcetest.NewFake("broken", catalog())
	broken.DiscoverErr = perrors.NetworkError("unreachable", nil)

	cfg := testConfig()
	cfg.Rounds = 1
	rep := NewRunner(cfg, nil).RunSource(context.Background(), broken)
	assert.False(t, rep.OK())
	assert.ErrorContains(t, rep.FirstError(), "discover")
}

func TestRunner_NoEligibleEntity(t *testing.T) {
	down := sourcetest.NewFake("down", counters.NewEntities(
		counters.NewEntity("VM2", false, counters.NewGroup("Disk", counters.NewCounter("Read"))),
	))
	cfg := testConfig()
	cfg.Rounds = 1
	rep := NewRunner(cfg, nil).RunSource(context.Background(), down)
	require.Len(t, rep.Rounds, 1)
	assert.True(t, perrors.IsMalformedTree(rep.Rounds[0].Err))
}
