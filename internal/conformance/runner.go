// Package conformance checks that sources answer arbitrary wanted trees with
// snapshots that follow the tree rules.
package conformance

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"time"

	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
	"perfwatch/internal/monitor"
	"perfwatch/internal/pool"
	"perfwatch/internal/source"
)

// Config controls a conformance run.
type Config struct {
	Rounds            int
	SnapshotsPerRound int
	Workers           int
	// Seed makes the drawn wanted trees reproducible. Zero picks a random seed.
	Seed uint64
	// Interval is the polling interval used while collecting snapshots.
	Interval time.Duration
	// RoundTimeout bounds a single round.
	RoundTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Rounds <= 0 {
		c.Rounds = 10
	}
	if c.SnapshotsPerRound <= 0 {
		c.SnapshotsPerRound = 3
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Seed == 0 {
		c.Seed = rand.Uint64()
	}
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = 30 * time.Second
	}
}

// RoundResult is the outcome of one randomly drawn wanted tree.
type RoundResult struct {
	Round     int
	Wanted    []string
	Snapshots int
	Err       error
}

// Report summarizes every round run against one source.
type Report struct {
	Source   string
	Seed     uint64
	Rounds   []RoundResult
	Passed   int
	Failed   int
	Duration time.Duration
	Err      error
}

// OK reports whether every round passed.
func (r Report) OK() bool {
	return r.Err == nil && r.Failed == 0 && r.Passed > 0
}

// FirstError returns the first failure, if any.
func (r Report) FirstError() error {
	if r.Err != nil {
		return r.Err
	}
	for _, round := range r.Rounds {
		if round.Err != nil {
			return fmt.Errorf("round %d: %w", round.Round, round.Err)
		}
	}
	return nil
}

// Runner executes conformance rounds against many sources in parallel.
type Runner struct {
	config Config
	logger *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(config Config, logger *slog.Logger) *Runner {
	config.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{config: config, logger: logger.With("component", "conformance")}
}

// Seed returns the seed in use.
func (r *Runner) Seed() uint64 { return r.config.Seed }

// Run checks every client and returns one report per client in input order.
// Clients are not closed.
func (r *Runner) Run(ctx context.Context, clients []source.Client) []Report {
	wp := pool.NewWorkerPool[Report](pool.WorkerPoolConfig{
		NumWorkers: r.config.Workers,
		Logger:     r.logger,
	})
	if err := wp.Start(ctx); err != nil {
		reports := make([]Report, len(clients))
		for i, c := range clients {
			reports[i] = Report{Source: c.Name(), Err: err}
		}
		return reports
	}
	defer wp.Stop()

	tasks := make([]pool.Task[Report], len(clients))
	for i, c := range clients {
		tasks[i] = pool.Task[Report]{
			Name: c.Name(),
			Run: func(ctx context.Context) (Report, error) {
				return r.RunSource(ctx, c), nil
			},
		}
	}

	reports := make([]Report, len(clients))
	for i, res := range wp.RunAll(ctx, tasks) {
		reports[i] = res.Value
		if res.Err != nil {
			reports[i] = Report{Source: res.Name, Err: res.Err}
		}
	}
	return reports
}

// RunSource runs every round against one client.
func (r *Runner) RunSource(ctx context.Context, client source.Client) Report {
	start := time.Now()
	seed := r.sourceSeed(client.Name())
	report := Report{Source: client.Name(), Seed: seed}
	logger := r.logger.With("source", client.Name())

	m := monitor.New(client,
		monitor.WithLogger(r.logger),
		monitor.WithInterval(r.config.Interval),
	)
	defer func() {
		m.Stop()
		_ = m.Disconnect()
		report.Duration = time.Since(start)
	}()

	if err := m.Connect(ctx); err != nil {
		report.Err = err
		return report
	}

	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	for round := 1; round <= r.config.Rounds; round++ {
		if ctx.Err() != nil {
			report.Err = ctx.Err()
			break
		}
		res := r.runRound(ctx, m, rng)
		res.Round = round
		report.Rounds = append(report.Rounds, res)
		if res.Err != nil {
			report.Failed++
			logger.Warn("conformance round failed", "round", round, "wanted", res.Wanted, "error", res.Err)
		} else {
			report.Passed++
			logger.Debug("conformance round passed", "round", round, "snapshots", res.Snapshots)
		}
	}
	return report
}

func (r *Runner) runRound(ctx context.Context, m *monitor.Monitor, rng *rand.Rand) RoundResult {
	var res RoundResult
	ctx, cancel := context.WithTimeout(ctx, r.config.RoundTimeout)
	defer cancel()

	available, err := m.Refresh(ctx)
	if err != nil {
		res.Err = fmt.Errorf("discover: %w", err)
		return res
	}

	wanted, err := counters.RandomWanted(available, rng)
	if err != nil {
		res.Err = err
		return res
	}
	res.Wanted = wanted.DeepestPaths()
	if !counters.AtLeastOnePerLevel(wanted) {
		res.Err = perrors.MalformedTree("drawn wanted tree has an empty level", "")
		return res
	}
	if err := m.SetWanted(ctx, wanted); err != nil {
		res.Err = fmt.Errorf("set wanted: %w", err)
		return res
	}

	res.Snapshots, res.Err = r.collect(ctx, m, wanted)
	return res
}

// collect gathers snapshots through the monitor so each one passes the same
// validation a production monitor applies, then checks the shape again.
func (r *Runner) collect(ctx context.Context, m *monitor.Monitor, wanted *counters.Entities) (int, error) {
	sub := m.Subscribe(r.config.SnapshotsPerRound * 2)
	defer m.Unsubscribe(sub)

	if err := m.Start(ctx); err != nil {
		return 0, err
	}
	defer m.Stop()

	got := 0
	for got < r.config.SnapshotsPerRound {
		select {
		case <-ctx.Done():
			return got, fmt.Errorf("collected %d of %d snapshots: %w", got, r.config.SnapshotsPerRound, ctx.Err())
		case ev, ok := <-sub.C:
			if !ok {
				return got, errors.New("monitor closed")
			}
			if ev.Err != nil {
				return got, ev.Err
			}
			if !ev.Snapshot.Match(wanted, false) {
				return got, perrors.StructuralMismatch("snapshot does not match wanted tree")
			}
			got++
		}
	}
	return got, nil
}

func (r *Runner) sourceSeed(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return r.config.Seed ^ h.Sum64()
}
