package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"perfwatch/internal/broadcast"
	"perfwatch/internal/config"
	"perfwatch/internal/conformance"
	"perfwatch/internal/monitor"
	"perfwatch/internal/source"
	"perfwatch/internal/sources"
)

// eventRecord is the JSON line printed for every monitor event.
type eventRecord struct {
	Source   string            `json:"source"`
	Session  string            `json:"session"`
	Time     time.Time         `json:"time"`
	Counters map[string]string `json:"counters,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func newEventRecord(ev monitor.Event) eventRecord {
	rec := eventRecord{
		Source:   ev.Source,
		Session:  ev.Session.String(),
		Time:     ev.Time,
		Warnings: ev.Warnings,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	if ev.Snapshot != nil {
		paths := ev.Snapshot.DeepestPaths()
		rec.Counters = make(map[string]string, len(paths))
		for i, p := range paths {
			if i < len(ev.Values) {
				rec.Counters[p] = ev.Values[i]
			}
		}
	}
	return rec
}

// writeEvents prints events until the subscription is closed.
func writeEvents(out io.Writer, sub *broadcast.Subscription[monitor.Event], logger *slog.Logger) {
	enc := json.NewEncoder(out)
	for ev := range sub.C {
		if err := enc.Encode(newEventRecord(ev)); err != nil {
			logger.Error("failed to write event", "source", ev.Source, "error", err)
		}
	}
}

// buildHost adds every enabled source to a new host. Sources that cannot be
// connected or discovered are logged and skipped.
func buildHost(ctx context.Context, cfg *config.Config, registry *source.Registry, logger *slog.Logger) (*monitor.Host, error) {
	host := monitor.NewHost(registry, cfg.MonitorConfig(), logger)
	targets := cfg.Targets()
	for _, target := range targets {
		if _, err := host.Add(ctx, target); err != nil {
			logger.Error("failed to add source", "source", target.Spec.Name, "error", err)
		}
	}
	if len(host.Monitors()) == 0 {
		return nil, fmt.Errorf("none of %d enabled sources could be started", len(targets))
	}
	return host, nil
}

// runConsoleMode watches every source until ctx is cancelled.
func runConsoleMode(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) int {
	logger.Info("running perfwatch in console mode")

	host, err := buildHost(ctx, cfg, sources.NewRegistry(logger), logger)
	if err != nil {
		logger.Error("failed to create host", "error", err)
		return 1
	}

	sub := host.Events(cfg.Host.SnapshotBuffer)
	written := make(chan struct{})
	go func() {
		defer close(written)
		writeEvents(out, sub, logger)
	}()

	err = host.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		// The event stream is left open when shutdown times out.
		logger.Error("host shutdown timed out", "error", err)
		return 1
	}
	<-written
	if err != nil {
		logger.Error("error during graceful shutdown", "error", err)
		return 1
	}
	logger.Info("perfwatch shutdown completed")
	return 0
}

// discoverRecord is the JSON line printed for every discovered source.
type discoverRecord struct {
	Source       string          `json:"source"`
	Type         string          `json:"type"`
	Capabilities string          `json:"capabilities"`
	Available    json.RawMessage `json:"available,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// runDiscover prints the available counters of every enabled source.
func runDiscover(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) int {
	registry := sources.NewRegistry(logger)
	enc := json.NewEncoder(out)
	code := 0
	for _, target := range cfg.Targets() {
		rec := discover(ctx, registry, target.Spec, cfg.Host.Timeout)
		if rec.Error != "" {
			logger.Error("discovery failed", "source", rec.Source, "error", rec.Error)
			code = 1
		}
		if err := enc.Encode(rec); err != nil {
			logger.Error("failed to write discovery", "source", rec.Source, "error", err)
			return 1
		}
	}
	return code
}

func discover(ctx context.Context, registry *source.Registry, spec source.Spec, timeout time.Duration) discoverRecord {
	rec := discoverRecord{Source: spec.Name, Type: spec.Type}
	client, err := registry.New(spec, nil)
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	rec.Capabilities = client.Capabilities().String()

	m := monitor.New(client, monitor.WithTimeout(spec.TimeoutOr(timeout)))
	defer m.Close()

	if err := m.Connect(ctx); err != nil {
		rec.Error = err.Error()
		return rec
	}
	available, err := m.Available(ctx)
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	data, err := available.Marshal()
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	rec.Available = data
	return rec
}

// runConformance checks every enabled source and prints one line per source.
func runConformance(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) int {
	registry := sources.NewRegistry(logger)

	var clients []source.Client
	code := 0
	for _, target := range cfg.Targets() {
		client, err := registry.New(target.Spec, nil)
		if err != nil {
			logger.Error("failed to create source", "source", target.Spec.Name, "error", err)
			code = 1
			continue
		}
		clients = append(clients, client)
	}
	defer func() {
		for _, c := range clients {
			if err := c.Close(); err != nil {
				logger.Warn("failed to close source", "source", c.Name(), "error", err)
			}
		}
	}()
	if len(clients) == 0 {
		fmt.Fprintln(out, "no sources to check")
		return 1
	}

	runner := conformance.NewRunner(conformance.Config{
		Rounds:            cfg.Conformance.Rounds,
		SnapshotsPerRound: cfg.Conformance.SnapshotsPerRound,
		Workers:           cfg.Conformance.Workers,
		Seed:              cfg.Conformance.Seed,
	}, logger)
	logger.Info("running conformance checks", "sources", len(clients), "seed", runner.Seed())

	for _, report := range runner.Run(ctx, clients) {
		fmt.Fprintln(out, formatReport(report))
		if !report.OK() {
			code = 1
		}
	}
	return code
}

func formatReport(r conformance.Report) string {
	status := "PASS"
	if !r.OK() {
		status = "FAIL"
	}
	line := fmt.Sprintf("%s %s: %d/%d rounds passed (seed %d, %s)",
		status, r.Source, r.Passed, r.Passed+r.Failed, r.Seed, r.Duration.Round(time.Millisecond))
	if err := r.FirstError(); err != nil {
		line += ": " + err.Error()
	}
	return line
}
