package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
logging:
  level: debug
  format: text
host:
  poll_interval: 5s
  retry_attempts: 2
sources:
  - name: node
    type: local
  - name: pdu
    type: pdu
    enabled: false
    interval: 30s
    settings:
      address: 10.0.0.20
      outlets: 8
  - name: nn
    type: jmx
    wanted: ["Hadoop:service=NameNode,name=JvmMetrics/Attributes"]
    settings:
      url: http://namenode:9870
conformance:
  rounds: 3
  seed: 42
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), "local", "pdu", "jmx")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 5*time.Second, cfg.Host.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Host.Timeout, "default applied")
	assert.Equal(t, 3, cfg.Conformance.Rounds)
	assert.Equal(t, uint64(42), cfg.Conformance.Seed)
	assert.Equal(t, 3, cfg.Conformance.SnapshotsPerRound)

	require.Len(t, cfg.Sources, 3)
	assert.False(t, cfg.Sources[1].IsEnabled())
	assert.Equal(t, 30*time.Second, cfg.Sources[1].Spec().Interval)
	assert.Equal(t, 8, cfg.Sources[1].Settings["outlets"])

	targets := cfg.Targets()
	require.Len(t, targets, 2)
	assert.Equal(t, "node", targets[0].Spec.Name)
	assert.Equal(t, []string{"Hadoop:service=NameNode,name=JvmMetrics/Attributes"}, targets[1].Wanted)

	hc := cfg.MonitorConfig()
	assert.Equal(t, 2, hc.Retry.Attempts)
	assert.Equal(t, 64, hc.EventBuffer)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("PERFWATCH_LOG_LEVEL", "warn")
	t.Setenv("PERFWATCH_LOG_FORMAT", "json")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad level", "logging: {level: loud}\nsources: [{name: a, type: local}]", "logging.level"},
		{"missing name", "sources: [{type: local}]", "sources[0].name"},
		{"duplicate names", "sources: [{name: a, type: local}, {name: a, type: local}]", "must be unique"},
		{"unknown type", "sources: [{name: a, type: snmp}]", "sources[0].type"},
		{"no enabled source", "sources: [{name: a, type: local, enabled: false}]", "at least one enabled source"},
		{"interval too small", "sources: [{name: a, type: local, interval: 1ms}]", "sources[0].interval"},
		{"negative workers", "conformance: {workers: -1}\nsources: [{name: a, type: local}]", "conformance.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "local")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("sources: ["))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, ValidateConfig(cfg, "local"))
	require.Len(t, cfg.Targets(), 1)
	assert.Equal(t, "local", cfg.Targets()[0].Spec.Type)
}

func TestWriteExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "perfwatch.yaml")
	require.NoError(t, WriteExample(path))
	assert.Error(t, WriteExample(path), "existing file is kept")

	cfg, err := Load(path, "local", "self")
	require.NoError(t, err)
	assert.Len(t, cfg.Sources, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
