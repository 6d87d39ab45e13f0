package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
	"github.com/FranciscoCL13/carga-masiva/pkg/sheet"
)

const sampleYAML = `
engine:
  base_url: http://kie.local:8080/kie-server/services/rest/server
  container_id: tramites_1.0.0
  process_id: tramites.solicitud
  username: wbadmin
  password: secret
  request_timeout: 10s
polling:
  max_attempts: 10
  interval: 500ms
batch:
  concurrency: 4
  layout: stages
  instance_sheet: Hoja1
  date_columns: [fec_oficio_sol]
  stages:
    - name: registro
    - name: sedatu
      sheet: Hoja2
      node_id: _E973B1E6
      selector: {node_id: _E973B1E6, owner: wbadmin, match: any}
    - name: indaabin
      sheet: Hoja3
      node_id: _1B8C21A8
      required: true
server:
  address: ":8081"
  body_limit: 1048576
telemetry:
  service_name: carga
  logging: {level: debug, format: console, output: stdout}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "carga.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "tramites_1.0.0", cfg.Engine.ContainerID)
	assert.Equal(t, 10*time.Second, cfg.Engine.RequestTimeout)
	assert.Equal(t, 10, cfg.Polling.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Polling.Interval)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.Equal(t, []string{"fec_oficio_sol"}, cfg.Batch.DateColumns)
	require.Len(t, cfg.Batch.Stages, 3)
	assert.Equal(t, engine.MatchAny, cfg.Batch.Stages[1].Selector.Match)
	assert.True(t, cfg.Batch.Stages[2].Required)
	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultConfig().Server.ReadTimeout, cfg.Server.ReadTimeout)
	assert.Equal(t, "deny", cfg.Policy.Rule)
}

func TestLoaderPrecedence(t *testing.T) {
	l := NewLoader().
		WithConfigPath(writeConfig(t, sampleYAML)).
		WithCmdArgs(map[string]string{
			"batch.concurrency":       "8",
			"telemetry.logging.level": "warn",
			"engine.request_timeout":  "3s",
			"batch.selector.owner":    "analista",
		})
	l.lookupEnv = envMap(map[string]string{
		"CARGA_BATCH_CONCURRENCY":  "2",
		"CARGA_POLL_MAX_ATTEMPTS":  "5",
		"CARGA_ENGINE_PASSWORD":    "from-env",
		"CARGA_BATCH_DATE_COLUMNS": "a, b ,",
		"CARGA_LOG_FORMAT":         "json",
	})

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Batch.Concurrency, "flags beat env")
	assert.Equal(t, 5, cfg.Polling.MaxAttempts, "env beats file")
	assert.Equal(t, "from-env", cfg.Engine.Password)
	assert.Equal(t, []string{"a", "b"}, cfg.Batch.DateColumns)
	assert.Equal(t, "json", cfg.Telemetry.Logging.Format)
	assert.Equal(t, "warn", cfg.Telemetry.Logging.Level)
	assert.Equal(t, 3*time.Second, cfg.Engine.RequestTimeout)
	assert.Equal(t, "analista", cfg.Batch.Selector.Owner)
}

func TestLoaderErrors(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		l := NewLoader().
			WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).
			WithCmdArgs(map[string]string{
				"engine.container_id": "c",
				"engine.process_id":   "p",
			})
		l.lookupEnv = envMap(nil)
		cfg, err := l.Load()
		require.NoError(t, err)
		assert.Equal(t, 20, cfg.Polling.MaxAttempts)
		assert.Equal(t, time.Second, cfg.Polling.Interval)
		assert.Equal(t, 1, cfg.Batch.Concurrency)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := LoadFromFile(writeConfig(t, "engine:\n  base_uri: x\n"))
		require.Error(t, err)
	})

	t.Run("bad env value", func(t *testing.T) {
		l := NewLoader()
		l.lookupEnv = envMap(map[string]string{"CARGA_POLL_INTERVAL": "soon"})
		_, err := l.Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CARGA_POLL_INTERVAL")
	})

	t.Run("unknown flag path", func(t *testing.T) {
		l := NewLoader().WithCmdArgs(map[string]string{"batch.nope": "1"})
		l.lookupEnv = envMap(nil)
		_, err := l.Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown config path")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Engine.ContainerID = "c"
		cfg.Engine.ProcessID = "p"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing container", func(c *Config) { c.Engine.ContainerID = "" }, "Engine.ContainerID is required"},
		{"bad url", func(c *Config) { c.Engine.BaseURL = "not a url" }, "Engine.BaseURL must be a URL"},
		{"zero attempts", func(c *Config) { c.Polling.MaxAttempts = 0 }, "Polling.MaxAttempts"},
		{"concurrency too high", func(c *Config) { c.Batch.Concurrency = 1000 }, "Batch.Concurrency"},
		{"unknown layout", func(c *Config) { c.Batch.Layout = "columns" }, "Batch.Layout must be one of"},
		{"bad selector", func(c *Config) { c.Batch.Selector.Pick = "random" }, "batch.selector"},
		{"stages without stages layout", func(c *Config) { c.Batch.Stages = []StageConfig{{Name: "x"}} }, "only used by the stages layout"},
		{"journal path", func(c *Config) { c.Journal.Enabled = true; c.Journal.Path = "" }, "Journal.Path is required"},
		{"policy paths", func(c *Config) { c.Policy.Enabled = true }, "Policy.Paths is required"},
		{"telemetry", func(c *Config) { c.Telemetry.Logging.Level = "loud" }, "telemetry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	kc := cfg.KIE()
	assert.Equal(t, cfg.Engine.BaseURL, kc.BaseURL)
	assert.Equal(t, "secret", kc.Password)

	pc := cfg.EnginePolling()
	assert.Equal(t, 10, pc.MaxAttempts)

	layout := cfg.Layout()
	assert.Equal(t, sheet.LayoutStages, layout.Kind)
	assert.Equal(t, "Hoja1", layout.InstanceSheet)
	require.Len(t, layout.Stages, 3)
	assert.Equal(t, "_E973B1E6", layout.Stages[1].NodeID)
	assert.Nil(t, layout.Transform)

	assert.Equal(t, []string{"fec_oficio_sol"}, cfg.ReadOptions().DateColumns)
}

func TestClone(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	clone := cfg.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, cfg.Batch, clone.Batch)
	assert.Equal(t, cfg.Engine, clone.Engine)

	clone.Batch.Stages[0].Name = "otro"
	assert.Equal(t, "registro", cfg.Batch.Stages[0].Name)
}

func TestSetFieldValueIntegers(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 64).Draw(t, "concurrency")
		cfg := DefaultConfig()
		if err := setConfigValue(cfg, "batch.concurrency", strconv.Itoa(n)); err != nil {
			t.Fatalf("set failed: %v", err)
		}
		if cfg.Batch.Concurrency != n {
			t.Fatalf("got %d, want %d", cfg.Batch.Concurrency, n)
		}
	})
}

func TestSetFieldValueDurations(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ms := rapid.Int64Range(0, 1e6).Draw(t, "ms")
		d := time.Duration(ms) * time.Millisecond
		cfg := DefaultConfig()
		if err := setConfigValue(cfg, "polling.interval", d.String()); err != nil {
			t.Fatalf("set failed: %v", err)
		}
		if cfg.Polling.Interval != d {
			t.Fatalf("got %v, want %v", cfg.Polling.Interval, d)
		}
	})
}
