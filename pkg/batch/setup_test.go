package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranciscoCL13/carga-masiva/pkg/config"
	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
)

const montoPolicy = `# Rows must carry a positive amount.
package carga.monto

import rego.v1

deny contains v if {
	not input.unit.variables.monto > 0
	v := {"message": sprintf("%s: monto must be positive", [input.unit.label]), "severity": "error"}
}
`

func TestSetupOffline(t *testing.T) {
	dir := t.TempDir()
	policyDir := filepath.Join(dir, "policies")
	require.NoError(t, os.MkdirAll(policyDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(policyDir, "monto.rego"), []byte(montoPolicy), 0o600))

	cfg := config.DefaultConfig()
	cfg.Policy.Enabled = true
	cfg.Policy.Paths = []string{policyDir}
	cfg.Journal.Enabled = true
	cfg.Journal.Path = filepath.Join(dir, "carga.db")

	rt, err := Setup(context.Background(), cfg, newTelemetry(t), SetupOptions{Offline: true})
	require.NoError(t, err)
	defer func() { assert.NoError(t, rt.Close()) }()

	require.NotNil(t, rt.Policy)
	require.NotNil(t, rt.Journal)

	p, err := rt.Policy.GetPolicy("monto")
	require.NoError(t, err)
	assert.Equal(t, "Rows must carry a positive amount.", p.Description)

	t.Run("prepare without engine", func(t *testing.T) {
		buf := workbook(t,
			[]interface{}{"folio", "monto"},
			[]interface{}{"A-1", 10},
		)
		prepared, err := rt.Service.Prepare(context.Background(), buf, "carga.xlsx")
		require.NoError(t, err)
		assert.Len(t, prepared.Units, 1)
	})

	t.Run("policy rejects row", func(t *testing.T) {
		buf := workbook(t,
			[]interface{}{"folio", "monto"},
			[]interface{}{"A-1", 0},
		)
		_, err := rt.Service.Prepare(context.Background(), buf, "carga.xlsx")
		require.Error(t, err)
		assert.True(t, engine.IsInput(err))

		events, err := rt.Journal.GetEvents(context.Background(), nil, nil, 10, 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Contains(t, events[0].Message, "monto must be positive")
	})

	t.Run("not ready offline", func(t *testing.T) {
		assert.Error(t, rt.Service.Ready(context.Background()))
	})
}

func TestSetupRejectsBadPolicies(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package broken\n\ndeny contains"), 0o600))

	cfg := config.DefaultConfig()
	cfg.Policy.Enabled = true
	cfg.Policy.Paths = []string{filepath.Join(dir, "broken.rego")}

	_, err := Setup(context.Background(), cfg, newTelemetry(t), SetupOptions{Offline: true})
	require.Error(t, err)
	assert.True(t, engine.IsInput(err))
}
