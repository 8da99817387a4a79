package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-ledger/config"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, config.Default().Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A TOML file and an environment override
	path := filepath.Join(t.TempDir(), "ledgerd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[http]
port = 9090

[store]
kind = "snapshot"
snapshot_dir = "/var/lib/ledger"

[overdue]
scan_interval = "15m"
`), 0o644))
	t.Setenv("LEDGER_HTTP_PORT", "9191")
	t.Setenv("LEDGER_CORS_ORIGINS", "https://a.example, https://b.example")

	// WHEN: Loading
	cfg, err := config.Load(path)
	require.NoError(t, err)

	// THEN: Env wins over the file, which wins over defaults
	assert.Equal(t, 9191, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, config.StoreSnapshot, cfg.Store.Kind)
	assert.Equal(t, "/var/lib/ledger", cfg.Store.SnapshotDir)
	assert.Equal(t, 15*time.Minute, cfg.Overdue.ScanInterval.Duration)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("LEDGER_HTTP_PORT", "eighty")
	t.Setenv("LEDGER_OVERDUE_SCAN_INTERVAL", "soon")

	_, err := config.Load("")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEDGER_HTTP_PORT")
	assert.Contains(t, err.Error(), "LEDGER_OVERDUE_SCAN_INTERVAL")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Port = 0
	cfg.Store.Kind = "postgres"
	cfg.Log.Level = "loud"
	cfg.AMQP.URL = "amqp://localhost"
	cfg.AMQP.Exchange = ""

	err := cfg.Validate()

	require.Error(t, err)
	for _, want := range []string{"http.port", "store.kind", "log.level", "amqp.exchange"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_ScanIntervalMustBePositive(t *testing.T) {
	tests := []struct {
		name string
		env  string
	}{
		{"zero", "0s"},
		{"negative", "-5m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: A scan interval the ticker cannot run with
			t.Setenv("LEDGER_OVERDUE_SCAN_INTERVAL", tt.env)

			// WHEN: Loading then validating
			cfg, err := config.Load("")
			require.NoError(t, err)
			err = cfg.Validate()

			// THEN: Validation names the setting
			require.Error(t, err)
			assert.Contains(t, err.Error(), "overdue.scan_interval")
		})
	}
}
