package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"missing db host", func(c *Config) { c.DB.Host = "" }, true},
		{"zero max phases", func(c *Config) { c.Planner.MaxPhases = 0 }, true},
		{"negative cache ttl", func(c *Config) { c.Planner.CacheTTL = -time.Second }, true},
		{"zero lock ttl", func(c *Config) { c.Planner.FixLockTTL = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFrom_KeepsDefaultsAndAppliesEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(`
db:
  host: postgres
  name: planner
planner:
  max_phases: 40
`), 0o644))
	t.Setenv("DB_PORT", "6543")
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := LoadFrom("local", dir)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DB.Host)
	assert.Equal(t, 6543, cfg.DB.Port)
	assert.Equal(t, "planner", cfg.DB.Name)
	assert.Equal(t, 40, cfg.Planner.MaxPhases)
	assert.Equal(t, 10*time.Minute, cfg.Planner.CacheTTL)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, ":9091", cfg.Worker.Port)
}

func TestLoadFrom_Invalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("planner:\n  max_phases: -1\n"), 0o644))

	_, err := LoadFrom("local", dir)
	assert.Error(t, err)
}
