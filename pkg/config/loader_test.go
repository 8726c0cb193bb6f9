package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadConfig_Layering(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
  password: ${DB_SECRET}
planner:
  cache_ttl: 5m
  max_phases: 200
`)
	writeFile(t, dir, "staging.yaml", `
db:
  host: db.staging
planner:
  max_phases: 50
`)
	writeFile(t, dir, "secrets.env", `
# comment
DB_SECRET="s3cret"
`)

	cfgMap, err := LoadConfig("staging", dir)
	require.NoError(t, err)

	var out struct {
		DB      DBConfig      `yaml:"db"`
		Planner PlannerConfig `yaml:"planner"`
	}
	require.NoError(t, Decode(cfgMap, &out))

	assert.Equal(t, "db.staging", out.DB.Host)
	assert.Equal(t, 5432, out.DB.Port)
	assert.Equal(t, "s3cret", out.DB.Password)
	assert.Equal(t, 5*time.Minute, out.Planner.CacheTTL)
	assert.Equal(t, 50, out.Planner.MaxPhases)
}

func TestLoadConfig_MissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	assert.Error(t, err)
}

func TestLoadConfig_UnknownEnvFallsBackToBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "server:\n  port: \":8080\"\n")

	cfgMap, err := LoadConfig("nope", dir)
	require.NoError(t, err)

	var out struct {
		Server ServerConfig `yaml:"server"`
	}
	require.NoError(t, Decode(cfgMap, &out))
	assert.Equal(t, ":8080", out.Server.Port)
}

func TestMergeMaps_Nested(t *testing.T) {
	dst := map[string]interface{}{
		"a": map[string]interface{}{"x": 1, "y": 2},
		"b": "keep",
	}
	src := map[string]interface{}{
		"a": map[string]interface{}{"y": 3},
		"c": true,
	}

	got := mergeMaps(dst, src)
	assert.Equal(t, map[string]interface{}{"x": 1, "y": 3}, got["a"])
	assert.Equal(t, "keep", got["b"])
	assert.Equal(t, true, got["c"])
	// inputs untouched
	assert.Equal(t, 2, dst["a"].(map[string]interface{})["y"])
}

func TestOverridePlannerFromEnv(t *testing.T) {
	t.Setenv("PLANNER_CACHE_TTL", "90s")
	t.Setenv("PLANNER_MAX_PHASES", "12")
	t.Setenv("PLANNER_FIX_LOCK_TTL", "not-a-duration")

	cfg := PlannerConfig{FixLockTTL: time.Minute}
	OverridePlannerFromEnv(&cfg)

	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, 12, cfg.MaxPhases)
	assert.Equal(t, time.Minute, cfg.FixLockTTL)
}
