package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/geofeat/internal/geo"
	"github.com/sells-group/geofeat/internal/refdata"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, 10, cfg.Cluster.K)
	assert.Equal(t, 300, cfg.Cluster.MaxIter)
	assert.Equal(t, 10, cfg.Cluster.NInit)
	assert.InDelta(t, 1e-4, cfg.Cluster.Tolerance, 1e-12)
	assert.Equal(t, FitSourceTrain, cfg.Cluster.FitSource)
	assert.Equal(t, "kdtree", cfg.Index.Kind)
	assert.InDelta(t, 0.01, cfg.Features.Radius, 1e-12)
	assert.Equal(t, 10000, cfg.Features.BatchSize)
	assert.Equal(t, 1, cfg.Features.BatchWorkers)
	assert.Equal(t, 50, cfg.Features.AreaBinWidth)
	assert.Equal(t, geo.SeoulBounds, cfg.Bounds)
	assert.Equal(t, "utf-8", cfg.Datasets.Encoding)
	assert.Equal(t, "park", cfg.Datasets.Park.Name)
	assert.Equal(t, "area", cfg.Datasets.Park.AttributeColumn)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
seed: 7
cluster:
  k: 4
  fit_source: reference
index:
  kind: linear
features:
  radius: 0.02
datasets:
  encoding: euc-kr
  subway:
    path: data/subway.xlsx
    sheet: stations
    lat_column: 위도
    lon_column: 경도
  park:
    kind: sqlite
    path: data/ref.db
    table: parks
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, 4, cfg.Cluster.K)
	assert.Equal(t, FitSourceReference, cfg.Cluster.FitSource)
	assert.Equal(t, "linear", cfg.Index.Kind)
	assert.InDelta(t, 0.02, cfg.Features.Radius, 1e-12)
	assert.Equal(t, "euc-kr", cfg.Datasets.Encoding)
	assert.Equal(t, "data/subway.xlsx", cfg.Datasets.Subway.Path)
	assert.Equal(t, "stations", cfg.Datasets.Subway.Sheet)
	assert.Equal(t, "위도", cfg.Datasets.Subway.LatColumn)
	assert.Equal(t, refdata.KindSQLite, cfg.Datasets.Park.Kind)
	assert.Equal(t, "parks", cfg.Datasets.Park.Table)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 300, cfg.Cluster.MaxIter)
	assert.Equal(t, "area", cfg.Datasets.Park.AttributeColumn)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
cluster:
  k: 4
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GEOFEAT_CLUSTER_K", "12")
	t.Setenv("GEOFEAT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, 12, cfg.Cluster.K)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("GEOFEAT_FEATURES_BATCH_SIZE", "2500")
	t.Setenv("GEOFEAT_SEED", "99")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2500, cfg.Features.BatchSize)
	assert.Equal(t, uint64(99), cfg.Seed)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("cluster: [k"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Cluster.K = 10
	cfg.Cluster.MaxIter = 300
	cfg.Cluster.NInit = 10
	cfg.Cluster.Tolerance = 1e-4
	cfg.Cluster.FitSource = FitSourceTrain
	cfg.Index.Kind = "kdtree"
	cfg.Features.Radius = 0.01
	cfg.Features.BatchSize = 10000
	cfg.Features.BatchWorkers = 1
	cfg.Features.AreaBinWidth = 50
	cfg.Bounds = geo.SeoulBounds
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"zero k", func(c *Config) { c.Cluster.K = 0 }, "cluster.k"},
		{"zero max iter", func(c *Config) { c.Cluster.MaxIter = 0 }, "cluster.max_iter"},
		{"zero restarts", func(c *Config) { c.Cluster.NInit = 0 }, "cluster.n_init"},
		{"negative tolerance", func(c *Config) { c.Cluster.Tolerance = -1 }, "cluster.tolerance"},
		{"unknown fit source", func(c *Config) { c.Cluster.FitSource = "test" }, "fit_source"},
		{"unknown index", func(c *Config) { c.Index.Kind = "rtree" }, "index.kind"},
		{"zero batch", func(c *Config) { c.Features.BatchSize = 0 }, "batch_size"},
		{"zero workers", func(c *Config) { c.Features.BatchWorkers = -2 }, "batch_workers"},
		{"zero bin width", func(c *Config) { c.Features.AreaBinWidth = 0 }, "area_bin_width"},
		{"inverted bounds", func(c *Config) { c.Bounds.MinLat, c.Bounds.MaxLat = 38, 37 }, "bounds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate())

	cfg := validDefaults()
	cfg.Cluster.FitSource = FitSourceReference
	cfg.Index.Kind = "linear"
	assert.NoError(t, cfg.Validate())
}
