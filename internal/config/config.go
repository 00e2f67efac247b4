package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/geofeat/internal/geo"
	"github.com/sells-group/geofeat/internal/refdata"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = eris.New("config: invalid")

// Cluster fit sources.
const (
	FitSourceTrain     = "train"
	FitSourceReference = "reference"
)

// Config holds the full application configuration.
type Config struct {
	Seed     uint64         `yaml:"seed" mapstructure:"seed"`
	Cluster  ClusterConfig  `yaml:"cluster" mapstructure:"cluster"`
	Index    IndexConfig    `yaml:"index" mapstructure:"index"`
	Features FeaturesConfig `yaml:"features" mapstructure:"features"`
	Bounds   geo.Bounds     `yaml:"bounds" mapstructure:"bounds"`
	Datasets DatasetsConfig `yaml:"datasets" mapstructure:"datasets"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ClusterConfig configures the k-means fit.
type ClusterConfig struct {
	K         int     `yaml:"k" mapstructure:"k"`
	MaxIter   int     `yaml:"max_iter" mapstructure:"max_iter"`
	NInit     int     `yaml:"n_init" mapstructure:"n_init"`
	Tolerance float64 `yaml:"tolerance" mapstructure:"tolerance"`
	// FitSource is "train" (fit on train records) or "reference" (fit on
	// the info dataset).
	FitSource string `yaml:"fit_source" mapstructure:"fit_source"`
}

// IndexConfig selects the spatial index implementation.
type IndexConfig struct {
	Kind string `yaml:"kind" mapstructure:"kind"`
}

// FeaturesConfig configures the feature generators.
type FeaturesConfig struct {
	Radius       float64 `yaml:"radius" mapstructure:"radius"`
	BatchSize    int     `yaml:"batch_size" mapstructure:"batch_size"`
	BatchWorkers int     `yaml:"batch_workers" mapstructure:"batch_workers"`
	AreaBinWidth int     `yaml:"area_bin_width" mapstructure:"area_bin_width"`
}

// DatasetsConfig locates the reference sets. Command-line flags override
// the paths.
type DatasetsConfig struct {
	// Encoding applies to every CSV input that does not set its own.
	Encoding string         `yaml:"encoding" mapstructure:"encoding"`
	Subway   refdata.Source `yaml:"subway" mapstructure:"subway"`
	Park     refdata.Source `yaml:"park" mapstructure:"park"`
	School   refdata.Source `yaml:"school" mapstructure:"school"`
	Info     refdata.Source `yaml:"info" mapstructure:"info"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOFEAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("seed", 42)
	v.SetDefault("cluster.k", 10)
	v.SetDefault("cluster.max_iter", 300)
	v.SetDefault("cluster.n_init", 10)
	v.SetDefault("cluster.tolerance", 1e-4)
	v.SetDefault("cluster.fit_source", FitSourceTrain)
	v.SetDefault("index.kind", "kdtree")
	v.SetDefault("features.radius", 0.01)
	v.SetDefault("features.batch_size", 10000)
	v.SetDefault("features.batch_workers", 1)
	v.SetDefault("features.area_bin_width", 50)
	v.SetDefault("bounds.min_lat", geo.SeoulBounds.MinLat)
	v.SetDefault("bounds.max_lat", geo.SeoulBounds.MaxLat)
	v.SetDefault("bounds.min_lon", geo.SeoulBounds.MinLon)
	v.SetDefault("bounds.max_lon", geo.SeoulBounds.MaxLon)
	v.SetDefault("datasets.encoding", "utf-8")
	v.SetDefault("datasets.subway.name", "subway")
	v.SetDefault("datasets.park.name", "park")
	v.SetDefault("datasets.park.attribute_column", "area")
	v.SetDefault("datasets.school.name", "school")
	v.SetDefault("datasets.info.name", "info")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	switch {
	case c.Cluster.K <= 0:
		return eris.Wrapf(ErrInvalid, "config: cluster.k must be positive, got %d", c.Cluster.K)
	case c.Cluster.MaxIter <= 0:
		return eris.Wrapf(ErrInvalid, "config: cluster.max_iter must be positive, got %d", c.Cluster.MaxIter)
	case c.Cluster.NInit <= 0:
		return eris.Wrapf(ErrInvalid, "config: cluster.n_init must be positive, got %d", c.Cluster.NInit)
	case c.Cluster.Tolerance < 0:
		return eris.Wrapf(ErrInvalid, "config: cluster.tolerance must not be negative, got %v", c.Cluster.Tolerance)
	case c.Cluster.FitSource != FitSourceTrain && c.Cluster.FitSource != FitSourceReference:
		return eris.Wrapf(ErrInvalid, "config: unknown cluster.fit_source %q", c.Cluster.FitSource)
	case c.Index.Kind != "kdtree" && c.Index.Kind != "linear":
		return eris.Wrapf(ErrInvalid, "config: unknown index.kind %q", c.Index.Kind)
	case c.Features.BatchSize <= 0:
		return eris.Wrapf(ErrInvalid, "config: features.batch_size must be positive, got %d", c.Features.BatchSize)
	case c.Features.BatchWorkers <= 0:
		return eris.Wrapf(ErrInvalid, "config: features.batch_workers must be positive, got %d", c.Features.BatchWorkers)
	case c.Features.AreaBinWidth <= 0:
		return eris.Wrapf(ErrInvalid, "config: features.area_bin_width must be positive, got %d", c.Features.AreaBinWidth)
	case !c.Bounds.Valid():
		return eris.Wrapf(ErrInvalid, "config: bounds are inverted: %+v", c.Bounds)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
