// Package config loads runtime settings and batch manifests.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chemplumb/internal/archive"
	"chemplumb/internal/blob"
	"chemplumb/internal/derive"
	"chemplumb/internal/verify"
)

// EnvPrefix prefixes every environment override, e.g. CHEMPLUMB_ARCHIVE_DRIVER.
const EnvPrefix = "CHEMPLUMB"

// Config is the full runtime configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Archive  archive.Config `mapstructure:"archive"`
	Blob     blob.Config    `mapstructure:"blob"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PipelineConfig struct {
	Workers             int      `mapstructure:"workers"`
	ProtocolMarker      string   `mapstructure:"protocol_marker"`
	ExcludedHeaders     []string `mapstructure:"excluded_headers"`
	CrossCheckTolerance float64  `mapstructure:"cross_check_tolerance"`
}

type VerifyConfig struct {
	Workers   int           `mapstructure:"workers"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Tolerance float64       `mapstructure:"tolerance"`
	AcidLimit float64       `mapstructure:"acid_limit"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("pipeline.workers", runtime.NumCPU())
	v.SetDefault("pipeline.protocol_marker", derive.DefaultProtocolMarker)
	v.SetDefault("pipeline.excluded_headers", []string{"2018-11-02"})
	v.SetDefault("pipeline.cross_check_tolerance", derive.DefaultCrossCheckTolerance)

	v.SetDefault("archive.driver", archive.DriverBlob)
	v.SetDefault("archive.key", archive.DefaultKey)
	v.SetDefault("archive.sqlite_path", "plumbing.db")
	v.SetDefault("archive.postgres_dsn", "")

	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.fs_root", "./plumbdata")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("blob.s3.session_token", "")

	v.SetDefault("verify.workers", runtime.NumCPU())
	v.SetDefault("verify.timeout", verify.DefaultTimeout)
	v.SetDefault("verify.tolerance", verify.DefaultTolerance)
	v.SetDefault("verify.acid_limit", derive.DefaultAcidLimit)

	v.SetDefault("metrics.textfile", "")
}

// Load reads the yaml file at path, when given, and applies environment
// overrides on top of the defaults. Without a path, plumb.yaml is searched
// for in the working directory and skipped when absent.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("plumb")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no run can use.
func (c Config) Validate() error {
	switch {
	case c.Pipeline.Workers < 1:
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	case c.Verify.Workers < 1:
		return fmt.Errorf("verify.workers must be positive, got %d", c.Verify.Workers)
	case c.Verify.Timeout <= 0:
		return fmt.Errorf("verify.timeout must be positive, got %s", c.Verify.Timeout)
	case c.Verify.Tolerance <= 0:
		return fmt.Errorf("verify.tolerance must be positive, got %g", c.Verify.Tolerance)
	case c.Verify.AcidLimit < 0:
		return fmt.Errorf("verify.acid_limit must not be negative, got %g", c.Verify.AcidLimit)
	case c.Pipeline.ProtocolMarker == "":
		return errors.New("pipeline.protocol_marker is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Archive.Driver)) {
	case archive.DriverBlob, archive.DriverSQLite:
	case archive.DriverPostgres:
		if c.Archive.PostgresDSN == "" {
			return errors.New("archive.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported archive driver %q", c.Archive.Driver)
	}
	return nil
}
