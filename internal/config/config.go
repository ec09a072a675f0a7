// Package config loads pipelab settings from defaults, an optional YAML file
// and PIPELAB_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/pipelab/pkg/errors"
	"github.com/YuminosukeSato/pipelab/pkg/log"
)

// EnvPrefix is prepended to every environment override, e.g. PIPELAB_SERVER_ADDR.
const EnvPrefix = "PIPELAB"

// Config is the full service configuration.
type Config struct {
	Server   Server   `mapstructure:"server" yaml:"server"`
	CORS     CORS     `mapstructure:"cors" yaml:"cors"`
	Upload   Upload   `mapstructure:"upload" yaml:"upload"`
	Log      Log      `mapstructure:"log" yaml:"log"`
	Pipeline Pipeline `mapstructure:"pipeline" yaml:"pipeline"`
	Model    Model    `mapstructure:"model" yaml:"model"`
	Plot     Plot     `mapstructure:"plot" yaml:"plot"`
}

type Server struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type CORS struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type Upload struct {
	MaxBytes int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // json or console
}

type Pipeline struct {
	RandomSeed           int64   `mapstructure:"random_seed" yaml:"random_seed"`
	DefaultTestSize      float64 `mapstructure:"default_test_size" yaml:"default_test_size"`
	PreviewRows          int     `mapstructure:"preview_rows" yaml:"preview_rows"`
	ProcessedPreviewRows int     `mapstructure:"processed_preview_rows" yaml:"processed_preview_rows"`
	// CascadeInvalidation clears split and model results when an earlier stage is re-run.
	CascadeInvalidation bool `mapstructure:"cascade_invalidation" yaml:"cascade_invalidation"`
}

type Model struct {
	Logistic Logistic `mapstructure:"logistic" yaml:"logistic"`
	Tree     Tree     `mapstructure:"tree" yaml:"tree"`
}

type Logistic struct {
	MaxIter int     `mapstructure:"max_iter" yaml:"max_iter"`
	C       float64 `mapstructure:"c" yaml:"c"`
}

type Tree struct {
	Criterion       string `mapstructure:"criterion" yaml:"criterion"`
	MaxDepth        int    `mapstructure:"max_depth" yaml:"max_depth"` // 0 = unlimited
	MinSamplesSplit int    `mapstructure:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int    `mapstructure:"min_samples_leaf" yaml:"min_samples_leaf"`
}

type Plot struct {
	WidthInches  float64 `mapstructure:"width_inches" yaml:"width_inches"`
	HeightInches float64 `mapstructure:"height_inches" yaml:"height_inches"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("upload.max_bytes", int64(32<<20))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("pipeline.random_seed", int64(42))
	v.SetDefault("pipeline.default_test_size", 0.2)
	v.SetDefault("pipeline.preview_rows", 10)
	v.SetDefault("pipeline.processed_preview_rows", 5)
	v.SetDefault("pipeline.cascade_invalidation", false)
	v.SetDefault("model.logistic.max_iter", 1000)
	v.SetDefault("model.logistic.c", 1.0)
	v.SetDefault("model.tree.criterion", "gini")
	v.SetDefault("model.tree.max_depth", 0)
	v.SetDefault("model.tree.min_samples_split", 2)
	v.SetDefault("model.tree.min_samples_leaf", 1)
	v.SetDefault("plot.width_inches", 8.0)
	v.SetDefault("plot.height_inches", 6.0)
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		panic(err)
	}
	return &c
}

// Load resolves configuration with precedence env > file > defaults.
// An explicit cfgFile must exist; otherwise pipelab.yaml is looked up in the
// working directory and in ~/.pipelab and skipped when absent.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", cfgFile)
		}
	} else {
		v.SetConfigName("pipelab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pipelab"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges that the service relies on.
func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return errors.NewValidationError("server.addr", "must not be empty", c.Server.Addr)
	case c.Server.ShutdownTimeout < 0:
		return errors.NewValidationError("server.shutdown_timeout", "must not be negative", c.Server.ShutdownTimeout)
	case c.Upload.MaxBytes <= 0:
		return errors.NewValidationError("upload.max_bytes", "must be positive", c.Upload.MaxBytes)
	case c.Log.Format != "json" && c.Log.Format != "console":
		return errors.NewValidationError("log.format", "must be 'json' or 'console'", c.Log.Format)
	case c.Pipeline.DefaultTestSize <= 0 || c.Pipeline.DefaultTestSize >= 1:
		return errors.NewValidationError("pipeline.default_test_size", "must be in (0, 1)", c.Pipeline.DefaultTestSize)
	case c.Pipeline.PreviewRows < 0:
		return errors.NewValidationError("pipeline.preview_rows", "must not be negative", c.Pipeline.PreviewRows)
	case c.Pipeline.ProcessedPreviewRows < 0:
		return errors.NewValidationError("pipeline.processed_preview_rows", "must not be negative", c.Pipeline.ProcessedPreviewRows)
	case c.Model.Logistic.MaxIter <= 0:
		return errors.NewValidationError("model.logistic.max_iter", "must be positive", c.Model.Logistic.MaxIter)
	case c.Model.Logistic.C <= 0:
		return errors.NewValidationError("model.logistic.c", "must be positive", c.Model.Logistic.C)
	case c.Model.Tree.Criterion != "gini" && c.Model.Tree.Criterion != "entropy":
		return errors.NewValidationError("model.tree.criterion", "must be 'gini' or 'entropy'", c.Model.Tree.Criterion)
	case c.Model.Tree.MaxDepth < 0:
		return errors.NewValidationError("model.tree.max_depth", "must not be negative", c.Model.Tree.MaxDepth)
	case c.Model.Tree.MinSamplesSplit < 2:
		return errors.NewValidationError("model.tree.min_samples_split", "must be at least 2", c.Model.Tree.MinSamplesSplit)
	case c.Model.Tree.MinSamplesLeaf < 1:
		return errors.NewValidationError("model.tree.min_samples_leaf", "must be at least 1", c.Model.Tree.MinSamplesLeaf)
	case c.Plot.WidthInches <= 0 || c.Plot.HeightInches <= 0:
		return errors.NewValidationError("plot", "width_inches and height_inches must be positive",
			[]float64{c.Plot.WidthInches, c.Plot.HeightInches})
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.NewValidationError("log.level", err.Error(), c.Log.Level)
	}
	return nil
}

// Save writes c to path as YAML, creating the parent directory.
func Save(c *Config, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "mkdir config dir")
		}
	}
	b, err := Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrap(err, "write config")
	}
	return nil
}

// Marshal renders c as YAML.
func Marshal(c *Config) ([]byte, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "marshal yaml")
	}
	return b, nil
}
