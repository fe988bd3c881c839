// Package config loads the service configuration from the environment, with
// an optional YAML file overlay.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development" yaml:"environment"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080" yaml:"port"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s" yaml:"read_timeout"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s" yaml:"write_timeout"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s" yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s" yaml:"shutdown_timeout"`
	} `yaml:"http"`
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info" yaml:"level"`
		Format string `env:"LOG_FORMAT" envDefault:"json" yaml:"format"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr" yaml:"output"`
	} `yaml:"logging"`
	Optimization struct {
		// Defaults applied when an optimize request omits the field.
		Algorithm     string  `env:"OPT_ALGORITHM" envDefault:"evolutionary" yaml:"algorithm"`
		LearningRate  float64 `env:"OPT_LEARNING_RATE" envDefault:"0.05" yaml:"learning_rate"`
		Epsilon       float64 `env:"OPT_EPSILON" envDefault:"0" yaml:"epsilon"`
		NumSamples    int     `env:"OPT_NUM_SAMPLES" envDefault:"8" yaml:"num_samples"`
		NumSteps      int     `env:"OPT_NUM_STEPS" envDefault:"1" yaml:"num_steps"`
		UnrollLoop    bool    `env:"OPT_UNROLL_LOOP" envDefault:"false" yaml:"unroll_loop"`
		Seed          int64   `env:"OPT_SEED" envDefault:"0" yaml:"seed"`
		MaxIterations int     `env:"OPT_MAX_ITERATIONS" envDefault:"200" yaml:"max_iterations"`
	} `yaml:"optimization"`
}

// Load parses the environment into a Config. If CONFIG_FILE is set, the named
// YAML file is applied on top of the environment values.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	// Development gets verbose logs unless explicitly configured.
	if cfg.Environment == "development" && os.Getenv("LOG_LEVEL") == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// applyFile overlays the YAML file at path onto cfg. Fields absent from the
// file keep their current values.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
