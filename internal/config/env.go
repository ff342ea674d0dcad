package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Env carries process-level overrides that never belong in the config file:
// where the file lives and a few knobs a container orchestrator wants to set
// without rewriting the mounted config.
type Env struct {
	// ConfigPath overrides the -config flag when the flag keeps its default.
	ConfigPath string `env:"TICKRUN_CONFIG"`

	// Timezone overrides the file's timezone field.
	Timezone string `env:"TICKRUN_TZ"`

	// LogLevel overrides logging.level.
	LogLevel string `env:"TICKRUN_LOG_LEVEL"`

	// ShutdownGrace bounds how long in-flight dispatches may finish after a
	// stop signal. Go duration string; default "30s".
	ShutdownGrace string `env:"TICKRUN_SHUTDOWN_GRACE" envDefault:"30s"`
}

// LoadEnv reads process overrides. A .env file next to the working directory
// is applied first when present; a missing one is not an error.
func LoadEnv() (Env, error) {
	_ = godotenv.Load()

	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// ApplyTo merges the overrides into a parsed config.
func (e Env) ApplyTo(cfg *Config) {
	if cfg == nil {
		return
	}
	if tz := strings.TrimSpace(e.Timezone); tz != "" {
		cfg.Timezone = tz
	}
	if lvl := strings.TrimSpace(e.LogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}
}
