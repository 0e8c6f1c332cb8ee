// Package config handles loading and parsing application configuration.
// It supports two sources for the file path (in priority order):
//  1. An environment variable:  CONFIG_PATH=/path/to/config.yaml
//  2. A command-line flag:      --config=/path/to/config.yaml
//
// A .env file in the working directory, when present, is loaded into the
// process environment first so local runs can keep overrides out of YAML.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the root configuration structure.
// Every field maps to a key in the YAML file AND can be overridden
// by the corresponding environment variable (env:"...").
type Config struct {
	// Env controls log format and verbosity.
	// Valid values: "dev", "staging", "prod"
	Env string `yaml:"env" env:"ENV" env-required:"true"`

	Storage Storage `yaml:"storage"`

	HTTPServer `yaml:"http_server"`

	// ShutdownTimeout bounds how long in-flight requests may take to
	// drain after a termination signal.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"5s"`
}

// Storage describes the backing SQL store.
type Storage struct {
	// Driver is the database/sql driver name: "sqlite3" or "pgx".
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite3"`

	// DSN is a file path for sqlite3 or a connection URL for pgx.
	DSN string `yaml:"dsn" env:"STORAGE_DSN" env-required:"true"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"STORAGE_MAX_OPEN_CONNS" env-default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"STORAGE_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"STORAGE_CONN_MAX_LIFETIME" env-default:"30m"`

	// Seed inserts the two sample persons when the table is empty.
	Seed bool `yaml:"seed" env:"STORAGE_SEED" env-default:"false"`
}

// HTTPServer holds settings specific to the HTTP server.
// Nested under http_server: in the YAML file.
type HTTPServer struct {
	// Addr is the TCP address the server listens on, e.g. "localhost:8082".
	Addr string `yaml:"address" env:"HTTP_SERVER_ADDR" env-required:"true"`

	// BasePath prefixes every API route, e.g. "/api" serves /api/persons.
	BasePath string `yaml:"base_path" env:"HTTP_SERVER_BASE_PATH"`

	ReadTimeout  time.Duration `yaml:"read_timeout" env:"HTTP_SERVER_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"HTTP_SERVER_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"HTTP_SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

var validDrivers = map[string]bool{"sqlite3": true, "pgx": true}

// Load reads the YAML file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	if !validDrivers[cfg.Storage.Driver] {
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	return &cfg, nil
}

// MustLoad resolves the config path, loads it and exits the process on
// any failure. If this function returns, the config is valid.
func MustLoad() *Config {
	// Missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("cannot load .env: %s", err.Error())
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		flags := flag.String("config", "", "Path to the configuration YAML file")
		flag.Parse()
		configPath = *flags
	}

	if configPath == "" {
		log.Fatal("config path is not set: use --config flag or CONFIG_PATH env var")
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err.Error())
	}

	return cfg
}
