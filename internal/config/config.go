// Copyright 2026 Conductor OSS
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
// the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package config loads transmute configuration.
// Priority: defaults < YAML file < environment < flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	transmute "github.com/nicholasgasior/transmute-go"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRANSMUTE_"

// Config holds all transmute configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Plugins   PluginsConfig   `yaml:"plugins"`
	Engine    EngineConfig    `yaml:"engine"`
	Store     StoreConfig     `yaml:"store"`
	S3        S3Config        `yaml:"s3"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// PluginsConfig controls plugin discovery and registration.
type PluginsConfig struct {
	Dir      string `yaml:"dir"`
	Builtins bool   `yaml:"builtins"`
	MinABI   string `yaml:"min_abi"`
	MaxABI   string `yaml:"max_abi"`
	Mode     string `yaml:"mode"` // priority | first-wins
	Watch    bool   `yaml:"watch"`
}

// EngineConfig controls the conversion engine.
type EngineConfig struct {
	TempDir          string `yaml:"temp_dir"`
	Workers          int    `yaml:"workers"` // 0 = GOMAXPROCS
	BreakerThreshold int    `yaml:"breaker_threshold"`
}

// StoreConfig selects the history and settings backend.
type StoreConfig struct {
	Driver      string      `yaml:"driver"` // memory | postgres | duckdb | redis
	DSN         string      `yaml:"dsn"`
	TablePrefix string      `yaml:"table_prefix"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis store driver.
type RedisConfig struct {
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	Database   int    `yaml:"database"`
	Prefix     string `yaml:"prefix"`
	MaxHistory int64  `yaml:"max_history"`
}

// S3Config configures s3:// destinations.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	ServiceName   string  `yaml:"service_name"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
	DriverRedis    = "redis"
)

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".transmute")

	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Plugins: PluginsConfig{
			Dir:      filepath.Join(dataDir, "plugins"),
			Builtins: true,
			MinABI:   transmute.MinABIVersion.String(),
			MaxABI:   transmute.ABIVersion.String(),
			Mode:     transmute.ModePriority.String(),
		},
		Engine: EngineConfig{
			BreakerThreshold: 3,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			Redis: RedisConfig{
				Address:    "localhost:6379",
				Prefix:     "transmute:",
				MaxHistory: 10000,
			},
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Telemetry: TelemetryConfig{
			Endpoint:      "localhost:4317",
			ServiceName:   "transmute",
			SamplingRatio: 1.0,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	// Fields absent from the file keep their defaults.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// loadEnv applies TRANSMUTE_* overrides.
func (c *Config) loadEnv() error {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Plugins.Dir = getEnv("PLUGINS_DIR", c.Plugins.Dir)
	c.Plugins.Mode = getEnv("PLUGINS_MODE", c.Plugins.Mode)
	c.Engine.TempDir = getEnv("TEMP_DIR", c.Engine.TempDir)

	c.Store.Driver = getEnv("STORE", c.Store.Driver)
	c.Store.DSN = getEnv("DSN", c.Store.DSN)
	c.Store.TablePrefix = getEnv("TABLE_PREFIX", c.Store.TablePrefix)
	c.Store.Redis.Address = getEnv("REDIS_ADDR", c.Store.Redis.Address)
	c.Store.Redis.Password = getEnv("REDIS_PASSWORD", c.Store.Redis.Password)

	c.S3.Region = getEnv("S3_REGION", c.S3.Region)
	c.S3.Endpoint = getEnv("S3_ENDPOINT", c.S3.Endpoint)

	c.Telemetry.Endpoint = getEnv("OTEL_ENDPOINT", c.Telemetry.Endpoint)

	var errs []error
	c.Engine.Workers, errs = envInt("WORKERS", c.Engine.Workers, errs)
	c.Store.Redis.Database, errs = envInt("REDIS_DB", c.Store.Redis.Database, errs)
	c.Plugins.Watch, errs = envBool("PLUGINS_WATCH", c.Plugins.Watch, errs)
	c.S3.UsePathStyle, errs = envBool("S3_PATH_STYLE", c.S3.UsePathStyle, errs)
	c.Telemetry.Enabled, errs = envBool("TELEMETRY", c.Telemetry.Enabled, errs)
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int, errs []error) (int, []error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
	}
	return n, errs
}

func envBool(key string, defaultValue bool, errs []error) (bool, []error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue, append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
	}
	return b, errs
}

// Validate checks every section.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Log),
		validation.Field(&c.Plugins),
		validation.Field(&c.Engine),
		validation.Field(&c.Store),
		validation.Field(&c.Telemetry),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "warning", "error")),
		validation.Field(&l.Format, validation.In("text", "json")),
	)
}

func (p PluginsConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MinABI, validation.Required, validation.By(versionString)),
		validation.Field(&p.MaxABI, validation.Required, validation.By(versionString)),
		validation.Field(&p.Mode, validation.By(func(value interface{}) error {
			_, err := transmute.ParseMode(value.(string))
			return err
		})),
	)
}

func (e EngineConfig) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Workers, validation.Min(0)),
		validation.Field(&e.BreakerThreshold, validation.Min(0)),
	)
}

func (s StoreConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required,
			validation.In(DriverMemory, DriverPostgres, DriverDuckDB, DriverRedis)),
		validation.Field(&s.DSN, validation.When(s.Driver == DriverPostgres, validation.Required)),
		validation.Field(&s.Redis, validation.When(s.Driver == DriverRedis, validation.By(func(interface{}) error {
			return validation.Validate(s.Redis.Address, validation.Required)
		}))),
	)
}

func (t TelemetryConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Endpoint, validation.When(t.Enabled, validation.Required)),
		validation.Field(&t.SamplingRatio, validation.Min(0.0), validation.Max(1.0)),
	)
}

func versionString(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := transmute.ParseVersion(s)
	return err
}

// ABIRange parses the configured plugin ABI range.
func (p PluginsConfig) ABIRange() (min, max transmute.Version, err error) {
	if min, err = transmute.ParseVersion(p.MinABI); err != nil {
		return min, max, fmt.Errorf("plugins.min_abi: %w", err)
	}
	if max, err = transmute.ParseVersion(p.MaxABI); err != nil {
		return min, max, fmt.Errorf("plugins.max_abi: %w", err)
	}
	if max.Compare(min) < 0 {
		return min, max, fmt.Errorf("plugins.max_abi %s is below min_abi %s", max, min)
	}
	return min, max, nil
}

// Expand replaces a leading ~ in path with the home directory.
func Expand(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
