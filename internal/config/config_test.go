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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transmute "github.com/nicholasgasior/transmute-go"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transmute.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.True(t, cfg.Plugins.Builtins)

	min, max, err := cfg.Plugins.ABIRange()
	require.NoError(t, err)
	assert.Equal(t, transmute.MinABIVersion, min)
	assert.Equal(t, transmute.ABIVersion, max)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
  format: json
plugins:
  dir: /opt/transmute/plugins
  mode: first-wins
engine:
  workers: 4
store:
  driver: postgres
  dsn: postgres://localhost/transmute
  table_prefix: test_
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/opt/transmute/plugins", cfg.Plugins.Dir)
	assert.Equal(t, "first-wins", cfg.Plugins.Mode)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, "test_", cfg.Store.TablePrefix)

	// untouched sections keep their defaults
	assert.Equal(t, 3, cfg.Engine.BreakerThreshold)
	assert.Equal(t, "transmute", cfg.Telemetry.ServiceName)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "store:\n  driver: duckdb\n")
	t.Setenv("TRANSMUTE_STORE", "redis")
	t.Setenv("TRANSMUTE_REDIS_ADDR", "cache:6380")
	t.Setenv("TRANSMUTE_WORKERS", "8")
	t.Setenv("TRANSMUTE_PLUGINS_WATCH", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "cache:6380", cfg.Store.Redis.Address)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.True(t, cfg.Plugins.Watch)
}

func TestLoadRejectsBadEnvNumber(t *testing.T) {
	t.Setenv("TRANSMUTE_WORKERS", "many")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRANSMUTE_WORKERS")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "Store"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "Store"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "Log"},
		{"bad mode", func(c *Config) { c.Plugins.Mode = "random" }, "Plugins"},
		{"bad abi", func(c *Config) { c.Plugins.MinABI = "one" }, "Plugins"},
		{"negative workers", func(c *Config) { c.Engine.Workers = -1 }, "Engine"},
		{"sampling above one", func(c *Config) { c.Telemetry.SamplingRatio = 1.5 }, "Telemetry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestABIRangeOrder(t *testing.T) {
	p := PluginsConfig{MinABI: "1.2", MaxABI: "1.0"}
	_, _, err := p.ABIRange()
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "plugins"), Expand("~/plugins"))
	assert.Equal(t, "/abs/path", Expand("/abs/path"))
}
