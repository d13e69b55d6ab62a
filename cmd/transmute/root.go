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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	transmute "github.com/nicholasgasior/transmute-go"
	"github.com/nicholasgasior/transmute-go/internal/config"
	"github.com/nicholasgasior/transmute-go/internal/logging"
	"github.com/nicholasgasior/transmute-go/internal/objstore"
	"github.com/nicholasgasior/transmute-go/internal/store/duckdb"
	"github.com/nicholasgasior/transmute-go/internal/store/postgres"
	redisstore "github.com/nicholasgasior/transmute-go/internal/store/redis"
	"github.com/nicholasgasior/transmute-go/internal/telemetry"
	"github.com/nicholasgasior/transmute-go/internal/tui"
)

// app holds what the commands share: resolved configuration, the logger
// and lazily opened resources.
type app struct {
	stdout io.Writer
	stderr io.Writer
	out    *tui.Printer
	// outMu serializes multi-line output from concurrent conversions.
	outMu sync.Mutex

	// persistent flags
	configPath  string
	logLevel    string
	logFormat   string
	pluginsDir  string
	storeDriver string
	dsn         string

	cfg      *config.Config
	logger   *slog.Logger
	store    transmute.Store
	shutdown telemetry.ShutdownFunc
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		out:    tui.NewPrinter(stdout),
		logger: slog.Default(),
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "transmute",
		Short: "transmute - plugin-based file conversion",
		Long: `transmute converts a file from one format to another by selecting the
installed plugin that declares the requested (input, output) pair.

Built-in plugins cover csv, html, xlsx, xls, pdf, rss/atom, ipynb, json/yaml and
text. External plugins are directories with a plugin.hcl manifest under the
plugins directory.`,
		Version:           fmt.Sprintf("%s (%s)", version, commit),
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&a.pluginsDir, "plugins-dir", "", "directory of plugin bundles")
	flags.StringVar(&a.storeDriver, "store", "", "history store: memory, postgres, duckdb, redis")
	flags.StringVar(&a.dsn, "dsn", "", "store connection string or database path")

	root.AddCommand(
		a.convertCmd(),
		a.batchCmd(),
		a.pluginsCmd(),
		a.historyCmd(),
		a.settingsCmd(),
		a.watchCmd(),
	)
	return root
}

// setup resolves configuration: defaults < file < environment < flags.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return usage("%v", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("plugins-dir") {
		cfg.Plugins.Dir = a.pluginsDir
	}
	if flags.Changed("store") {
		cfg.Store.Driver = a.storeDriver
	}
	if flags.Changed("dsn") {
		cfg.Store.DSN = a.dsn
	}
	if err := cfg.Validate(); err != nil {
		return usage("invalid configuration: %v", err)
	}
	cfg.Plugins.Dir = config.Expand(cfg.Plugins.Dir)
	cfg.Engine.TempDir = config.Expand(cfg.Engine.TempDir)

	a.cfg = cfg
	a.logger = logging.New(cfg.Log.Level, cfg.Log.Format, a.stderr)

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Telemetry.Insecure,
		SamplingRatio:  cfg.Telemetry.SamplingRatio,
	})
	if err != nil {
		return failure(err)
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown", "error", err)
		}
	}
}

// openStore opens the configured store once.
func (a *app) openStore(ctx context.Context) (transmute.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := newStore(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, failure(fmt.Errorf("open %s store: %w", a.cfg.Store.Driver, err))
	}
	a.store = s
	return s, nil
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transmute.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.Store.DSN, cfg.Store.TablePrefix, logger)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverDuckDB:
		path := config.Expand(cfg.Store.DSN)
		if path == "" {
			home, _ := os.UserHomeDir()
			path = filepath.Join(home, ".transmute", "history.duckdb")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		s, err := duckdb.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverRedis:
		rc := redisstore.DefaultConfig(cfg.Store.Redis.Address)
		rc.Password = cfg.Store.Redis.Password
		rc.Database = cfg.Store.Redis.Database
		if cfg.Store.Redis.Prefix != "" {
			rc.Prefix = cfg.Store.Redis.Prefix
		}
		rc.MaxHistory = cfg.Store.Redis.MaxHistory
		s, err := redisstore.New(ctx, rc)
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return transmute.NewMemoryStore(), nil
	}
}

// sources lists the plugin sources enabled by configuration. A missing
// plugins directory is skipped.
func (a *app) sources() []transmute.Source {
	var out []transmute.Source
	if a.cfg.Plugins.Builtins {
		out = append(out, transmute.Builtins())
	}
	if dir := a.cfg.Plugins.Dir; dir != "" {
		if _, err := os.Stat(dir); err == nil {
			out = append(out, transmute.DirSource(dir))
		} else if errors.Is(err, fs.ErrNotExist) {
			a.logger.Debug("plugins directory not found", "dir", dir)
		} else {
			a.logger.Warn("plugins directory unreadable", "dir", dir, "error", err)
		}
	}
	return out
}

func (a *app) newLoader() (*transmute.Loader, error) {
	minABI, maxABI, err := a.cfg.Plugins.ABIRange()
	if err != nil {
		return nil, usage("%v", err)
	}
	return transmute.NewLoader(
		transmute.WithABIRange(minABI, maxABI),
		transmute.WithLoaderLogger(a.logger),
	), nil
}

// loadRegistry runs the loader over every source and registers the result.
func (a *app) loadRegistry(ctx context.Context) (*transmute.Registry, *transmute.LoadReport, error) {
	mode, err := transmute.ParseMode(a.cfg.Plugins.Mode)
	if err != nil {
		return nil, nil, usage("%v", err)
	}
	loader, err := a.newLoader()
	if err != nil {
		return nil, nil, err
	}
	descs, report := loader.Load(ctx, a.sources()...)

	reg := transmute.NewRegistry(
		transmute.WithMode(mode),
		transmute.WithRegistryLogger(a.logger),
	)
	for _, err := range reg.RegisterAll(descs) {
		a.logger.Warn("plugin not registered", "error", err)
	}
	return reg, report, nil
}

// reload rebuilds the catalog and swaps it into reg.
func (a *app) reload(ctx context.Context, reg *transmute.Registry) error {
	loader, err := a.newLoader()
	if err != nil {
		return err
	}
	descs, report := loader.Load(ctx, a.sources()...)
	refused := reg.ReplaceAll(descs)
	for _, err := range refused {
		a.logger.Warn("plugin not registered", "error", err)
	}
	a.logger.Info("plugins reloaded",
		"accepted", len(report.Accepted()),
		"rejected", len(report.Rejected()),
		"refused", len(refused))
	return nil
}

func (a *app) newEngine(ctx context.Context, reg *transmute.Registry, opts ...transmute.Option) (*transmute.Engine, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	base := []transmute.Option{
		transmute.WithStore(store),
		transmute.WithLogger(a.logger),
		transmute.WithTempDir(a.cfg.Engine.TempDir),
		transmute.WithBreakerThreshold(a.cfg.Engine.BreakerThreshold),
		transmute.WithObjectStore(&lazyObjectStore{cfg: a.s3Config()}),
	}
	return transmute.New(reg, append(base, opts...)...), nil
}

func (a *app) s3Config() objstore.Config {
	c := objstore.DefaultConfig(a.cfg.S3.Region)
	c.Endpoint = a.cfg.S3.Endpoint
	c.UsePathStyle = a.cfg.S3.UsePathStyle
	c.AccessKeyID = a.cfg.S3.AccessKeyID
	c.SecretAccessKey = a.cfg.S3.SecretAccessKey
	return c
}

// lazyObjectStore builds the S3 client on the first s3:// destination.
type lazyObjectStore struct {
	cfg    objstore.Config
	once   sync.Once
	client *objstore.Client
	err    error
}

func (l *lazyObjectStore) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, contentType string) error {
	l.once.Do(func() {
		l.client, l.err = objstore.NewClient(ctx, l.cfg)
	})
	if l.err != nil {
		return l.err
	}
	return l.client.Put(ctx, bucket, key, body, size, contentType)
}
