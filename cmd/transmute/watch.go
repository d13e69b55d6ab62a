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
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	transmute "github.com/nicholasgasior/transmute-go"
	"github.com/nicholasgasior/transmute-go/internal/watch"
)

func (a *app) watchCmd() *cobra.Command {
	var inbox, to, outDir string
	var reloadPlugins bool
	cmd := &cobra.Command{
		Use:   "watch --inbox DIR --to FORMAT --out DIR",
		Short: "Convert files dropped into a hot folder",
		Long: `Watch a hot folder and convert every file written into it. With
--reload-plugins (or plugins.watch in the config) changes under the plugins
directory reload the catalog without stopping.

Example:
  transmute watch --inbox ./drop --to md --out ./converted --reload-plugins`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format := transmute.NormalizeFormat(to)
			if inbox == "" || outDir == "" || !format.Known() {
				return usage("--inbox, --to and --out are required")
			}
			if !transmute.IsObjectURL(outDir) {
				if same, _ := sameDir(inbox, outDir); same {
					return usage("--out must differ from --inbox")
				}
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return failure(err)
				}
			}

			ctx := cmd.Context()
			reg, _, err := a.loadRegistry(ctx)
			if err != nil {
				return err
			}
			engine, err := a.newEngine(ctx, reg, transmute.WithResultHook(a.printResult))
			if err != nil {
				return err
			}

			inboxWatcher, err := watch.New(func(ctx context.Context, path string) error {
				res := engine.Convert(ctx, transmute.Request{
					InputPath:    path,
					OutputFormat: format,
					OutputPath:   outputPathFor(outDir, path, format),
				})
				return res.Failure()
			}, watch.WithLogger(a.logger))
			if err != nil {
				return failure(err)
			}
			if err := inboxWatcher.Add(inbox); err != nil {
				return failure(err)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return inboxWatcher.Run(gctx) })

			if reloadPlugins || a.cfg.Plugins.Watch {
				pluginWatcher, err := a.pluginWatcher(reg)
				if err != nil {
					return failure(err)
				}
				if pluginWatcher != nil {
					g.Go(func() error { return pluginWatcher.Run(gctx) })
				}
			}

			a.out.Success("watching %s -> %s (%s)", inbox, outDir, format)
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return failure(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inbox, "inbox", "", "hot folder to watch")
	cmd.Flags().StringVar(&to, "to", "", "output format")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory or s3://bucket/prefix")
	cmd.Flags().BoolVar(&reloadPlugins, "reload-plugins", false, "reload plugins when the plugins directory changes")
	return cmd
}

// pluginWatcher reloads reg whenever anything under the plugins directory
// changes. It returns nil when there is no directory to watch.
func (a *app) pluginWatcher(reg *transmute.Registry) (*watch.Watcher, error) {
	dir := a.cfg.Plugins.Dir
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		a.logger.Warn("plugins directory not watchable", "dir", dir)
		return nil, nil
	}
	w, err := watch.New(func(ctx context.Context, _ string) error {
		return a.reload(ctx, reg)
	}, watch.WithCollapse(), watch.WithRecursive(), watch.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		return nil, err
	}
	return w, nil
}

func sameDir(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
