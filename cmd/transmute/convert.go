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
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	transmute "github.com/nicholasgasior/transmute-go"
	"github.com/nicholasgasior/transmute-go/internal/tui"
)

func (a *app) convertCmd() *cobra.Command {
	var from, to, plugin string
	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert one file",
		Long: `Convert one file. The output format defaults to the output extension and
the input format to the input extension or, failing that, the file content.

The output may be a local path or s3://bucket/key.

Examples:
  transmute convert report.csv report.md
  transmute convert data.json data.out --to yaml
  transmute convert page.html s3://docs/page.md --plugin html`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg, _, err := a.loadRegistry(ctx)
			if err != nil {
				return err
			}
			engine, err := a.newEngine(ctx, reg)
			if err != nil {
				return err
			}
			if err := ensureParent(args[1]); err != nil {
				return failure(err)
			}

			res := engine.Convert(ctx, transmute.Request{
				InputPath:    args[0],
				InputFormat:  transmute.NormalizeFormat(from),
				OutputFormat: transmute.NormalizeFormat(to),
				OutputPath:   args[1],
				PluginHint:   plugin,
			})
			a.printResult(res)
			if !res.OK() {
				return &exitError{Code: exitFailure, Err: res.Failure()}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "input format (default: detected)")
	cmd.Flags().StringVar(&to, "to", "", "output format (default: output extension)")
	cmd.Flags().StringVar(&plugin, "plugin", "", "preferred plugin name")
	return cmd
}

func (a *app) batchCmd() *cobra.Command {
	var to, outDir, plugin string
	var workers int
	cmd := &cobra.Command{
		Use:   "batch <inputs...> --to FORMAT --out DIR",
		Short: "Convert many files in parallel",
		Long: `Convert every input to FORMAT, writing <out>/<name>.<format>.

Examples:
  transmute batch *.csv --to md --out ./markdown
  transmute batch reports/*.xlsx --to csv --out s3://exports/reports --workers 8`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format := transmute.NormalizeFormat(to)
			if !format.Known() {
				return usage("--to is required")
			}
			if outDir == "" {
				return usage("--out is required")
			}
			if !transmute.IsObjectURL(outDir) {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return failure(err)
				}
			}
			if workers <= 0 {
				workers = a.cfg.Engine.Workers
			}

			ctx := cmd.Context()
			reg, _, err := a.loadRegistry(ctx)
			if err != nil {
				return err
			}

			bar := tui.NewProgress(a.stderr, len(args), "converting")
			engine, err := a.newEngine(ctx, reg, transmute.WithResultHook(func(*transmute.Result) {
				bar.Add(1)
			}))
			if err != nil {
				return err
			}

			reqs := make([]transmute.Request, len(args))
			for i, in := range args {
				reqs[i] = transmute.Request{
					InputPath:    in,
					OutputFormat: format,
					OutputPath:   outputPathFor(outDir, in, format),
					PluginHint:   plugin,
				}
			}
			results := engine.ConvertAll(ctx, reqs, workers)
			bar.Finish()

			failed := a.printBatch(results)
			if failed > 0 {
				return &exitError{Code: exitFailure, Message: fmt.Sprintf("%d of %d conversions failed", failed, len(results))}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "output format")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory or s3://bucket/prefix")
	cmd.Flags().StringVar(&plugin, "plugin", "", "preferred plugin name")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel conversions (default: engine.workers, then CPU count)")
	return cmd
}

// outputPathFor maps an input to <dir>/<stem>.<format>.
func outputPathFor(dir, input string, format transmute.Format) string {
	base := filepath.Base(input)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + "." + string(format)
	if transmute.IsObjectURL(dir) {
		return strings.TrimSuffix(dir, "/") + "/" + path.Clean(name)
	}
	return filepath.Join(dir, name)
}

// ensureParent creates the directory of a local destination.
func ensureParent(dest string) error {
	if transmute.IsObjectURL(dest) {
		return nil
	}
	dir := filepath.Dir(dest)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (a *app) printResult(res *transmute.Result) {
	a.outMu.Lock()
	defer a.outMu.Unlock()

	if res.OK() {
		a.out.Success("%s -> %s", res.InputPath, res.OutputPath)
	} else {
		a.out.Failure("%s: %v", res.InputPath, res.Err)
	}
	if res.Plugin != "" {
		a.out.KeyValue("plugin", res.Plugin)
	}
	a.out.KeyValue("formats", fmt.Sprintf("%s -> %s", res.InputFormat, res.OutputFormat))
	a.out.KeyValue("read", tui.FormatBytes(res.BytesProcessed))
	if res.OK() {
		a.out.KeyValue("written", tui.FormatBytes(res.BytesWritten))
	}
	a.out.KeyValue("took", tui.FormatDuration(res.Duration))
	if res.HistoryErr != nil {
		a.out.Muted("  history not recorded: %v", res.HistoryErr)
	}
}

func (a *app) printBatch(results []*transmute.Result) int {
	failed := 0
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		detail := res.OutputPath
		if !res.OK() {
			failed++
			detail = res.Err.Error()
		}
		rows = append(rows, []string{
			res.InputPath,
			tui.Status(string(res.Status)),
			res.Plugin,
			detail,
		})
	}
	a.out.Table([]string{"INPUT", "STATUS", "PLUGIN", "OUTPUT"}, rows)
	a.out.Muted("%d converted, %d failed", len(results)-failed, failed)
	return failed
}
