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
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicholasgasior/transmute-go/internal/tui"
)

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent conversions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return failure(err)
			}
			if len(entries) == 0 {
				a.out.Muted("no conversions recorded")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				detail := e.OutputFile
				if e.ErrorMessage != "" {
					detail = e.ErrorMessage
				}
				rows = append(rows, []string{
					strconv.FormatInt(e.ID, 10),
					e.Timestamp.Local().Format(time.DateTime),
					e.InputFile,
					fmt.Sprintf("%s -> %s", e.InputFormat, e.OutputFormat),
					e.PluginName,
					tui.Status(string(e.Status)),
					tui.FormatBytes(e.BytesProcessed),
					tui.FormatDuration(e.Duration),
					detail,
				})
			}
			a.out.Table([]string{"ID", "TIME", "INPUT", "FORMATS", "PLUGIN", "STATUS", "READ", "TOOK", "OUTPUT"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries (0 for all)")
	return cmd
}

func (a *app) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and change stored settings",
		Long: `Read and change stored settings.

Keys read by the engine:
  engine.temp_dir            directory for in-flight output
  engine.plugin_preference   comma-separated plugin names tried first`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			settings, err := store.List(cmd.Context())
			if err != nil {
				return failure(err)
			}
			rows := make([][]string, 0, len(settings))
			for _, s := range settings {
				rows = append(rows, []string{s.Key, s.Value, s.UpdatedAt.Local().Format(time.DateTime)})
			}
			a.out.Table([]string{"KEY", "VALUE", "UPDATED"}, rows)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			s, ok, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return failure(err)
			}
			if !ok {
				return &exitError{Code: exitFailure, Message: fmt.Sprintf("setting %q is not set", args[0])}
			}
			fmt.Fprintln(a.stdout, s.Value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.Set(cmd.Context(), args[0], args[1]); err != nil {
				return failure(err)
			}
			a.out.Success("%s = %s", args[0], args[1])
			return nil
		},
	})
	return cmd
}
