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
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) pluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "Show the plugin load report and capability table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, report, err := a.loadRegistry(cmd.Context())
			if err != nil {
				return err
			}

			a.out.Title("Plugins")
			rows := make([][]string, 0, len(report.Entries))
			for _, e := range report.Entries {
				status, detail := "accepted", ""
				if !e.Accepted {
					status = "rejected"
					if e.Err != nil {
						detail = e.Err.Error()
					}
				}
				version := ""
				if !e.Version.IsZero() {
					version = e.Version.String()
				}
				rows = append(rows, []string{e.Name, version, status, e.Origin, detail})
			}
			a.out.Table([]string{"NAME", "VERSION", "STATUS", "ORIGIN", "REASON"}, rows)

			a.out.Title("\nCapabilities")
			caps := reg.Capabilities()
			rows = make([][]string, 0, len(caps))
			for _, c := range caps {
				var names []string
				for _, d := range reg.Candidates(c.From, c.To) {
					names = append(names, d.Name())
				}
				rows = append(rows, []string{c.From.String(), c.To.String(), strings.Join(names, ", ")})
			}
			a.out.Table([]string{"FROM", "TO", "CANDIDATES"}, rows)
			a.out.Muted("%d plugins registered, %d rejected", reg.Len(), len(report.Rejected()))
			return nil
		},
	}
}
