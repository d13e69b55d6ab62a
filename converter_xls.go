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

package transmute

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/extrame/xls"
)

// XLSPlugin handles legacy BIFF workbooks.
type XLSPlugin struct{}

// NewXLSPlugin creates a new XLSPlugin.
func NewXLSPlugin() *XLSPlugin {
	return &XLSPlugin{}
}

func (p *XLSPlugin) Metadata() Metadata {
	return builtinMetadata("xls", PrioritySpecific, "legacy Excel workbooks to markdown",
		pair(FormatXLS, FormatMD),
	)
}

func (p *XLSPlugin) Convert(ctx context.Context, task *Task, out io.Writer) (Stats, error) {
	in := &countingReader{r: task.Input}
	wb, err := xls.OpenReader(readSeekerOf(in, task.Input), "utf-8")
	if err != nil {
		return Stats{BytesRead: in.n}, fmt.Errorf("open XLS: %w", err)
	}
	stats := Stats{BytesRead: in.n}
	if wb == nil {
		return stats, fmt.Errorf("open XLS: no workbook stream")
	}

	var md strings.Builder
	for i := 0; i < wb.NumSheets(); i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}
		name := sheet.Name
		if name == "" {
			name = fmt.Sprintf("Sheet%d", i+1)
		}

		var rows [][]string
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				continue
			}
			var cells []string
			for c := 0; c < row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			rows = append(rows, cells)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&md, "## %s\n", name)
		md.WriteString(renderMarkdownTable(rows))
		md.WriteString("\n")
	}

	stats.BytesWritten, err = writeMarkdown(out, md.String())
	return stats, err
}

// readSeekerOf pairs a counting reader with the seeker underneath it.
func readSeekerOf(r *countingReader, s io.Seeker) io.ReadSeeker {
	return struct {
		io.Reader
		io.Seeker
	}{r, s}
}
