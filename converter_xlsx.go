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
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXPlugin renders workbooks as one markdown table per sheet, or the
// active sheet as CSV.
type XLSXPlugin struct{}

// NewXLSXPlugin creates a new XLSXPlugin.
func NewXLSXPlugin() *XLSXPlugin {
	return &XLSXPlugin{}
}

func (p *XLSXPlugin) Metadata() Metadata {
	return builtinMetadata("xlsx", PrioritySpecific, "Excel workbooks to markdown or CSV",
		pair(FormatXLSX, FormatMD),
		pair(FormatXLSX, FormatCSV),
	)
}

func (p *XLSXPlugin) Convert(ctx context.Context, task *Task, out io.Writer) (Stats, error) {
	in := &countingReader{r: task.Input}
	f, err := excelize.OpenReader(in)
	if err != nil {
		return Stats{BytesRead: in.n}, fmt.Errorf("open XLSX: %w", err)
	}
	defer f.Close()
	stats := Stats{BytesRead: in.n}

	switch task.To {
	case FormatMD:
		var md strings.Builder
		for _, sheet := range f.GetSheetList() {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			rows, err := f.GetRows(sheet)
			if err != nil || len(rows) == 0 {
				continue
			}
			fmt.Fprintf(&md, "## %s\n", sheet)
			md.WriteString(renderMarkdownTable(rows))
			md.WriteString("\n")
		}
		stats.BytesWritten, err = writeMarkdown(out, md.String())
		return stats, err

	case FormatCSV:
		sheet := f.GetSheetName(f.GetActiveSheetIndex())
		rows, err := f.GetRows(sheet)
		if err != nil {
			return stats, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		cw := &countingWriter{w: out}
		w := csv.NewWriter(cw)
		for _, row := range rows {
			if err := w.Write(row); err != nil {
				return stats, err
			}
		}
		w.Flush()
		stats.BytesWritten = cw.n
		return stats, w.Error()
	}
	return stats, unsupportedTarget("xlsx", task)
}
