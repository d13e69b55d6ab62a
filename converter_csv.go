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
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// CSVPlugin renders CSV as a markdown table or as a JSON array of objects
// keyed by the header row.
type CSVPlugin struct{}

// NewCSVPlugin creates a new CSVPlugin.
func NewCSVPlugin() *CSVPlugin {
	return &CSVPlugin{}
}

func (p *CSVPlugin) Metadata() Metadata {
	return builtinMetadata("csv", PrioritySpecific, "CSV to markdown table or JSON",
		pair(FormatCSV, FormatMD),
		pair(FormatCSV, FormatJSON),
	)
}

func (p *CSVPlugin) Convert(ctx context.Context, task *Task, out io.Writer) (Stats, error) {
	data, err := readInput(ctx, task)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{BytesRead: int64(len(data))}

	r := csv.NewReader(strings.NewReader(decodeWithDetection(data)))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return stats, fmt.Errorf("parse CSV: %w", err)
	}

	switch task.To {
	case FormatMD:
		stats.BytesWritten, err = writeMarkdown(out, renderMarkdownTable(records))
	case FormatJSON:
		stats.BytesWritten, err = writeCSVAsJSON(out, records)
	default:
		err = unsupportedTarget("csv", task)
	}
	return stats, err
}

// renderMarkdownTable renders a 2D string slice as a markdown table. The
// first row is the header and fixes the column count.
func renderMarkdownTable(records [][]string) string {
	if len(records) == 0 {
		return ""
	}
	numCols := len(records[0])

	var b strings.Builder
	writeRow := func(row []string) {
		b.WriteString("| ")
		for i := 0; i < numCols; i++ {
			if i < len(row) {
				b.WriteString(escapeTableCell(row[i]))
			}
			b.WriteString(" | ")
		}
		b.WriteString("\n")
	}

	writeRow(records[0])
	b.WriteString("| ")
	for i := 0; i < numCols; i++ {
		b.WriteString("--- | ")
	}
	b.WriteString("\n")
	for _, row := range records[1:] {
		writeRow(row)
	}
	return b.String()
}

func escapeTableCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// writeCSVAsJSON writes one object per data row. Keys keep header order;
// blank headers and cells beyond the header are named column_N, and a
// repeated name gets a _2, _3, ... suffix so keys stay unique.
func writeCSVAsJSON(out io.Writer, records [][]string) (int64, error) {
	cw := &countingWriter{w: out}
	w := bufio.NewWriter(cw)

	if len(records) == 0 {
		w.WriteString("[]\n")
		err := w.Flush()
		return cw.n, err
	}
	header := records[0]
	width := len(header)
	for _, row := range records[1:] {
		width = max(width, len(row))
	}
	keys := jsonKeys(header, width)

	w.WriteString("[")
	for i, row := range records[1:] {
		if i > 0 {
			w.WriteString(",")
		}
		w.WriteString("\n  {")
		for col := 0; col < max(len(header), len(row)); col++ {
			val := ""
			if col < len(row) {
				val = row[col]
			}
			k, _ := json.Marshal(keys[col])
			v, _ := json.Marshal(val)
			if col > 0 {
				w.WriteString(", ")
			}
			w.Write(k)
			w.WriteString(": ")
			w.Write(v)
		}
		w.WriteString("}")
	}
	if len(records) > 1 {
		w.WriteString("\n")
	}
	w.WriteString("]\n")
	err := w.Flush()
	return cw.n, err
}

func jsonKeys(header []string, width int) []string {
	keys := make([]string, width)
	used := make(map[string]bool, width)
	for col := range keys {
		base := fmt.Sprintf("column_%d", col+1)
		if col < len(header) && header[col] != "" {
			base = header[col]
		}
		key := base
		for n := 2; used[key]; n++ {
			key = fmt.Sprintf("%s_%d", base, n)
		}
		used[key] = true
		keys[col] = key
	}
	return keys
}
