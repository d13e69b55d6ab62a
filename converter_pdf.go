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
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

const pdfNoText = "[No readable text content found in PDF]"

// PDFPlugin extracts the text layer of PDF documents.
type PDFPlugin struct{}

// NewPDFPlugin creates a new PDFPlugin.
func NewPDFPlugin() *PDFPlugin {
	return &PDFPlugin{}
}

func (p *PDFPlugin) Metadata() Metadata {
	return builtinMetadata("pdf", PrioritySpecific, "PDF text extraction",
		pair(FormatPDF, FormatMD),
		pair(FormatPDF, FormatTXT),
	)
}

func (p *PDFPlugin) Convert(ctx context.Context, task *Task, out io.Writer) (Stats, error) {
	var (
		ra    io.ReaderAt
		size  = task.Size
		stats Stats
	)
	if r, ok := task.Input.(io.ReaderAt); ok && size > 0 {
		ra = r
		stats.BytesRead = size
	} else {
		data, err := readInput(ctx, task)
		if err != nil {
			return Stats{}, err
		}
		ra, size = bytes.NewReader(data), int64(len(data))
		stats.BytesRead = size
	}

	reader, err := pdf.NewReader(ra, size)
	if err != nil {
		return stats, fmt.Errorf("open PDF: %w", err)
	}

	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText := strings.TrimSpace(extractPageText(page))
		if pageText == "" {
			continue
		}
		text.WriteString(pageText)
		text.WriteString("\n\n")
	}

	result := text.String()
	if strings.TrimSpace(result) == "" {
		result = pdfNoText
	}
	if task.To == FormatTXT {
		result = strings.TrimSpace(result) + "\n"
		n, err := io.WriteString(out, result)
		stats.BytesWritten = int64(n)
		return stats, err
	}
	stats.BytesWritten, err = writeMarkdown(out, result)
	return stats, err
}

type pdfTextElement struct {
	x    float64
	y    float64
	text string
	size float64
}

type pdfLine struct {
	y        float64
	elements []pdfTextElement
}

// extractPageText uses GetTextByRow for word boundaries and falls back to
// grouping positioned glyphs from Content().Text.
func extractPageText(page pdf.Page) string {
	if text := textByRow(page); strings.TrimSpace(text) != "" {
		return text
	}

	var elements []pdfTextElement
	for _, t := range page.Content().Text {
		if strings.TrimSpace(t.S) == "" {
			continue
		}
		elements = append(elements, pdfTextElement{x: t.X, y: t.Y, text: t.S, size: t.FontSize})
	}
	if len(elements) == 0 {
		return ""
	}

	yTolerance := 3.0
	if elements[0].size > 0 {
		yTolerance = elements[0].size * 0.3
	}

	var lines []pdfLine
	for _, elem := range elements {
		found := false
		for i := range lines {
			if abs(lines[i].y-elem.y) < yTolerance {
				lines[i].elements = append(lines[i].elements, elem)
				found = true
				break
			}
		}
		if !found {
			lines = append(lines, pdfLine{y: elem.y, elements: []pdfTextElement{elem}})
		}
	}

	// PDF y grows upwards.
	sort.Slice(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	var result strings.Builder
	for _, ln := range lines {
		sort.Slice(ln.elements, func(i, j int) bool { return ln.elements[i].x < ln.elements[j].x })

		var line strings.Builder
		var lastX, lastWidth float64
		for i, elem := range ln.elements {
			if i > 0 {
				threshold := max(elem.size*0.2, 1.0)
				if elem.x-(lastX+lastWidth) > threshold {
					line.WriteString(" ")
				}
			}
			line.WriteString(elem.text)
			lastX = elem.x
			lastWidth = float64(len([]rune(elem.text))) * elem.size * 0.55
		}
		if s := line.String(); strings.TrimSpace(s) != "" {
			result.WriteString(s)
			result.WriteString("\n")
		}
	}
	return result.String()
}

func textByRow(page pdf.Page) string {
	rows, err := page.GetTextByRow()
	if err != nil || len(rows) == 0 {
		return ""
	}
	var result strings.Builder
	for _, row := range rows {
		var line strings.Builder
		gap := false
		for _, word := range row.Content {
			if word.S == "" {
				gap = true
				continue
			}
			if line.Len() > 0 && gap && !strings.HasSuffix(line.String(), " ") {
				line.WriteString(" ")
			}
			line.WriteString(word.S)
			gap = false
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			result.WriteString(s)
			result.WriteString("\n")
		}
	}
	return result.String()
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
