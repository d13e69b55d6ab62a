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

// Package tui renders CLI output: styled status lines, tables and progress
// bars. No interactive TUI, just clean streaming output.
package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
)

// Colors
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Printer writes styled lines to w.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Title prints a bold heading.
func (p *Printer) Title(format string, args ...interface{}) {
	fmt.Fprintln(p.w, titleStyle.Render(fmt.Sprintf(format, args...)))
}

// Success prints a check-marked line.
func (p *Printer) Success(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s %s\n", successStyle.Render("✓"), fmt.Sprintf(format, args...))
}

// Failure prints a cross-marked line.
func (p *Printer) Failure(format string, args ...interface{}) {
	fmt.Fprintf(p.w, "%s %s\n", accentStyle.Render("✗"), fmt.Sprintf(format, args...))
}

// Muted prints a dimmed line.
func (p *Printer) Muted(format string, args ...interface{}) {
	fmt.Fprintln(p.w, mutedStyle.Render(fmt.Sprintf(format, args...)))
}

// KeyValue prints "key: value" with a dimmed key.
func (p *Printer) KeyValue(key, value string) {
	fmt.Fprintf(p.w, "  %s %s\n", mutedStyle.Render(key+":"), value)
}

// Table prints rows under headers, columns padded to the widest cell.
func (p *Printer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = headerStyle.Render(h) + strings.Repeat(" ", widths[i]-lipgloss.Width(h))
	}
	fmt.Fprintln(p.w, strings.TrimRight(strings.Join(cells, "  "), " "))

	for _, row := range rows {
		for i := range cells {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			cells[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
		}
		fmt.Fprintln(p.w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

// Status renders a history status word in its color.
func Status(status string) string {
	if status == "success" {
		return successStyle.Render(status)
	}
	return accentStyle.Render(status)
}

// NewProgress creates a progress bar writing to w.
func NewProgress(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(int64(total),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration rounds d for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}
