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

package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in), "FormatBytes(%d)", tt.in)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23s", FormatDuration(1234567890*time.Nanosecond))
	assert.Equal(t, "12ms", FormatDuration(12345*time.Microsecond))
	assert.Equal(t, "500ns", FormatDuration(500*time.Nanosecond))
}

func TestTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Table(
		[]string{"NAME", "PAIRS"},
		[][]string{
			{"csv", "csv->md"},
			{"text-long", "txt->md"},
		},
	)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	// second column starts at the same offset in every body row
	assert.Equal(t, strings.Index(lines[1], "csv->md"), strings.Index(lines[2], "txt->md"))
	assert.Contains(t, lines[0], "NAME")
}

func TestPrinterLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Success("converted %s", "a.csv")
	p.Failure("failed %s", "b.pdf")
	p.KeyValue("plugin", "csv")

	out := buf.String()
	assert.Contains(t, out, "converted a.csv")
	assert.Contains(t, out, "failed b.pdf")
	assert.Contains(t, out, "plugin:")
}

func TestNewProgressWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgress(&buf, 2, "converting")
	require.NoError(t, bar.Add(1))
	require.NoError(t, bar.Add(1))
	assert.True(t, bar.IsFinished())
}
