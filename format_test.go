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
	"io"
	"strings"
	"testing"
)

func TestNormalizeFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{"pdf", FormatPDF},
		{".PDF", FormatPDF},
		{" Markdown ", FormatMD},
		{"jpeg", FormatJPG},
		{"yml", FormatYAML},
		{"htm", FormatHTML},
		{"text", FormatTXT},
		{"", FormatUnknown},
		{"  ", FormatUnknown},
		{"UNKNOWN", FormatUnknown},
		{"heic", Format("heic")},
	}
	for _, tt := range tests {
		if got := NormalizeFormat(tt.input); got != tt.want {
			t.Errorf("NormalizeFormat(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"report.pdf", FormatPDF},
		{"dir/Report.HTML", FormatHTML},
		{"page.htm", FormatHTML},
		{"config.yml", FormatYAML},
		{"photo.jpeg", FormatJPG},
		{"Makefile", FormatUnknown},
		{"archive.unknownext", FormatUnknown},
		{"trailing.", FormatUnknown},
	}
	for _, tt := range tests {
		if got := FormatFromPath(tt.path); got != tt.want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content []byte
		want    Format
		wantErr Kind
	}{
		{"extension wins", "notes.csv", []byte("%PDF-1.4\n"), FormatCSV, KindUnknown},
		{"pdf header", "upload", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n"), FormatPDF, KindUnknown},
		{"html", "page.bin", []byte("<!DOCTYPE html><html><head><title>t</title></head><body>hi</body></html>"), FormatHTML, KindUnknown},
		{"json", "data", []byte(`{"name": "transmute", "tags": ["a", "b"]}`), FormatJSON, KindUnknown},
		{"png", "image", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), FormatPNG, KindUnknown},
		{"plain text", "README", []byte("just some words\nover two lines\n"), FormatTXT, KindUnknown},
		{"binary", "blob.unknownext", []byte{0x00, 0x01, 0x02, 0xfe, 0xff, 0x00, 0x9c}, FormatUnknown, KindAmbiguousFormat},
		{"empty", "empty", nil, FormatUnknown, KindAmbiguousFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bytes.NewReader(tt.content)
			got, err := DetectFormat(r, tt.path)
			if tt.wantErr != KindUnknown {
				if KindOf(err) != tt.wantErr {
					t.Fatalf("DetectFormat() error = %v, want kind %s", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("DetectFormat() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectFormat(%q) = %q, want %q", tt.path, got, tt.want)
			}
			rest, _ := io.ReadAll(r)
			if !bytes.Equal(rest, tt.content) {
				t.Errorf("reader not rewound: read back %d of %d bytes", len(rest), len(tt.content))
			}
		})
	}
}

func TestDetectFormatLargeInput(t *testing.T) {
	body := strings.Repeat("plain line of text\n", 1000)
	r := strings.NewReader(body)
	got, err := DetectFormat(r, "big")
	if err != nil {
		t.Fatalf("DetectFormat() error: %v", err)
	}
	if got != FormatTXT {
		t.Errorf("DetectFormat() = %q, want txt", got)
	}
	if pos, _ := r.Seek(0, io.SeekCurrent); pos != 0 {
		t.Errorf("reader left at offset %d", pos)
	}
}

func TestFormatString(t *testing.T) {
	if got := Format("").String(); got != "unknown" {
		t.Errorf(`Format("").String() = %q, want "unknown"`, got)
	}
	if Format("").Known() || FormatUnknown.Known() {
		t.Error("empty and unknown formats must not be known")
	}
	if !FormatMD.Known() {
		t.Error("md should be known")
	}
}
