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
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// convertWith runs p directly on input and returns its output.
func convertWith(t *testing.T, p Plugin, from, to Format, input []byte) string {
	t.Helper()
	var out bytes.Buffer
	task := &Task{Input: bytes.NewReader(input), Path: "input." + string(from), Size: int64(len(input)), From: from, To: to}
	stats, err := p.Convert(context.Background(), task, &out)
	if err != nil {
		t.Fatalf("%s Convert(%s) error: %v", p.Metadata().Name, Capability{From: from, To: to}, err)
	}
	if stats.BytesWritten != int64(out.Len()) {
		t.Errorf("%s reported %d bytes written, wrote %d", p.Metadata().Name, stats.BytesWritten, out.Len())
	}
	return out.String()
}

func checkContents(t *testing.T, got string, mustInclude, mustNotInclude []string) {
	t.Helper()
	for _, s := range mustInclude {
		if !strings.Contains(got, s) {
			t.Errorf("expected output to contain %q\n--- output ---\n%s", s, got)
		}
	}
	for _, s := range mustNotInclude {
		if strings.Contains(got, s) {
			t.Errorf("expected output NOT to contain %q", s)
		}
	}
}

func TestCSVPlugin(t *testing.T) {
	input := []byte("name,note\nada,\"likes | pipes\"\nbob,short,extra\n")

	md := convertWith(t, NewCSVPlugin(), FormatCSV, FormatMD, input)
	want := "| name | note |\n| --- | --- |\n| ada | likes \\| pipes |\n| bob | short |\n"
	if md != want {
		t.Errorf("markdown = %q, want %q", md, want)
	}

	js := convertWith(t, NewCSVPlugin(), FormatCSV, FormatJSON, input)
	var rows []map[string]string
	if err := json.Unmarshal([]byte(js), &rows); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, js)
	}
	wantRows := []map[string]string{
		{"name": "ada", "note": "likes | pipes"},
		{"name": "bob", "note": "short", "column_3": "extra"},
	}
	if !reflect.DeepEqual(rows, wantRows) {
		t.Errorf("rows = %v, want %v", rows, wantRows)
	}
	if strings.Index(js, `"name"`) > strings.Index(js, `"note"`) {
		t.Error("JSON keys do not follow header order")
	}

	if got := convertWith(t, NewCSVPlugin(), FormatCSV, FormatJSON, nil); got != "[]\n" {
		t.Errorf("empty CSV as JSON = %q, want %q", got, "[]\n")
	}
}

func TestCSVPluginJSONKeysAreUnique(t *testing.T) {
	input := []byte("id,name,name,,id\n1,ada,lovelace,x,9,extra\n")
	js := convertWith(t, NewCSVPlugin(), FormatCSV, FormatJSON, input)

	var rows []map[string]string
	if err := json.Unmarshal([]byte(js), &rows); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, js)
	}
	want := []map[string]string{{
		"id": "1", "name": "ada", "name_2": "lovelace", "column_4": "x", "id_2": "9", "column_6": "extra",
	}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
	if strings.Count(js, `"name"`) != 1 || strings.Count(js, `"id"`) != 1 {
		t.Errorf("duplicate keys in %s", js)
	}
}

func TestJSONKeys(t *testing.T) {
	tests := []struct {
		header []string
		width  int
		want   []string
	}{
		{[]string{"a", "b"}, 2, []string{"a", "b"}},
		{[]string{"a", "a", "a"}, 3, []string{"a", "a_2", "a_3"}},
		{[]string{"a_2", "a", "a"}, 3, []string{"a_2", "a", "a_3"}},
		{[]string{"column_2", ""}, 3, []string{"column_2", "column_2_2", "column_3"}},
		{nil, 2, []string{"column_1", "column_2"}},
	}
	for _, tt := range tests {
		if got := jsonKeys(tt.header, tt.width); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("jsonKeys(%q, %d) = %q, want %q", tt.header, tt.width, got, tt.want)
		}
	}
}

func TestHTMLPlugin(t *testing.T) {
	input := []byte(`<!DOCTYPE html>
<html>
<head>
  <title>Quarterly Report</title>
  <style>body { color: red; }</style>
  <script>alert("tracking");</script>
</head>
<body>
  <p>Revenue is <strong>up</strong> this quarter.</p>
  <ul><li>first</li><li>second</li></ul>
</body>
</html>`)

	got := convertWith(t, NewHTMLPlugin(), FormatHTML, FormatMD, input)
	checkContents(t, got,
		[]string{"# Quarterly Report", "Revenue is **up** this quarter.", "- first", "- second"},
		[]string{"alert(", "color: red", "<p>", "<strong>"},
	)
	if !strings.HasPrefix(got, "# Quarterly Report\n\n") {
		t.Errorf("title not placed first: %q", got)
	}

	heading := []byte(`<html><head><title>Ignored</title></head><body><h1>Own Heading</h1><p>x</p></body></html>`)
	got = convertWith(t, NewHTMLPlugin(), FormatHTML, FormatMD, heading)
	checkContents(t, got, []string{"# Own Heading"}, []string{"Ignored"})
}

func TestTruncateDataURIs(t *testing.T) {
	payload := strings.Repeat("QUJD", 20)
	md := "![img](data:image/png;base64," + payload + ")"
	if got, want := truncateDataURIs(md), "![img](data:image/png;base64,...)"; got != want {
		t.Errorf("truncateDataURIs() = %q, want %q", got, want)
	}
	short := "![img](data:image/png;base64,QUJD)"
	if got := truncateDataURIs(short); got != short {
		t.Errorf("short data URI changed: %q", got)
	}
}

func TestYAMLPlugin(t *testing.T) {
	yamlIn := []byte("name: transmute\ncount: 3\ntags:\n  - b\n  - a\nnested:\n  on: true\n")
	got := convertWith(t, NewYAMLPlugin(), FormatYAML, FormatJSON, yamlIn)
	want := `{
  "name": "transmute",
  "count": 3,
  "tags": [
    "b",
    "a"
  ],
  "nested": {
    "on": true
  }
}
`
	if got != want {
		t.Errorf("YAML -> JSON = %q, want %q", got, want)
	}

	jsonIn := []byte(`{"zeta": 1, "alpha": ["x", "y"], "label": "a: b"}`)
	got = convertWith(t, NewYAMLPlugin(), FormatJSON, FormatYAML, jsonIn)
	checkContents(t, got, []string{"zeta: 1", "alpha:", "- x", "label:"}, []string{"{", `"zeta"`})
	if strings.Index(got, "zeta") > strings.Index(got, "alpha") {
		t.Errorf("key order not preserved:\n%s", got)
	}

	// Converting back yields the same document.
	back := convertWith(t, NewYAMLPlugin(), FormatYAML, FormatJSON, []byte(got))
	var a, b interface{}
	if err := json.Unmarshal(jsonIn, &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(back), &b); err != nil {
		t.Fatalf("round trip is not JSON: %v\n%s", err, back)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("round trip = %v, want %v", b, a)
	}
}

func TestYAMLPluginRejectsBadInput(t *testing.T) {
	task := &Task{Input: strings.NewReader("key: [unclosed"), From: FormatYAML, To: FormatJSON}
	if _, err := NewYAMLPlugin().Convert(context.Background(), task, &bytes.Buffer{}); err == nil {
		t.Error("Convert() accepted malformed YAML")
	}
}

func TestTextPlugin(t *testing.T) {
	input := []byte("\uFEFFline one  \r\nline two\r\n\r\n\r\n\r\nend\r\n")

	txt := convertWith(t, NewTextPlugin(), FormatTXT, FormatTXT, input)
	if want := "line one  \nline two\n\n\n\nend\n"; txt != want {
		t.Errorf("txt = %q, want %q", txt, want)
	}

	md := convertWith(t, NewTextPlugin(), FormatTXT, FormatMD, input)
	if want := "line one\nline two\n\nend\n"; md != want {
		t.Errorf("md = %q, want %q", md, want)
	}
}

func TestIpynbPlugin(t *testing.T) {
	input := []byte(`{
  "nbformat": 4,
  "nbformat_minor": 5,
  "metadata": {"kernelspec": {"name": "python3", "language": "python"}},
  "cells": [
    {"cell_type": "markdown", "source": ["# Test Notebook\n", "Intro text."]},
    {"cell_type": "code", "source": "print(\"transmute\")",
     "outputs": [{"output_type": "stream", "text": ["transmute\n"]}]},
    {"cell_type": "code", "source": "1 + 1",
     "outputs": [{"output_type": "execute_result", "data": {"text/plain": "2"}}]},
    {"cell_type": "markdown", "source": "## Code Cell Below"}
  ]
}`)
	got := convertWith(t, NewIpynbPlugin(), FormatIPYNB, FormatMD, input)
	checkContents(t, got,
		[]string{"# Test Notebook", "Intro text.", "```python\nprint(\"transmute\")\n```", "```\ntransmute\n```", "```\n2\n```", "## Code Cell Below"},
		[]string{"nbformat", "kernelspec"},
	)
}

func TestRSSPlugin(t *testing.T) {
	input := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Release Notes</title>
  <description>What changed</description>
  <item>
    <title>Version 1.2</title>
    <pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate>
    <description><![CDATA[<p>Adds <b>batch</b> mode.</p>]]></description>
  </item>
  <item>
    <title>Version 1.1</title>
    <description>Plain text notes</description>
  </item>
</channel>
</rss>`)
	got := convertWith(t, NewRSSPlugin(), FormatRSS, FormatMD, input)
	checkContents(t, got,
		[]string{"# Release Notes", "What changed", "## Version 1.2", "Published: Mon, 02 Mar 2026", "Adds **batch** mode.", "## Version 1.1", "Plain text notes"},
		[]string{"<rss", "<p>", "CDATA"},
	)

	atom := []byte(`<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <updated>2026-03-01T00:00:00Z</updated>
  <entry>
    <title>Entry One</title>
    <updated>2026-03-01T00:00:00Z</updated>
    <content type="text">entry body</content>
  </entry>
</feed>`)
	got = convertWith(t, NewRSSPlugin(), FormatATOM, FormatMD, atom)
	checkContents(t, got, []string{"# Atom Feed", "## Entry One", "entry body"}, []string{"<feed"})
}

func newWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	cells := map[string]interface{}{
		"A1": "item", "B1": "qty",
		"A2": "apple", "B2": 3,
		"A3": "pear", "B3": 12,
	}
	for cell, v := range cells {
		if err := f.SetCellValue("Sheet1", cell, v); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.NewSheet("Empty"); err != nil {
		t.Fatal(err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestXLSXPlugin(t *testing.T) {
	book := newWorkbook(t)

	md := convertWith(t, NewXLSXPlugin(), FormatXLSX, FormatMD, book)
	want := "## Sheet1\n| item | qty |\n| --- | --- |\n| apple | 3 |\n| pear | 12 |\n"
	if md != want {
		t.Errorf("markdown = %q, want %q", md, want)
	}

	csv := convertWith(t, NewXLSXPlugin(), FormatXLSX, FormatCSV, book)
	if want := "item,qty\napple,3\npear,12\n"; csv != want {
		t.Errorf("csv = %q, want %q", csv, want)
	}
}

func TestPDFPluginFixture(t *testing.T) {
	path := filepath.Join("testdata", "test.pdf")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		t.Skipf("test fixture %s not found", path)
	}
	if err != nil {
		t.Fatal(err)
	}
	got := convertWith(t, NewPDFPlugin(), FormatPDF, FormatTXT, data)
	if strings.TrimSpace(got) == "" {
		t.Error("no text extracted from fixture")
	}
}

// Malformed inputs must surface as conversion failures, whether the
// parser returns an error or panics.
func TestBuiltinsRejectMalformedInput(t *testing.T) {
	reg := NewRegistry(WithRegistryLogger(quietLogger()))
	descs, _ := NewLoader(WithLoaderLogger(quietLogger())).Load(context.Background(), Builtins())
	reg.RegisterAll(descs)
	e := New(reg, WithLogger(quietLogger()))

	tests := []struct {
		name string
		to   Format
	}{
		{"broken.pdf", FormatTXT},
		{"broken.xlsx", FormatMD},
		{"broken.xls", FormatMD},
		{"broken.ipynb", FormatMD},
		{"broken.rss", FormatMD},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out."+string(tt.to))
			res := e.Convert(context.Background(), Request{
				InputPath:    writeTemp(t, tt.name, "this is not what the extension claims"),
				OutputPath:   out,
				OutputFormat: tt.to,
			})
			if KindOf(res.Failure()) != KindConversionFailure {
				t.Fatalf("Kind = %s, want conversion_failure (err %v)", KindOf(res.Failure()), res.Err)
			}
			if _, err := os.Stat(out); !os.IsNotExist(err) {
				t.Error("destination created for a failed conversion")
			}
		})
	}
}
