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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transmute "github.com/nicholasgasior/transmute-go"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	// keep the user's plugin directory out of the test
	args = append([]string{"--plugins-dir", t.TempDir()}, args...)
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeInput(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestConvertSuccess(t *testing.T) {
	in := writeInput(t, "people.csv", "name,age\nAda,36\n")
	out := filepath.Join(t.TempDir(), "nested", "people.md")

	code, stdout, stderr := runCLI(t, "convert", in, out)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "csv")

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(got), "| name | age |")
	assert.Contains(t, string(got), "| Ada | 36 |")
}

func TestConvertUnsupportedPairExitsOne(t *testing.T) {
	in := writeInput(t, "people.csv", "name\nAda\n")
	out := filepath.Join(t.TempDir(), "people.pdf")

	code, _, stderr := runCLI(t, "convert", in, out)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "unsupported")
	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err), "no output on failure")
}

func TestUsageErrorsExitTwo(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing args", []string{"convert", "only-one"}},
		{"unknown flag", []string{"convert", "--bogus", "a", "b"}},
		{"batch without --to", []string{"batch", "a.csv", "--out", "x"}},
		{"bad store", []string{"--store", "mongo", "history"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(t, tt.args...)
			assert.Equal(t, exitUsage, code)
		})
	}
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	missing := filepath.Join(dir, "missing.csv")
	require.NoError(t, os.WriteFile(a, []byte("x\n1\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("y\n2\n"), 0o644))
	outDir := filepath.Join(t.TempDir(), "out")

	code, stdout, _ := runCLI(t, "batch", a, b, "--to", "json", "--out", outDir, "--workers", "2")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "2 converted, 0 failed")

	got, err := os.ReadFile(filepath.Join(outDir, "a.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"x":"1"}]`, string(got))

	code, stdout, _ = runCLI(t, "batch", a, missing, "--to", "md", "--out", outDir)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stdout, "1 converted, 1 failed")
}

func TestPluginsListsBuiltins(t *testing.T) {
	code, stdout, _ := runCLI(t, "plugins")
	require.Equal(t, exitOK, code)
	for _, name := range []string{"csv", "html", "xlsx", "pdf", "text"} {
		assert.Contains(t, stdout, name)
	}
	assert.Contains(t, stdout, "CANDIDATES")
}

func TestSettingsAndHistoryPersist(t *testing.T) {
	db := filepath.Join(t.TempDir(), "transmute.duckdb")
	store := []string{"--store", "duckdb", "--dsn", db}

	code, _, stderr := runCLI(t, append(store, "settings", "set", transmute.SettingPluginPreference, "text")...)
	require.Equal(t, exitOK, code, stderr)

	code, stdout, _ := runCLI(t, append(store, "settings", "get", transmute.SettingPluginPreference)...)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "text", strings.TrimSpace(stdout))

	code, _, _ = runCLI(t, append(store, "settings", "get", "absent.key")...)
	assert.Equal(t, exitFailure, code)

	in := writeInput(t, "notes.txt", "hello\n")
	code, _, stderr = runCLI(t, append(store, "convert", in, filepath.Join(t.TempDir(), "notes.md"))...)
	require.Equal(t, exitOK, code, stderr)

	code, stdout, _ = runCLI(t, append(store, "history", "--limit", "5")...)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "notes.txt")
	assert.Contains(t, stdout, "txt -> md")
}

func TestOutputPathFor(t *testing.T) {
	tests := []struct {
		dir, input string
		format     transmute.Format
		want       string
	}{
		{"/out", "/in/report.csv", transmute.FormatMD, filepath.Join("/out", "report.md")},
		{"/out", "archive.tar.gz", transmute.FormatTXT, filepath.Join("/out", "archive.tar.txt")},
		{"s3://bucket/prefix/", "/in/a.json", transmute.FormatYAML, "s3://bucket/prefix/a.yaml"},
	}
	for _, tt := range tests {
		if got := outputPathFor(tt.dir, tt.input, tt.format); got != tt.want {
			t.Errorf("outputPathFor(%q, %q) = %q, want %q", tt.dir, tt.input, got, tt.want)
		}
	}
}
