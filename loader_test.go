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
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

type panickyMetadata struct{ *fakePlugin }

func (panickyMetadata) Metadata() Metadata { panic("metadata exploded") }

func TestLoadRejectsBadCandidatesWithoutStopping(t *testing.T) {
	tooNew := newFake("future", 1, pair(FormatTXT, FormatMD))
	tooNew.meta.ABI = Version{2, 0}
	badName := newFake("Bad Name", 1, pair(FormatTXT, FormatMD))
	noCaps := newFake("nocaps", 1)
	badCap := newFake("badcap", 1, Capability{From: FormatTXT})
	noVersion := newFake("noversion", 1, pair(FormatTXT, FormatMD))
	noVersion.meta.Version = Version{}

	loader := NewLoader(WithLoaderLogger(quietLogger()))
	descs, report := loader.Load(context.Background(),
		StaticSource("first",
			newFake("good-a", 1, pair(FormatTXT, FormatMD)),
			tooNew,
			badName,
			panickyMetadata{newFake("panicky", 1)},
		),
		StaticSource("second",
			noCaps,
			badCap,
			noVersion,
			newFake("good-a", 2, pair(FormatCSV, FormatMD)),
			newFake("good-b", 1, pair(FormatCSV, FormatMD)),
		),
	)

	var names []string
	for _, d := range descs {
		names = append(names, d.Name())
	}
	if strings.Join(names, ",") != "good-a,good-b" {
		t.Errorf("accepted = %v, want [good-a good-b]", names)
	}
	if len(report.Entries) != 9 {
		t.Fatalf("report has %d entries, want 9", len(report.Entries))
	}
	if n := len(report.Rejected()); n != 7 {
		t.Errorf("rejected = %d, want 7", n)
	}
	for _, e := range report.Rejected() {
		if KindOf(e.Err) != KindPluginLoadFailure {
			t.Errorf("%s rejected with %v, want plugin load failure", e.Origin, e.Err)
		}
	}
	// the duplicate is reported against the first accepted origin
	dup := report.Entries[7]
	if dup.Name != "good-a" || !strings.Contains(dup.Err.Error(), "duplicate") {
		t.Errorf("duplicate entry = %+v", dup)
	}
}

func TestLoaderABIRange(t *testing.T) {
	old := newFake("old", 1, pair(FormatTXT, FormatMD))
	old.meta.ABI = Version{1, 0}
	current := newFake("current", 1, pair(FormatTXT, FormatMD))
	current.meta.ABI = Version{1, 2}

	loader := NewLoader(WithABIRange(Version{1, 1}, Version{1, 2}), WithLoaderLogger(quietLogger()))
	if _, err := loader.Describe(old, "test"); KindOf(err) != KindPluginLoadFailure {
		t.Errorf("Describe(abi 1.0) error = %v, want plugin load failure", err)
	}
	if _, err := loader.Describe(current, "test"); err != nil {
		t.Errorf("Describe(abi 1.2) error = %v", err)
	}
}

func TestDescriptorIsACopy(t *testing.T) {
	p := newFake("csv", 1, pair(FormatCSV, FormatMD))
	d := mustDescribe(t, p)
	p.meta.Capabilities[0] = pair(FormatPDF, FormatMD)

	if !d.Supports(FormatCSV, FormatMD) || d.Supports(FormatPDF, FormatMD) {
		t.Error("descriptor shares capability storage with the plugin")
	}
	m := d.Metadata()
	m.Capabilities[0] = pair(FormatPDF, FormatMD)
	if d.Supports(FormatPDF, FormatMD) {
		t.Error("Metadata() exposes internal capability storage")
	}
}

func TestLoadNormalizesCapabilities(t *testing.T) {
	p := newFake("alias", 1,
		Capability{From: ".HTM", To: "Markdown"},
		Capability{From: "html", To: "md"},
	)
	d := mustDescribe(t, p)
	if caps := d.Metadata().Capabilities; len(caps) != 1 || caps[0] != pair(FormatHTML, FormatMD) {
		t.Errorf("Capabilities = %v, want [html->md]", caps)
	}
}

func TestLoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	descs, report := NewLoader(WithLoaderLogger(quietLogger())).Load(ctx,
		StaticSource("s", newFake("a", 1, pair(FormatTXT, FormatMD))))
	if len(descs) != 0 {
		t.Errorf("loaded %d plugins after cancellation", len(descs))
	}
	if len(report.Entries) != 1 || KindOf(report.Entries[0].Err) != KindCancelled {
		t.Errorf("report = %+v, want one cancelled entry", report.Entries)
	}
}

func TestBuiltinsLoad(t *testing.T) {
	descs, report := NewLoader(WithLoaderLogger(quietLogger())).Load(context.Background(), Builtins())
	if n := len(report.Rejected()); n != 0 {
		t.Fatalf("%d built-ins rejected: %+v", n, report.Rejected())
	}
	reg := NewRegistry(WithRegistryLogger(quietLogger()))
	if errs := reg.RegisterAll(descs); len(errs) != 0 {
		t.Fatalf("RegisterAll() errors: %v", errs)
	}
	for _, c := range []Capability{
		pair(FormatCSV, FormatMD),
		pair(FormatHTML, FormatMD),
		pair(FormatXLSX, FormatMD),
		pair(FormatPDF, FormatTXT),
		pair(FormatJSON, FormatYAML),
		pair(FormatTXT, FormatTXT),
	} {
		if _, err := reg.Resolve(c.From, c.To); err != nil {
			t.Errorf("Resolve(%s) error: %v", c, err)
		}
	}
}

// writeBundle creates <root>/<name>/plugin.hcl and an executable script.
func writeBundle(t *testing.T, root, name, manifest, script string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plugin.hcl"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if script != "" {
		if err := os.WriteFile(filepath.Join(dir, "run.sh"), []byte(script), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDirSourceExecPlugins(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec plugins use sh scripts")
	}
	root := t.TempDir()
	writeBundle(t, root, "upper", `
plugin "upper" {
  version  = "1.2"
  abi      = "1.0"
  priority = 5
  command  = ["./run.sh"]
  env      = { PREFIX = "converted" }

  capability {
    from = "txt"
    to   = "md"
  }
}
`, "#!/bin/sh\nprintf '%s %s>%s: ' \"$PREFIX\" \"$TRANSMUTE_FROM\" \"$TRANSMUTE_TO\"\ntr a-z A-Z\n")

	writeBundle(t, root, "failing", `
plugin "failing" {
  version = "1.0"
  abi     = "1.0"
  command = ["./run.sh"]

  capability {
    from = "csv"
    to   = "md"
  }
}
`, "#!/bin/sh\necho 'no such column' >&2\nexit 3\n")

	writeBundle(t, root, "future", `
plugin "future" {
  version = "1.0"
  abi     = "9.0"
  command = ["./run.sh"]
  capability {
    from = "txt"
    to   = "html"
  }
}
`, "#!/bin/sh\ncat\n")

	writeBundle(t, root, "broken", `plugin "broken" {`, "")

	writeBundle(t, root, "nocommand", `
plugin "nocommand" {
  version = "1.0"
  abi     = "1.0"
  command = ["./missing.sh"]
  capability {
    from = "txt"
    to   = "json"
  }
}
`, "")

	loader := NewLoader(WithLoaderLogger(quietLogger()))
	descs, report := loader.Load(context.Background(), DirSource(root))
	if len(descs) != 2 {
		t.Fatalf("accepted %d plugins, want 2; report %+v", len(descs), report.Entries)
	}
	if n := len(report.Rejected()); n != 3 {
		t.Errorf("rejected = %d, want 3", n)
	}

	reg := NewRegistry(WithRegistryLogger(quietLogger()))
	reg.RegisterAll(descs)
	e := New(reg, WithLogger(quietLogger()))
	outDir := t.TempDir()

	res := e.Convert(context.Background(), Request{
		InputPath:  writeTemp(t, "a.txt", "hello"),
		OutputPath: filepath.Join(outDir, "a.md"),
	})
	if !res.OK() {
		t.Fatalf("exec conversion failed: %v", res.Err)
	}
	got, _ := os.ReadFile(filepath.Join(outDir, "a.md"))
	if string(got) != "converted txt>md: HELLO" {
		t.Errorf("output = %q", got)
	}
	if res.BytesProcessed != 5 {
		t.Errorf("BytesProcessed = %d, want 5", res.BytesProcessed)
	}

	res = e.Convert(context.Background(), Request{
		InputPath:  writeTemp(t, "b.csv", "x"),
		OutputPath: filepath.Join(outDir, "b.md"),
	})
	if KindOf(res.Failure()) != KindConversionFailure {
		t.Fatalf("Kind = %s, want conversion_failure", KindOf(res.Failure()))
	}
	if !strings.Contains(res.Err.Error(), "no such column") {
		t.Errorf("error %q does not carry the plugin's stderr", res.Err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "b.md")); !errors.Is(err, os.ErrNotExist) {
		t.Error("failed exec plugin produced output")
	}
}

func TestDirSourceReportsEachBadBlock(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "multi", `
plugin "keeper" {
  version = "1.0"
  abi     = "1.0"
  command = ["cat"]
  capability {
    from = "txt"
    to   = "md"
  }
}

plugin "slowpoke" {
  version = "1.0"
  abi     = "1.0"
  command = ["cat"]
  timeout = "soon"
  capability {
    from = "txt"
    to   = "html"
  }
}
`, "")

	descs, report := NewLoader(WithLoaderLogger(quietLogger())).Load(context.Background(), DirSource(root))
	if len(descs) != 1 || descs[0].Name() != "keeper" {
		t.Fatalf("accepted = %v, want [keeper]", descs)
	}
	rejected := report.Rejected()
	if len(rejected) != 1 {
		t.Fatalf("rejected = %+v, want one entry", rejected)
	}
	if r := rejected[0]; r.Name != "slowpoke" || !strings.HasSuffix(r.Origin, "#slowpoke") || KindOf(r.Err) != KindPluginLoadFailure {
		t.Errorf("rejected entry = %+v", r)
	}
}

func TestDefaultABIRange(t *testing.T) {
	tests := []struct {
		abi  Version
		want bool
	}{
		{Version{0, 9}, false},
		{MinABIVersion, true},
		{Version{1, 1}, true},
		{ABIVersion, true},
		{Version{ABIVersion.Major, ABIVersion.Minor + 1}, false},
		{Version{2, 0}, false},
	}
	loader := NewLoader(WithLoaderLogger(quietLogger()))
	for _, tt := range tests {
		p := newFake("abi", 1, pair(FormatTXT, FormatMD))
		p.meta.ABI = tt.abi
		_, err := loader.Describe(p, "test")
		if (err == nil) != tt.want {
			t.Errorf("Describe(abi %s) error = %v, want accepted %v", tt.abi, err, tt.want)
		}
	}
}
