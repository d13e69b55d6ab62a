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

// Package manifest discovers and decodes plugin bundle manifests.
//
// A bundle is a directory holding a plugin.hcl file:
//
//	plugin "upper" {
//	  version  = "1.2"
//	  abi      = "1.0"
//	  priority = 5
//	  command  = ["${bundle_dir}/upper.sh"]
//	  timeout  = "30s"
//	  env      = { MODE = "strict" }
//
//	  capability {
//	    from = "txt"
//	    to   = "txt"
//	  }
//	}
//
// The variables bundle_dir, os and arch are available to expressions.
package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// FileName is the manifest file looked for in each bundle.
const FileName = "plugin.hcl"

// Manifest is the decoded form of one plugin block.
type Manifest struct {
	Path         string
	Dir          string
	Name         string
	Version      string
	ABI          string
	Priority     int
	Description  string
	Command      []string
	Timeout      time.Duration
	Env          map[string]string
	Capabilities []Capability
}

// Capability is a raw from/to pair as written in the manifest.
type Capability struct {
	From string
	To   string
}

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{{Type: "plugin", LabelNames: []string{"name"}}},
}

// BlockError reports one plugin block that could not be decoded. Other
// blocks of the same file are unaffected.
type BlockError struct {
	Path string
	Name string
	Err  error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("plugin %q in %s: %v", e.Name, e.Path, e.Err)
}

func (e *BlockError) Unwrap() error { return e.Err }

type hclPlugin struct {
	Name         string            `hcl:"name,label"`
	Version      string            `hcl:"version"`
	ABI          string            `hcl:"abi"`
	Priority     int               `hcl:"priority,optional"`
	Description  string            `hcl:"description,optional"`
	Command      []string          `hcl:"command"`
	Timeout      string            `hcl:"timeout,optional"`
	Env          map[string]string `hcl:"env,optional"`
	Capabilities []*hclCapability  `hcl:"capability,block"`
}

type hclCapability struct {
	From string `hcl:"from"`
	To   string `hcl:"to"`
}

// Discover returns every manifest file under root, sorted by path.
func Discover(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == FileName {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover manifests in %s: %w", root, err)
	}
	return files, nil
}

func evalContext(dir string) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"bundle_dir": cty.StringVal(dir),
			"os":         cty.StringVal(runtime.GOOS),
			"arch":       cty.StringVal(runtime.GOARCH),
		},
	}
}

// ParseFile decodes all plugin blocks in the manifest at path.
func ParseFile(parser *hclparse.Parser, path string) ([]*Manifest, []*BlockError, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return Parse(parser, src, path)
}

// Parse decodes manifest source. filename is used for diagnostics and to
// resolve relative command paths. A block that fails to decode is returned
// in bad and does not stop the others; err is set only when the file as a
// whole is unusable.
func Parse(parser *hclparse.Parser, src []byte, filename string) (ms []*Manifest, bad []*BlockError, err error) {
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("parse manifest %s: %w", filename, diags)
	}

	dir, err := filepath.Abs(filepath.Dir(filename))
	if err != nil {
		return nil, nil, fmt.Errorf("resolve bundle dir of %s: %w", filename, err)
	}

	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return nil, nil, fmt.Errorf("decode manifest %s: %w", filename, diags)
	}
	if len(content.Blocks) == 0 {
		return nil, nil, fmt.Errorf("manifest %s declares no plugin block", filename)
	}

	ectx := evalContext(dir)
	for _, block := range content.Blocks {
		name := block.Labels[0]
		var p hclPlugin
		if diags := gohcl.DecodeBody(block.Body, ectx, &p); diags.HasErrors() {
			bad = append(bad, &BlockError{Path: filename, Name: name, Err: diags})
			continue
		}
		p.Name = name
		m, err := fromHCL(&p, filename, dir)
		if err != nil {
			bad = append(bad, &BlockError{Path: filename, Name: name, Err: err})
			continue
		}
		ms = append(ms, m)
	}
	return ms, bad, nil
}

func fromHCL(p *hclPlugin, path, dir string) (*Manifest, error) {
	m := &Manifest{
		Path:        path,
		Dir:         dir,
		Name:        p.Name,
		Version:     p.Version,
		ABI:         p.ABI,
		Priority:    p.Priority,
		Description: p.Description,
		Command:     p.Command,
		Env:         p.Env,
	}
	if p.Timeout != "" {
		d, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", p.Timeout, err)
		}
		m.Timeout = d
	}
	for _, c := range p.Capabilities {
		m.Capabilities = append(m.Capabilities, Capability{From: c.From, To: c.To})
	}
	return m, nil
}

// ResolveCommand makes a relative executable path absolute against the
// bundle directory and checks that it exists. Bare names ("python3") are
// left for PATH lookup at run time.
func (m *Manifest) ResolveCommand() ([]string, error) {
	if len(m.Command) == 0 || strings.TrimSpace(m.Command[0]) == "" {
		return nil, fmt.Errorf("plugin %q: empty command", m.Name)
	}
	cmd := append([]string(nil), m.Command...)
	exe := cmd[0]
	if !strings.ContainsRune(exe, '/') && !strings.ContainsRune(exe, filepath.Separator) {
		return cmd, nil
	}
	if !filepath.IsAbs(exe) {
		exe = filepath.Join(m.Dir, exe)
	}
	info, err := os.Stat(exe)
	if err != nil {
		return nil, fmt.Errorf("plugin %q: command %s: %w", m.Name, exe, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("plugin %q: command %s is a directory", m.Name, exe)
	}
	cmd[0] = exe
	return cmd, nil
}
