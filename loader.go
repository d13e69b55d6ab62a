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
	"fmt"
	"log/slog"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/nicholasgasior/transmute-go/internal/manifest"
)

var (
	// ABIVersion is the plugin contract version this build implements.
	ABIVersion = Version{Major: 1, Minor: 2}
	// MinABIVersion is the oldest contract version still accepted by default.
	MinABIVersion = Version{Major: 1, Minor: 0}
)

var pluginNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Candidate is one plugin offered by a Source. Err is set when the source
// could not even produce the plugin (for example an unparsable manifest).
// Name is the declared name when the source knows it without the plugin.
type Candidate struct {
	Origin string
	Name   string
	Plugin Plugin
	Err    error
}

// Source yields plugin candidates.
type Source interface {
	Name() string
	Candidates(ctx context.Context) ([]Candidate, error)
}

type staticSource struct {
	name    string
	plugins []Plugin
}

// StaticSource offers an in-process list of plugins.
func StaticSource(name string, plugins ...Plugin) Source {
	return &staticSource{name: name, plugins: plugins}
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Candidates(context.Context) ([]Candidate, error) {
	out := make([]Candidate, 0, len(s.plugins))
	for i, p := range s.plugins {
		out = append(out, Candidate{Origin: fmt.Sprintf("%s[%d]", s.name, i), Plugin: p})
	}
	return out, nil
}

type dirSource struct {
	dir string
}

// DirSource offers every plugin bundle found under dir. Each bundle is
// described by a plugin.hcl manifest and runs as an external process.
func DirSource(dir string) Source {
	return &dirSource{dir: dir}
}

func (s *dirSource) Name() string { return s.dir }

func (s *dirSource) Candidates(ctx context.Context) ([]Candidate, error) {
	files, err := manifest.Discover(s.dir)
	if err != nil {
		return nil, err
	}
	parser := hclparse.NewParser()
	var out []Candidate
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ms, bad, err := manifest.ParseFile(parser, f)
		if err != nil {
			out = append(out, Candidate{Origin: f, Err: err})
			continue
		}
		for _, m := range ms {
			origin := f + "#" + m.Name
			p, err := newExecPlugin(m)
			if err != nil {
				out = append(out, Candidate{Origin: origin, Name: m.Name, Err: err})
				continue
			}
			out = append(out, Candidate{Origin: origin, Name: m.Name, Plugin: p})
		}
		for _, be := range bad {
			out = append(out, Candidate{Origin: f + "#" + be.Name, Name: be.Name, Err: be})
		}
	}
	return out, nil
}

// LoadReportEntry is the outcome for one candidate.
type LoadReportEntry struct {
	Source   string
	Origin   string
	Name     string
	Version  Version
	Accepted bool
	Err      error
}

// LoadReport lists every candidate seen by a Load call, in order.
type LoadReport struct {
	Entries []LoadReportEntry
}

// Accepted returns the accepted entries.
func (r *LoadReport) Accepted() []LoadReportEntry {
	return r.filter(true)
}

// Rejected returns the rejected entries.
func (r *LoadReport) Rejected() []LoadReportEntry {
	return r.filter(false)
}

func (r *LoadReport) filter(accepted bool) []LoadReportEntry {
	var out []LoadReportEntry
	for _, e := range r.Entries {
		if e.Accepted == accepted {
			out = append(out, e)
		}
	}
	return out
}

// Loader validates plugin candidates metadata-first and turns the good
// ones into descriptors.
type Loader struct {
	minABI Version
	maxABI Version
	logger *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithABIRange sets the inclusive range of accepted plugin ABI versions.
func WithABIRange(min, max Version) LoaderOption {
	return func(l *Loader) {
		l.minABI = min
		l.maxABI = max
	}
}

// WithLoaderLogger sets the logger for load-report events.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader returns a loader accepting MinABIVersion..ABIVersion by default.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		minABI: MinABIVersion,
		maxABI: ABIVersion,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads every candidate of every source. A bad candidate is reported
// and skipped; it never stops the rest of the batch. Plugin names must be
// unique across the whole call.
func (l *Loader) Load(ctx context.Context, sources ...Source) ([]*Descriptor, *LoadReport) {
	report := &LoadReport{}
	var descs []*Descriptor
	seen := make(map[string]string)

	for _, src := range sources {
		cands, err := src.Candidates(ctx)
		if err != nil {
			kind := KindPluginLoadFailure
			if ctx.Err() != nil {
				kind = KindCancelled
			}
			report.add(l.logger, LoadReportEntry{
				Source: src.Name(),
				Origin: src.Name(),
				Err:    newError(kind, "load", "read plugin source", err),
			})
		}
		for _, c := range cands {
			entry := LoadReportEntry{Source: src.Name(), Origin: c.Origin}
			if err := ctx.Err(); err != nil {
				entry.Err = cancelled("load", err)
				report.add(l.logger, entry)
				continue
			}
			d, err := l.admit(c, seen)
			if d != nil {
				entry.Name = d.Name()
				entry.Version = d.meta.Version
			}
			if err != nil {
				var le *Error
				if errors.As(err, &le) && entry.Name == "" {
					entry.Name = le.Plugin
				}
				entry.Err = err
			} else {
				entry.Accepted = true
				seen[d.Name()] = c.Origin
				descs = append(descs, d)
			}
			report.add(l.logger, entry)
		}
	}
	return descs, report
}

func (r *LoadReport) add(logger *slog.Logger, e LoadReportEntry) {
	r.Entries = append(r.Entries, e)
	if e.Accepted {
		logger.Info("plugin accepted", "source", e.Source, "origin", e.Origin, "plugin", e.Name, "version", e.Version.String())
		return
	}
	logger.Warn("plugin rejected", "source", e.Source, "origin", e.Origin, "plugin", e.Name, "error", e.Err)
}

// Describe validates a single plugin and returns its descriptor. It is the
// one-plugin form of Load.
func (l *Loader) Describe(p Plugin, origin string) (*Descriptor, error) {
	return l.admit(Candidate{Origin: origin, Plugin: p}, nil)
}

func (l *Loader) admit(c Candidate, seen map[string]string) (*Descriptor, error) {
	if c.Err != nil {
		return nil, pluginLoad(c.Name, "invalid plugin bundle", c.Err)
	}
	if c.Plugin == nil {
		return nil, pluginLoad("", "missing plugin", nil)
	}
	meta, err := readMetadata(c.Plugin)
	if err != nil {
		return nil, pluginLoad("", "read metadata", err)
	}
	meta.Capabilities = normalizeCapabilities(meta.Capabilities)
	if err := validateMetadata(&meta); err != nil {
		return nil, pluginLoad(meta.Name, "invalid metadata", err)
	}
	if meta.ABI.Compare(l.minABI) < 0 || meta.ABI.Compare(l.maxABI) > 0 {
		return nil, pluginLoad(meta.Name,
			fmt.Sprintf("abi %s outside supported range %s..%s", meta.ABI, l.minABI, l.maxABI), nil)
	}
	if prev, dup := seen[meta.Name]; dup {
		return nil, pluginLoad(meta.Name, "duplicate plugin name, first loaded from "+prev, nil)
	}
	return newDescriptor(meta, c.Origin, c.Plugin), nil
}

// readMetadata calls Metadata under recover so a faulty plugin cannot take
// the loader down.
func readMetadata(p Plugin) (meta Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("metadata panicked: %v", r)
		}
	}()
	return p.Metadata(), nil
}

func normalizeCapabilities(caps []Capability) []Capability {
	out := make([]Capability, 0, len(caps))
	seen := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		c = Capability{From: NormalizeFormat(string(c.From)), To: NormalizeFormat(string(c.To))}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func validateMetadata(meta *Metadata) error {
	return validation.ValidateStruct(meta,
		validation.Field(&meta.Name, validation.Required, validation.Match(pluginNamePattern)),
		validation.Field(&meta.Version, validation.By(nonZeroVersion)),
		validation.Field(&meta.ABI, validation.By(nonZeroVersion)),
		validation.Field(&meta.Capabilities, validation.Required, validation.Each(validation.By(wellFormedCapability))),
	)
}

func nonZeroVersion(value interface{}) error {
	v, _ := value.(Version)
	if v.IsZero() {
		return errors.New("must be a non-zero MAJOR.MINOR version")
	}
	return nil
}

func wellFormedCapability(value interface{}) error {
	c, _ := value.(Capability)
	if !c.Valid() {
		return fmt.Errorf("malformed capability %s", c)
	}
	return nil
}
