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
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Plugin is the interface every converter implements, whether it is compiled
// in or driven as an external process.
type Plugin interface {
	// Metadata describes the plugin. It must be cheap and must not perform
	// any conversion work; the loader calls it before anything else.
	Metadata() Metadata

	// Convert reads task.Input and writes the converted bytes to out.
	// Implementations should return promptly once ctx is done.
	Convert(ctx context.Context, task *Task, out io.Writer) (Stats, error)
}

// Metadata is what a plugin declares about itself.
type Metadata struct {
	Name         string
	Version      Version
	ABI          Version
	Priority     int
	Description  string
	Capabilities []Capability
}

// Capability is an ordered (input, output) format pair.
type Capability struct {
	From Format
	To   Format
}

func (c Capability) String() string {
	return c.From.String() + "->" + c.To.String()
}

// Valid reports whether both sides name a known format.
func (c Capability) Valid() bool {
	return c.From.Known() && c.To.Known()
}

// Version is a MAJOR.MINOR version.
type Version struct {
	Major int
	Minor int
}

// ParseVersion parses "MAJOR" or "MAJOR.MINOR".
func ParseVersion(s string) (Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return Version{}, fmt.Errorf("empty version")
	}
	major, minor, hasMinor := strings.Cut(s, ".")
	var v Version
	var err error
	if v.Major, err = strconv.Atoi(major); err != nil || v.Major < 0 {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	if hasMinor {
		if v.Minor, err = strconv.Atoi(minor); err != nil || v.Minor < 0 {
			return Version{}, fmt.Errorf("invalid version %q", s)
		}
	}
	return v, nil
}

// MustParseVersion is ParseVersion for constants.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		if v.Major < o.Major {
			return -1
		}
		return 1
	case v.Minor != o.Minor:
		if v.Minor < o.Minor {
			return -1
		}
		return 1
	}
	return 0
}

// IsZero reports whether v is the zero version (never a valid ABI).
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0
}

// Task is the input side of a single conversion handed to a plugin.
type Task struct {
	Input io.ReadSeeker
	Path  string
	Size  int64
	From  Format
	To    Format
}

// Stats is what a plugin reports about the work it did. The engine measures
// bytes itself and only uses these as a fallback.
type Stats struct {
	BytesRead    int64
	BytesWritten int64
}

// Descriptor is the validated, immutable form of a loaded plugin.
type Descriptor struct {
	meta   Metadata
	origin string
	plugin Plugin
}

func newDescriptor(meta Metadata, origin string, p Plugin) *Descriptor {
	meta.Capabilities = append([]Capability(nil), meta.Capabilities...)
	return &Descriptor{meta: meta, origin: origin, plugin: p}
}

// Name returns the plugin name.
func (d *Descriptor) Name() string { return d.meta.Name }

// Priority returns the declared priority.
func (d *Descriptor) Priority() int { return d.meta.Priority }

// Origin is where the plugin was loaded from (source name or manifest path).
func (d *Descriptor) Origin() string { return d.origin }

// Plugin returns the executable handle.
func (d *Descriptor) Plugin() Plugin { return d.plugin }

// Metadata returns a copy of the validated metadata.
func (d *Descriptor) Metadata() Metadata {
	m := d.meta
	m.Capabilities = append([]Capability(nil), d.meta.Capabilities...)
	return m
}

// Supports reports whether the plugin declares the given pair.
func (d *Descriptor) Supports(from, to Format) bool {
	for _, c := range d.meta.Capabilities {
		if c.From == from && c.To == to {
			return true
		}
	}
	return false
}
