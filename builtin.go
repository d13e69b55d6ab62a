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
)

const (
	// PrioritySpecific is for format-specific converters (PDF, XLSX, etc.).
	PrioritySpecific = 10
	// PriorityGeneric is for fallback converters such as plain text.
	PriorityGeneric = 0
)

var builtinVersion = Version{Major: 1, Minor: 0}

// Builtins returns the converters compiled into this module as a source
// for Loader.Load.
func Builtins() Source {
	return StaticSource("builtin",
		NewCSVPlugin(),
		NewHTMLPlugin(),
		NewXLSXPlugin(),
		NewXLSPlugin(),
		NewPDFPlugin(),
		NewRSSPlugin(),
		NewIpynbPlugin(),
		NewYAMLPlugin(),
		NewTextPlugin(),
	)
}

// builtinMetadata fills the fields shared by every built-in plugin.
func builtinMetadata(name string, priority int, description string, caps ...Capability) Metadata {
	return Metadata{
		Name:         name,
		Version:      builtinVersion,
		ABI:          Version{Major: 1, Minor: 0},
		Priority:     priority,
		Description:  description,
		Capabilities: caps,
	}
}

func pair(from, to Format) Capability {
	return Capability{From: from, To: to}
}

// readInput reads the whole task input, honouring cancellation before and
// after the read.
func readInput(ctx context.Context, task *Task) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(task.Input)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, ctx.Err()
}

// writeMarkdown normalizes md and writes it with a single trailing newline.
func writeMarkdown(out io.Writer, md string) (int64, error) {
	md = normalizeOutput(md)
	if md != "" {
		md += "\n"
	}
	n, err := io.WriteString(out, md)
	return int64(n), err
}

func unsupportedTarget(name string, task *Task) error {
	return fmt.Errorf("%s cannot convert %s to %s", name, task.From, task.To)
}
