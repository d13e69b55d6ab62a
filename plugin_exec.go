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

	"github.com/nicholasgasior/transmute-go/internal/execplugin"
	"github.com/nicholasgasior/transmute-go/internal/manifest"
)

// execPlugin drives a bundle's command over stdin/stdout.
type execPlugin struct {
	meta   Metadata
	runner *execplugin.Runner
}

// metadataFromManifest turns raw manifest fields into Metadata. Errors
// here are metadata errors: nothing has been executed yet.
func metadataFromManifest(m *manifest.Manifest) (Metadata, error) {
	meta := Metadata{
		Name:        m.Name,
		Priority:    m.Priority,
		Description: m.Description,
	}
	var err error
	if meta.Version, err = ParseVersion(m.Version); err != nil {
		return meta, fmt.Errorf("version: %w", err)
	}
	if meta.ABI, err = ParseVersion(m.ABI); err != nil {
		return meta, fmt.Errorf("abi: %w", err)
	}
	for _, c := range m.Capabilities {
		meta.Capabilities = append(meta.Capabilities, Capability{
			From: NormalizeFormat(c.From),
			To:   NormalizeFormat(c.To),
		})
	}
	return meta, nil
}

func newExecPlugin(m *manifest.Manifest) (*execPlugin, error) {
	meta, err := metadataFromManifest(m)
	if err != nil {
		return nil, err
	}
	cmd, err := m.ResolveCommand()
	if err != nil {
		return nil, err
	}
	return &execPlugin{
		meta: meta,
		runner: execplugin.New(execplugin.Spec{
			Name:    m.Name,
			Command: cmd,
			Dir:     m.Dir,
			Env:     m.Env,
			Timeout: m.Timeout,
		}),
	}, nil
}

func (p *execPlugin) Metadata() Metadata {
	return p.meta
}

func (p *execPlugin) Convert(ctx context.Context, task *Task, out io.Writer) (Stats, error) {
	in := &countingReader{r: task.Input}
	cw := &countingWriter{w: out}
	err := p.runner.Run(ctx, in, cw,
		"TRANSMUTE_FROM="+task.From.String(),
		"TRANSMUTE_TO="+task.To.String(),
		"TRANSMUTE_INPUT_PATH="+task.Path,
		"TRANSMUTE_ABI="+ABIVersion.String(),
	)
	return Stats{BytesRead: in.n, BytesWritten: cw.n}, err
}
