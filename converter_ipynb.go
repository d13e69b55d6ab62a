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
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// IpynbPlugin renders Jupyter notebooks.
type IpynbPlugin struct{}

// NewIpynbPlugin creates a new IpynbPlugin.
func NewIpynbPlugin() *IpynbPlugin {
	return &IpynbPlugin{}
}

func (p *IpynbPlugin) Metadata() Metadata {
	return builtinMetadata("ipynb", PrioritySpecific, "Jupyter notebooks to markdown",
		pair(FormatIPYNB, FormatMD),
	)
}

type notebook struct {
	Metadata notebookMetadata `json:"metadata"`
	Cells    []notebookCell   `json:"cells"`
}

type notebookMetadata struct {
	KernelSpec *kernelSpec `json:"kernelspec"`
}

type kernelSpec struct {
	Language string `json:"language"`
}

type notebookCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
	Outputs  []cellOutput    `json:"outputs"`
}

type cellOutput struct {
	OutputType string                     `json:"output_type"`
	Text       json.RawMessage            `json:"text"`
	Data       map[string]json.RawMessage `json:"data"`
}

func (p *IpynbPlugin) Convert(ctx context.Context, task *Task, out io.Writer) (Stats, error) {
	data, err := readInput(ctx, task)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{BytesRead: int64(len(data))}

	var nb notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return stats, fmt.Errorf("parse notebook JSON: %w", err)
	}

	language := "python"
	if nb.Metadata.KernelSpec != nil && nb.Metadata.KernelSpec.Language != "" {
		language = nb.Metadata.KernelSpec.Language
	}

	var sections []string
	for _, cell := range nb.Cells {
		source := parseSource(cell.Source)
		switch cell.CellType {
		case "markdown":
			sections = append(sections, source)
		case "code":
			if strings.TrimSpace(source) != "" {
				sections = append(sections, fmt.Sprintf("```%s\n%s\n```", language, source))
			}
			for _, output := range cell.Outputs {
				if text := parseOutputText(output); text != "" {
					sections = append(sections, fmt.Sprintf("```\n%s\n```", text))
				}
			}
		case "raw":
			if strings.TrimSpace(source) != "" {
				sections = append(sections, fmt.Sprintf("```\n%s\n```", source))
			}
		}
	}

	stats.BytesWritten, err = writeMarkdown(out, strings.Join(sections, "\n\n"))
	return stats, err
}

// parseSource accepts both the string and the list-of-lines encodings.
func parseSource(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return strings.Join(arr, "")
	}
	return ""
}

func parseOutputText(output cellOutput) string {
	if output.Text != nil {
		if text := parseSource(output.Text); text != "" {
			return strings.TrimRight(text, "\n")
		}
	}
	if raw, ok := output.Data["text/plain"]; ok {
		if text := parseSource(raw); text != "" {
			return strings.TrimRight(text, "\n")
		}
	}
	return ""
}
