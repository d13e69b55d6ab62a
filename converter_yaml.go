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
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLPlugin converts between JSON and YAML, keeping mapping key order.
type YAMLPlugin struct{}

// NewYAMLPlugin creates a new YAMLPlugin.
func NewYAMLPlugin() *YAMLPlugin {
	return &YAMLPlugin{}
}

func (p *YAMLPlugin) Metadata() Metadata {
	return builtinMetadata("yaml", PrioritySpecific, "JSON and YAML interchange",
		pair(FormatJSON, FormatYAML),
		pair(FormatYAML, FormatJSON),
	)
}

func (p *YAMLPlugin) Convert(ctx context.Context, task *Task, out io.Writer) (Stats, error) {
	data, err := readInput(ctx, task)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{BytesRead: int64(len(data))}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return stats, fmt.Errorf("parse %s: %w", task.From, err)
	}

	var buf bytes.Buffer
	switch task.To {
	case FormatYAML:
		if doc.Kind == 0 {
			break
		}
		blockStyle(&doc)
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return stats, fmt.Errorf("encode YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return stats, fmt.Errorf("encode YAML: %w", err)
		}
	case FormatJSON:
		var compact bytes.Buffer
		if err := nodeToJSON(&compact, &doc); err != nil {
			return stats, err
		}
		if err := json.Indent(&buf, compact.Bytes(), "", "  "); err != nil {
			return stats, fmt.Errorf("encode JSON: %w", err)
		}
		buf.WriteByte('\n')
	default:
		return stats, unsupportedTarget("yaml", task)
	}

	n, err := out.Write(buf.Bytes())
	stats.BytesWritten = int64(n)
	return stats, err
}

// blockStyle drops the flow style a JSON document parses with so the
// output reads as ordinary YAML. The encoder re-quotes scalars that need it.
func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	if n.Kind == yaml.ScalarNode && n.Style == yaml.DoubleQuotedStyle {
		n.Style = 0
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// nodeToJSON writes n as compact JSON in document order.
func nodeToJSON(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case 0:
		buf.WriteString("null")
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return nodeToJSON(buf, n.Content[0])
	case yaml.AliasNode:
		return nodeToJSON(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(n.Content[i].Value)
			buf.Write(key)
			buf.WriteByte(':')
			if err := nodeToJSON(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := nodeToJSON(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case yaml.ScalarNode:
		var v interface{}
		if err := n.Decode(&v); err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		buf.Write(b)
	default:
		return fmt.Errorf("line %d: unsupported YAML node", n.Line)
	}
	return nil
}
