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
	"strings"

	"github.com/mmcdole/gofeed"
)

// RSSPlugin renders RSS and Atom feeds. Generic XML is accepted and fails
// as a conversion error when it is not a feed.
type RSSPlugin struct{}

// NewRSSPlugin creates a new RSSPlugin.
func NewRSSPlugin() *RSSPlugin {
	return &RSSPlugin{}
}

func (p *RSSPlugin) Metadata() Metadata {
	return builtinMetadata("rss", PrioritySpecific, "RSS and Atom feeds to markdown",
		pair(FormatRSS, FormatMD),
		pair(FormatATOM, FormatMD),
		pair(FormatXML, FormatMD),
	)
}

func (p *RSSPlugin) Convert(ctx context.Context, task *Task, out io.Writer) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	in := &countingReader{r: task.Input}
	feed, err := gofeed.NewParser().Parse(in)
	stats := Stats{BytesRead: in.n}
	if err != nil {
		return stats, fmt.Errorf("parse feed: %w", err)
	}

	var b strings.Builder
	if feed.Title != "" {
		fmt.Fprintf(&b, "# %s\n", feed.Title)
	}
	if feed.Description != "" {
		fmt.Fprintf(&b, "%s\n", feed.Description)
	}
	b.WriteString("\n")

	for _, item := range feed.Items {
		if item.Title != "" {
			fmt.Fprintf(&b, "## %s\n", item.Title)
		}
		if item.Published != "" {
			fmt.Fprintf(&b, "Published: %s\n\n", item.Published)
		} else if item.Updated != "" {
			fmt.Fprintf(&b, "Updated: %s\n\n", item.Updated)
		}

		content := item.Content
		if content == "" {
			content = item.Description
		}
		if content != "" {
			if strings.Contains(content, "<") && strings.Contains(content, ">") {
				if md, err := convertHTMLToMarkdown(content); err == nil {
					content = md
				}
			}
			b.WriteString(content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	stats.BytesWritten, err = writeMarkdown(out, b.String())
	return stats, err
}
