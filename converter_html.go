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
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
)

// HTMLPlugin converts HTML documents to markdown.
type HTMLPlugin struct {
	keepDataURIs bool
}

// HTMLOption configures an HTMLPlugin.
type HTMLOption func(*HTMLPlugin)

// WithKeepDataURIs keeps full data URIs in output instead of truncating
// them to data:mime/type;base64...
func WithKeepDataURIs(keep bool) HTMLOption {
	return func(p *HTMLPlugin) {
		p.keepDataURIs = keep
	}
}

// NewHTMLPlugin creates a new HTMLPlugin.
func NewHTMLPlugin(opts ...HTMLOption) *HTMLPlugin {
	p := &HTMLPlugin{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HTMLPlugin) Metadata() Metadata {
	return builtinMetadata("html", PrioritySpecific, "HTML to markdown",
		pair(FormatHTML, FormatMD),
	)
}

func (p *HTMLPlugin) Convert(ctx context.Context, task *Task, out io.Writer) (Stats, error) {
	data, err := readInput(ctx, task)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{BytesRead: int64(len(data))}

	md, err := p.convertString(decodeWithDetection(data))
	if err != nil {
		return stats, err
	}
	stats.BytesWritten, err = writeMarkdown(out, md)
	return stats, err
}

func (p *HTMLPlugin) convertString(htmlStr string) (string, error) {
	title := extractHTMLTitle(htmlStr)

	md, err := convertHTMLToMarkdown(removeScriptAndStyle(htmlStr))
	if err != nil {
		return "", fmt.Errorf("convert HTML to markdown: %w", err)
	}
	if !p.keepDataURIs {
		md = truncateDataURIs(md)
	}
	// Documents whose body does not open with a heading get the <title>.
	if title != "" && !strings.HasPrefix(strings.TrimSpace(md), "#") {
		md = "# " + title + "\n\n" + md
	}
	return md, nil
}

// convertHTMLToMarkdown converts HTML to markdown using html-to-markdown.
func convertHTMLToMarkdown(htmlStr string) (string, error) {
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(
				commonmark.WithHeadingStyle("atx"),
			),
			table.NewTablePlugin(),
		),
	)
	return conv.ConvertString(htmlStr)
}

var (
	reScript  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	reStyle   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	reDataURI = regexp.MustCompile(`(data:[a-zA-Z0-9/+.-]+;base64,)[A-Za-z0-9+/=]{64,}`)
)

func removeScriptAndStyle(htmlStr string) string {
	htmlStr = reScript.ReplaceAllString(htmlStr, "")
	return reStyle.ReplaceAllString(htmlStr, "")
}

func truncateDataURIs(md string) string {
	return reDataURI.ReplaceAllString(md, "${1}...")
}

// extractHTMLTitle returns the text of the first <title> element.
func extractHTMLTitle(htmlStr string) string {
	doc, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return ""
	}

	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil {
				title = n.FirstChild.Data
			}
			return
		}
		for c := n.FirstChild; c != nil && title == ""; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(title)
}
