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
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	reTrailingWhitespace = regexp.MustCompile(`[ \t]+\n`)
	reMultipleNewlines   = regexp.MustCompile(`\n{3,}`)
	reCRLF               = regexp.MustCompile(`\r\n?`)
)

// normalizeOutput is applied to all markdown output: LF line endings, no
// trailing whitespace, no control characters or byte order mark, at most one
// blank line in a row, and no leading or trailing blank space.
func normalizeOutput(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.TrimPrefix(s, "\uFEFF")

	s = reCRLF.ReplaceAllString(s, "\n")

	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	// The final line needs a newline for the trailing whitespace pass.
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	s = reTrailingWhitespace.ReplaceAllString(s, "\n")

	s = reMultipleNewlines.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}
