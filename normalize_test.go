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

import "testing"

func TestNormalization(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "trailing whitespace",
			input: "hello   \nworld\t\n",
			want:  "hello\nworld",
		},
		{
			name:  "multiple newlines",
			input: "hello\n\n\n\n\nworld",
			want:  "hello\n\nworld",
		},
		{
			name:  "crlf and lone cr",
			input: "hello\r\nworld\rend\r\n",
			want:  "hello\nworld\nend",
		},
		{
			name:  "control characters",
			input: "hello\x00world\x01test",
			want:  "helloworldtest",
		},
		{
			name:  "byte order mark",
			input: "\uFEFF# Title\n",
			want:  "# Title",
		},
		{
			name:  "invalid utf8",
			input: "caf\xe9 ok",
			want:  "caf ok",
		},
		{
			name:  "tabs kept inside lines",
			input: "\n\na\tb\n\n",
			want:  "a\tb",
		},
		{
			name:  "empty",
			input: " \n\n ",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeOutput(tt.input)
			if got != tt.want {
				t.Errorf("normalizeOutput(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
