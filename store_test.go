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

package transmute_test

import (
	"testing"

	transmute "github.com/nicholasgasior/transmute-go"
	"github.com/nicholasgasior/transmute-go/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) transmute.Store {
		return transmute.NewMemoryStore()
	})
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"csv", []string{"csv"}},
		{" csv , text ,,pdf ", []string{"csv", "text", "pdf"}},
	}
	for _, tt := range tests {
		got := transmute.SplitList(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("SplitList(%q) = %q, want %q", tt.input, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SplitList(%q) = %q, want %q", tt.input, got, tt.want)
				break
			}
		}
	}
}
