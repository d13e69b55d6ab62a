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

// Package storetest is the behaviour every transmute.Store backend must
// share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transmute "github.com/nicholasgasior/transmute-go"
)

// Run exercises a fresh, empty store returned by open.
func Run(t *testing.T, open func(t *testing.T) transmute.Store) {
	t.Run("HistoryNewestFirst", func(t *testing.T) { testHistoryNewestFirst(t, open(t)) })
	t.Run("HistoryAppendOnly", func(t *testing.T) { testHistoryAppendOnly(t, open(t)) })
	t.Run("HistoryOptionalFields", func(t *testing.T) { testHistoryOptionalFields(t, open(t)) })
	t.Run("HistoryConcurrentWriters", func(t *testing.T) { testHistoryConcurrent(t, open(t)) })
	t.Run("SettingsRoundTrip", func(t *testing.T) { testSettings(t, open(t)) })
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(i int, status transmute.Status) *transmute.HistoryEntry {
	e := &transmute.HistoryEntry{
		Timestamp:      base.Add(time.Duration(i) * time.Minute),
		RequestID:      fmt.Sprintf("req-%d", i),
		InputFile:      fmt.Sprintf("/in/%d.csv", i),
		InputFormat:    transmute.FormatCSV,
		OutputFormat:   transmute.FormatMD,
		PluginName:     "csv",
		Status:         status,
		BytesProcessed: int64(100 * i),
		Duration:       time.Duration(i) * time.Second,
	}
	if status == transmute.StatusSuccess {
		e.OutputFile = fmt.Sprintf("/out/%d.md", i)
	} else {
		e.ErrorMessage = "conversion_failure: boom"
	}
	return e
}

func testHistoryNewestFirst(t *testing.T, s transmute.Store) {
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	for _, i := range []int{2, 1, 3} {
		require.NoError(t, s.Record(ctx, entry(i, transmute.StatusSuccess)))
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "req-3", got[0].RequestID)
	assert.Equal(t, "req-2", got[1].RequestID)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testHistoryAppendOnly(t *testing.T, s transmute.Store) {
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	first := entry(1, transmute.StatusSuccess)
	again := entry(1, transmute.StatusSuccess)
	require.NoError(t, s.Record(ctx, first))
	require.NoError(t, s.Record(ctx, again))
	assert.NotZero(t, first.ID)
	assert.NotEqual(t, first.ID, again.ID, "each Record gets its own id")

	got, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func testHistoryOptionalFields(t *testing.T, s transmute.Store) {
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	want := entry(4, transmute.StatusFailure)
	require.NoError(t, s.Record(ctx, want))

	got, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	if diff := cmp.Diff(*want, got[0], cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
		t.Errorf("Recent() mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, got[0].OutputFile)
}

func testHistoryConcurrent(t *testing.T, s transmute.Store) {
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Record(ctx, entry(i, transmute.StatusSuccess))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, n)
}

func testSettings(t *testing.T, s transmute.Store) {
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	_, ok, err := s.Get(ctx, transmute.SettingTempDir)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, transmute.SettingTempDir, "/tmp/a"))
	require.NoError(t, s.Set(ctx, transmute.SettingPluginPreference, "csv,text"))
	require.NoError(t, s.Set(ctx, transmute.SettingTempDir, "/tmp/b"))

	got, ok, err := s.Get(ctx, transmute.SettingTempDir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/tmp/b", got.Value)
	assert.False(t, got.UpdatedAt.IsZero())

	list, err := s.List(ctx)
	require.NoError(t, err)
	keys := make([]string, 0, len(list))
	for _, st := range list {
		keys = append(keys, st.Key)
	}
	assert.Equal(t, []string{transmute.SettingPluginPreference, transmute.SettingTempDir}, keys)
}
