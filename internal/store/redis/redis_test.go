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
package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transmute "github.com/nicholasgasior/transmute-go"
	"github.com/nicholasgasior/transmute-go/internal/store/storetest"
)

func open(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("TRANSMUTE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRANSMUTE_TEST_REDIS_ADDR not set")
	}
	cfg := DefaultConfig(addr)
	cfg.Prefix = fmt.Sprintf("transmute-test:%d:", time.Now().UnixNano())
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		c := redis.NewClient(&redis.Options{Addr: addr})
		defer c.Close()
		c.Del(context.Background(), s.historyKey(), s.seqKey(), s.settingsKey())
	})
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) transmute.Store { return open(t) })
}

func TestMaxHistoryTrims(t *testing.T) {
	s := open(t)
	defer s.Close()
	s.cfg.MaxHistory = 2
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Record(ctx, &transmute.HistoryEntry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			RequestID: fmt.Sprintf("r%d", i),
			Status:    transmute.StatusSuccess,
		}))
	}
	got, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r3", got[0].RequestID)
	assert.Equal(t, "r2", got[1].RequestID)
}

func TestPurge(t *testing.T) {
	s := open(t)
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(ctx, &transmute.HistoryEntry{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			RequestID: fmt.Sprintf("r%d", i),
		}))
	}
	n, err := s.Purge(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
