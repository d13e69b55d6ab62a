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
package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transmute "github.com/nicholasgasior/transmute-go"
	"github.com/nicholasgasior/transmute-go/internal/store/storetest"
)

func TestNewTableNames(t *testing.T) {
	tables := NewTableNames("test_")
	assert.Equal(t, "test_conversion_history", tables.History)
	assert.Equal(t, "test_settings", tables.Settings)
}

func TestStore(t *testing.T) {
	dsn := os.Getenv("TRANSMUTE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TRANSMUTE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := CreateConnectionPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	n := 0
	storetest.Run(t, func(t *testing.T) transmute.Store {
		n++
		tables := NewTableNames(fmt.Sprintf("t%d_%d_", time.Now().UnixNano()%1_000_000, n))
		s := New(&Config{Pool: pool, Tables: tables})
		require.NoError(t, s.Migrate(ctx))
		t.Cleanup(func() {
			_, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS "+tables.History+", "+tables.Settings)
		})
		return noClose{s}
	})
}

// noClose keeps the shared pool open across subtests.
type noClose struct{ *Store }

func (noClose) Close() error { return nil }
