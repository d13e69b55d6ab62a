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

// Package duckdb keeps conversion history and settings in an embedded
// DuckDB file, for single-machine installs.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	transmute "github.com/nicholasgasior/transmute-go"
)

// Store implements transmute.Store on database/sql.
type Store struct {
	db *sql.DB
	// DuckDB allows a single writer per database.
	mu sync.Mutex
}

var _ transmute.Store = (*Store)(nil)

// Open opens (or creates) the database at path and migrates it. An empty
// path opens an in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE SEQUENCE IF NOT EXISTS conversion_history_id_seq START 1`,
		`CREATE TABLE IF NOT EXISTS conversion_history (
			id BIGINT PRIMARY KEY DEFAULT nextval('conversion_history_id_seq'),
			"timestamp" TIMESTAMP NOT NULL,
			request_id TEXT NOT NULL,
			input_file TEXT NOT NULL,
			output_file TEXT,
			input_format TEXT NOT NULL,
			output_format TEXT NOT NULL,
			plugin_name TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			bytes_processed BIGINT,
			duration_ms BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversion_history_timestamp ON conversion_history("timestamp")`,
		`CREATE TABLE IF NOT EXISTS settings (
			"key" TEXT PRIMARY KEY,
			"value" TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *Store) Record(ctx context.Context, e *transmute.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conversion_history ("timestamp", request_id, input_file, output_file, input_format,
			output_format, plugin_name, status, error_message, bytes_processed, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, e.Timestamp.UTC(), e.RequestID, e.InputFile, nullString(e.OutputFile), string(e.InputFormat),
		string(e.OutputFormat), e.PluginName, string(e.Status), nullString(e.ErrorMessage),
		e.BytesProcessed, e.Duration.Milliseconds(),
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]transmute.HistoryEntry, error) {
	query := `
		SELECT id, "timestamp", request_id, input_file, output_file, input_format, output_format,
			plugin_name, status, error_message, bytes_processed, duration_ms
		FROM conversion_history
		ORDER BY "timestamp" DESC, id DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []transmute.HistoryEntry
	for rows.Next() {
		var (
			e                     transmute.HistoryEntry
			outputFile, errMsg    sql.NullString
			inFmt, outFmt, status string
			bytesProcessed, durMs sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.RequestID, &e.InputFile, &outputFile, &inFmt, &outFmt,
			&e.PluginName, &status, &errMsg, &bytesProcessed, &durMs); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.InputFormat = transmute.Format(inFmt)
		e.OutputFormat = transmute.Format(outFmt)
		e.Status = transmute.Status(status)
		e.OutputFile = outputFile.String
		e.ErrorMessage = errMsg.String
		e.BytesProcessed = bytesProcessed.Int64
		e.Duration = time.Duration(durMs.Int64) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, key string) (transmute.Setting, bool, error) {
	var st transmute.Setting
	err := s.db.QueryRowContext(ctx,
		`SELECT "key", "value", updated_at FROM settings WHERE "key" = ?`, key,
	).Scan(&st.Key, &st.Value, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return transmute.Setting{}, false, nil
	}
	if err != nil {
		return transmute.Setting{}, false, fmt.Errorf("get setting %q: %w", key, err)
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings ("key", "value", updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT ("key") DO UPDATE SET
			"value" = excluded."value",
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]transmute.Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT "key", "value", updated_at FROM settings ORDER BY "key"`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []transmute.Setting
	for rows.Next() {
		var st transmute.Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		st.UpdatedAt = st.UpdatedAt.UTC()
		out = append(out, st)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
