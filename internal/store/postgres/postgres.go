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

// Package postgres stores conversion history and settings in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	transmute "github.com/nicholasgasior/transmute-go"
)

// TableNames holds prefixed table names.
type TableNames struct {
	History  string
	Settings string
}

// NewTableNames creates table names with the given prefix.
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		History:  fmt.Sprintf("%sconversion_history", prefix),
		Settings: fmt.Sprintf("%ssettings", prefix),
	}
}

// Config holds what a Store needs.
type Config struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// Store implements transmute.Store.
type Store struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

var _ transmute.Store = (*Store)(nil)

// CreateConnectionPool opens and pings a pgx pool.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	config.MaxConns = 25
	config.MinConns = 2

	// Transaction poolers (PgBouncer on 6543) cannot hold prepared statements.
	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// New wraps an open pool.
func New(cfg *Config) *Store {
	tables := cfg.Tables
	if tables == nil {
		tables = NewTableNames("")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: cfg.Pool, tables: tables, logger: logger}
}

// Open connects to databaseURL, applies the schema and returns a Store
// that owns the pool.
func Open(ctx context.Context, databaseURL, tablePrefix string, logger *slog.Logger) (*Store, error) {
	pool, err := CreateConnectionPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	s := New(&Config{Pool: pool, Tables: NewTableNames(tablePrefix), Logger: logger})
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables and index if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				"timestamp" TIMESTAMPTZ NOT NULL,
				request_id TEXT NOT NULL,
				input_file TEXT NOT NULL,
				output_file TEXT NULL,
				input_format TEXT NOT NULL,
				output_format TEXT NOT NULL,
				plugin_name TEXT NOT NULL,
				status TEXT NOT NULL,
				error_message TEXT NULL,
				bytes_processed BIGINT NULL,
				duration_ms BIGINT NULL
			)`, s.tables.History),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_timestamp_idx ON %s ("timestamp" DESC)`,
			s.tables.History, s.tables.History),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				"key" TEXT PRIMARY KEY,
				"value" TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`, s.tables.Settings),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Record(ctx context.Context, e *transmute.HistoryEntry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s ("timestamp", request_id, input_file, output_file, input_format, output_format,
			plugin_name, status, error_message, bytes_processed, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, s.tables.History)

	err := s.pool.QueryRow(ctx, query,
		e.Timestamp,
		e.RequestID,
		e.InputFile,
		nullString(e.OutputFile),
		string(e.InputFormat),
		string(e.OutputFormat),
		e.PluginName,
		string(e.Status),
		nullString(e.ErrorMessage),
		e.BytesProcessed,
		e.Duration.Milliseconds(),
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]transmute.HistoryEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, "timestamp", request_id, input_file, output_file, input_format, output_format,
			plugin_name, status, error_message, bytes_processed, duration_ms
		FROM %s
		ORDER BY "timestamp" DESC, id DESC
	`, s.tables.History)
	var args []interface{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []transmute.HistoryEntry
	for rows.Next() {
		var (
			e                     transmute.HistoryEntry
			outputFile, errMsg    *string
			inFmt, outFmt, status string
			bytesProcessed, durMs *int64
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.RequestID, &e.InputFile, &outputFile, &inFmt, &outFmt,
			&e.PluginName, &status, &errMsg, &bytesProcessed, &durMs); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.InputFormat = transmute.Format(inFmt)
		e.OutputFormat = transmute.Format(outFmt)
		e.Status = transmute.Status(status)
		e.OutputFile = deref(outputFile)
		e.ErrorMessage = deref(errMsg)
		if bytesProcessed != nil {
			e.BytesProcessed = *bytesProcessed
		}
		if durMs != nil {
			e.Duration = time.Duration(*durMs) * time.Millisecond
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, key string) (transmute.Setting, bool, error) {
	query := fmt.Sprintf(`SELECT "key", "value", updated_at FROM %s WHERE "key" = $1`, s.tables.Settings)

	var st transmute.Setting
	err := s.pool.QueryRow(ctx, query, key).Scan(&st.Key, &st.Value, &st.UpdatedAt)
	if err != nil {
		if IsPgNoRowsError(err) {
			return transmute.Setting{}, false, nil
		}
		return transmute.Setting{}, false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return st, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s ("key", "value", updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT ("key") DO UPDATE SET
			"value" = EXCLUDED."value",
			updated_at = EXCLUDED.updated_at
	`, s.tables.Settings)

	if _, err := s.pool.Exec(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	s.logger.Debug("setting updated", "key", key)
	return nil
}

func (s *Store) List(ctx context.Context) ([]transmute.Setting, error) {
	query := fmt.Sprintf(`SELECT "key", "value", updated_at FROM %s ORDER BY "key"`, s.tables.Settings)

	rows, err := s.pool.Query(ctx, query)
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
		out = append(out, st)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// IsPgNoRowsError checks if error is a "no rows" error.
func IsPgNoRowsError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
