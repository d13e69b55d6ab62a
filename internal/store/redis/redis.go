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

// Package redis shares conversion history and settings between hosts
// through Redis.
//
// Layout under Prefix:
//
//	history:seq         INCR counter for entry ids
//	history             sorted set of JSON entries scored by timestamp
//	settings            hash of key -> JSON setting
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	transmute "github.com/nicholasgasior/transmute-go"
)

// Config configures the Redis backend.
type Config struct {
	// Address is the Redis server address (e.g., "localhost:6379").
	Address  string
	Password string
	Database int
	// Prefix is prepended to all keys (e.g., "transmute:").
	Prefix string
	// MaxHistory trims the history to the newest N entries (0 = unbounded).
	MaxHistory   int64
	Timeout      time.Duration
	PoolSize     int
	MinIdleConns int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(address string) Config {
	return Config{
		Address:      address,
		Prefix:       "transmute:",
		MaxHistory:   10000,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// Store implements transmute.Store.
type Store struct {
	cfg    Config
	client *redis.Client
}

var _ transmute.Store = (*Store)(nil)

// New connects and pings the server.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Store{cfg: cfg, client: client}, nil
}

func (s *Store) historyKey() string  { return s.cfg.Prefix + "history" }
func (s *Store) seqKey() string      { return s.cfg.Prefix + "history:seq" }
func (s *Store) settingsKey() string { return s.cfg.Prefix + "settings" }

type storedEntry struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id"`
	InputFile      string    `json:"input_file"`
	OutputFile     string    `json:"output_file,omitempty"`
	InputFormat    string    `json:"input_format"`
	OutputFormat   string    `json:"output_format"`
	PluginName     string    `json:"plugin_name"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	BytesProcessed int64     `json:"bytes_processed"`
	DurationMS     int64     `json:"duration_ms"`
}

type storedSetting struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) Record(ctx context.Context, e *transmute.HistoryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("allocate history id: %w", err)
	}
	data, err := json.Marshal(storedEntry{
		ID:             id,
		Timestamp:      e.Timestamp.UTC(),
		RequestID:      e.RequestID,
		InputFile:      e.InputFile,
		OutputFile:     e.OutputFile,
		InputFormat:    string(e.InputFormat),
		OutputFormat:   string(e.OutputFormat),
		PluginName:     e.PluginName,
		Status:         string(e.Status),
		ErrorMessage:   e.ErrorMessage,
		BytesProcessed: e.BytesProcessed,
		DurationMS:     e.Duration.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.historyKey(), redis.Z{Score: float64(e.Timestamp.UnixMilli()), Member: data})
	if s.cfg.MaxHistory > 0 {
		pipe.ZRemRangeByRank(ctx, s.historyKey(), 0, -s.cfg.MaxHistory-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	e.ID = id
	return nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]transmute.HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := s.client.ZRevRange(ctx, s.historyKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	out := make([]transmute.HistoryEntry, 0, len(members))
	for _, m := range members {
		var se storedEntry
		if err := json.Unmarshal([]byte(m), &se); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, transmute.HistoryEntry{
			ID:             se.ID,
			Timestamp:      se.Timestamp,
			RequestID:      se.RequestID,
			InputFile:      se.InputFile,
			OutputFile:     se.OutputFile,
			InputFormat:    transmute.Format(se.InputFormat),
			OutputFormat:   transmute.Format(se.OutputFormat),
			PluginName:     se.PluginName,
			Status:         transmute.Status(se.Status),
			ErrorMessage:   se.ErrorMessage,
			BytesProcessed: se.BytesProcessed,
			Duration:       time.Duration(se.DurationMS) * time.Millisecond,
		})
	}
	// Members with equal scores come back in reverse lexical order.
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) Get(ctx context.Context, key string) (transmute.Setting, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	data, err := s.client.HGet(ctx, s.settingsKey(), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return transmute.Setting{}, false, nil
	}
	if err != nil {
		return transmute.Setting{}, false, fmt.Errorf("get setting %q: %w", key, err)
	}
	var ss storedSetting
	if err := json.Unmarshal(data, &ss); err != nil {
		return transmute.Setting{}, false, fmt.Errorf("decode setting %q: %w", key, err)
	}
	return transmute.Setting{Key: key, Value: ss.Value, UpdatedAt: ss.UpdatedAt}, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(storedSetting{Value: value, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal setting: %w", err)
	}
	if err := s.client.HSet(ctx, s.settingsKey(), key, data).Err(); err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]transmute.Setting, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	all, err := s.client.HGetAll(ctx, s.settingsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make([]transmute.Setting, 0, len(all))
	for k, v := range all {
		var ss storedSetting
		if err := json.Unmarshal([]byte(v), &ss); err != nil {
			return nil, fmt.Errorf("decode setting %q: %w", k, err)
		}
		out = append(out, transmute.Setting{Key: k, Value: ss.Value, UpdatedAt: ss.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Purge removes history entries older than before.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	n, err := s.client.ZRemRangeByScore(ctx, s.historyKey(), "-inf", fmt.Sprintf("(%d", before.UnixMilli())).Result()
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	return n, nil
}
