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
	"sort"
	"strings"
	"sync"
	"time"
)

// Status is the terminal outcome of a conversion.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Settings keys read by the engine.
const (
	SettingTempDir          = "engine.temp_dir"
	SettingPluginPreference = "engine.plugin_preference"
)

// HistoryEntry is one row of the conversion audit trail.
type HistoryEntry struct {
	ID             int64
	Timestamp      time.Time
	RequestID      string
	InputFile      string
	OutputFile     string
	InputFormat    Format
	OutputFormat   Format
	PluginName     string
	Status         Status
	ErrorMessage   string
	BytesProcessed int64
	Duration       time.Duration
}

// Setting is one key/value pair with its last update time.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// HistoryStore is the append-only audit log. Record assigns e.ID.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	Record(ctx context.Context, e *HistoryEntry) error
	Recent(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// SettingsStore is a flat key/value store.
type SettingsStore interface {
	Get(ctx context.Context, key string) (Setting, bool, error)
	Set(ctx context.Context, key, value string) error
	List(ctx context.Context) ([]Setting, error)
}

// Store is both halves, as provided by every backend in this module.
type Store interface {
	HistoryStore
	SettingsStore
	Close() error
}

// SplitList splits a comma separated setting value, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// MemoryStore keeps history and settings in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	history  []HistoryEntry
	settings map[string]Setting
	nextID   int64
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings: make(map[string]Setting),
		now:      time.Now,
	}
}

func (s *MemoryStore) Record(ctx context.Context, e *HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.history = append(s.history, *e)
	return nil
}

// Recent returns up to limit entries, newest first. limit <= 0 means all.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Setting, bool, error) {
	if err := ctx.Err(); err != nil {
		return Setting{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = Setting{Key: key, Value: value, UpdatedAt: s.now().UTC()}
	return nil
}

// List returns all settings ordered by key.
func (s *MemoryStore) List(ctx context.Context) ([]Setting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Setting, 0, len(s.settings))
	for _, v := range s.settings {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
