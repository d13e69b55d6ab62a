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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option configures an Engine.
type Option func(*Engine)

// WithHistory sets where conversion outcomes are recorded.
func WithHistory(h HistoryStore) Option {
	return func(e *Engine) {
		e.history = h
	}
}

// WithSettings sets the store the engine reads temp_dir and
// plugin_preference from.
func WithSettings(s SettingsStore) Option {
	return func(e *Engine) {
		e.settings = s
	}
}

// WithStore is WithHistory and WithSettings for a backend that provides both.
func WithStore(s Store) Option {
	return func(e *Engine) {
		e.history = s
		e.settings = s
	}
}

// WithLogger sets the base logger. Each request logs with a request_id.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTempDir sets the directory for in-flight output when the settings
// store does not name one.
func WithTempDir(dir string) Option {
	return func(e *Engine) {
		e.tempDir = dir
	}
}

// WithObjectStore enables s3:// destinations.
func WithObjectStore(s ObjectStore) Option {
	return func(e *Engine) {
		e.objects = s
	}
}

// WithBreakerThreshold unregisters a plugin after n consecutive panics.
// Zero disables the breaker.
func WithBreakerThreshold(n int) Option {
	return func(e *Engine) {
		e.breakerThreshold = n
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithResultHook is called with every finished Result, after it has been
// recorded. It must be safe for concurrent use when ConvertAll is used.
func WithResultHook(fn func(*Result)) Option {
	return func(e *Engine) {
		e.onResult = fn
	}
}
