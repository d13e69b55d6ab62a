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
	"errors"
	"fmt"
	"strings"
)

// Kind classifies every failure the engine can report.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnsupportedFormatPair
	KindAmbiguousFormat
	KindPluginLoadFailure
	KindConversionFailure
	KindIOFailure
	KindCancelled
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindUnsupportedFormatPair: "unsupported_format_pair",
	KindAmbiguousFormat:       "ambiguous_format",
	KindPluginLoadFailure:     "plugin_load_failure",
	KindConversionFailure:     "conversion_failure",
	KindIOFailure:             "io_failure",
	KindCancelled:             "cancelled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrUnsupportedFormatPair = errors.New("unsupported format pair")
	ErrAmbiguousFormat       = errors.New("ambiguous format")
	ErrPluginLoad            = errors.New("plugin load failure")
	ErrConversion            = errors.New("conversion failure")
	ErrIO                    = errors.New("io failure")
	ErrCancelled             = errors.New("cancelled")
)

var kindSentinels = map[Kind]error{
	KindUnsupportedFormatPair: ErrUnsupportedFormatPair,
	KindAmbiguousFormat:       ErrAmbiguousFormat,
	KindPluginLoadFailure:     ErrPluginLoad,
	KindConversionFailure:     ErrConversion,
	KindIOFailure:             ErrIO,
	KindCancelled:             ErrCancelled,
}

// Error is the single error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Plugin  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	parts := []string{e.Kind.String()}
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Plugin != "" {
		parts = append(parts, fmt.Sprintf("plugin=%q", e.Plugin))
	}
	s := strings.Join(parts, " ")
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of e's kind, so errors.Is(err, ErrConversion) works
// without callers knowing about *Error.
func (e *Error) Is(target error) bool {
	if s, ok := kindSentinels[e.Kind]; ok && s == target {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
	}
	return false
}

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

func unsupportedPair(from, to Format) *Error {
	return newError(KindUnsupportedFormatPair, "resolve", fmt.Sprintf("no plugin converts %s to %s", from, to), nil)
}

func ambiguousFormat(path string) *Error {
	return newError(KindAmbiguousFormat, "detect", fmt.Sprintf("cannot determine format of %q", path), nil)
}

func pluginLoad(name, msg string, err error) *Error {
	e := newError(KindPluginLoadFailure, "load", msg, err)
	e.Plugin = name
	return e
}

func conversionFailure(plugin, msg string, err error) *Error {
	e := newError(KindConversionFailure, "convert", msg, err)
	e.Plugin = plugin
	return e
}

func ioFailure(op string, err error) *Error {
	return newError(KindIOFailure, op, "", err)
}

func cancelled(op string, err error) *Error {
	return newError(KindCancelled, op, "", err)
}

// asError folds any error into the taxonomy. Context errors become
// KindCancelled; anything unclassified gets the fallback kind.
func asError(err error, fallback Kind, op string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cancelled(op, err)
	}
	return newError(fallback, op, "", err)
}

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsUnsupportedFormat reports whether the error is an unsupported format pair.
func IsUnsupportedFormat(err error) bool {
	return KindOf(err) == KindUnsupportedFormatPair
}

// IsAmbiguousFormat reports whether the input format could not be determined.
func IsAmbiguousFormat(err error) bool {
	return KindOf(err) == KindAmbiguousFormat
}
