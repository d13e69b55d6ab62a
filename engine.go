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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nicholasgasior/transmute-go/internal/ctxlog"
)

const (
	tracerName    = "github.com/nicholasgasior/transmute-go"
	recordTimeout = 5 * time.Second
)

// State is a step of a single conversion.
type State int

const (
	StateReceived State = iota
	StateFormatResolved
	StatePluginSelected
	StateExecuting
	StateSucceeded
	StateFailed
	StateRecorded
)

var stateNames = map[State]string{
	StateReceived:       "received",
	StateFormatResolved: "format_resolved",
	StatePluginSelected: "plugin_selected",
	StateExecuting:      "executing",
	StateSucceeded:      "succeeded",
	StateFailed:         "failed",
	StateRecorded:       "recorded",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var stateTransitions = map[State][]State{
	StateReceived:       {StateFormatResolved, StateFailed},
	StateFormatResolved: {StatePluginSelected, StateFailed},
	StatePluginSelected: {StateExecuting, StateFailed},
	StateExecuting:      {StateSucceeded, StateFailed},
	StateSucceeded:      {StateRecorded},
	StateFailed:         {StateRecorded},
}

// CanTransition reports whether a conversion may move from one state to
// the other. Recorded is terminal.
func CanTransition(from, to State) bool {
	for _, s := range stateTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Request asks for one file to be converted.
type Request struct {
	InputPath string
	// InputFormat overrides detection when set.
	InputFormat Format
	// OutputFormat defaults to the format implied by OutputPath.
	OutputFormat Format
	// OutputPath is a local path or s3://bucket/key.
	OutputPath string
	// PluginHint names a preferred plugin. It is ignored when that plugin
	// cannot handle the pair.
	PluginHint string
}

// Validate checks the fields every request needs.
func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.InputPath, validation.Required),
		validation.Field(&r.OutputPath, validation.Required, validation.By(validDestination)),
	)
}

func validDestination(value interface{}) error {
	dest, _ := value.(string)
	if IsObjectURL(dest) {
		_, _, err := ParseObjectURL(dest)
		return err
	}
	return nil
}

// Result is the outcome of one Convert call.
type Result struct {
	RequestID      string
	Status         Status
	State          State
	Plugin         string
	InputPath      string
	OutputPath     string
	InputFormat    Format
	OutputFormat   Format
	BytesProcessed int64
	BytesWritten   int64
	StartedAt      time.Time
	Duration       time.Duration
	Err            *Error
	// HistoryErr is set when the history entry could not be stored. It
	// never changes Status.
	HistoryErr error
}

// OK reports whether the conversion succeeded.
func (r *Result) OK() bool {
	return r.Status == StatusSuccess
}

// Failure returns r.Err as an error, or nil.
func (r *Result) Failure() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// Engine runs conversions against a registry.
type Engine struct {
	registry *Registry
	history  HistoryStore
	settings SettingsStore
	objects  ObjectStore
	logger   *slog.Logger
	tracer   trace.Tracer
	tempDir  string
	now      func() time.Time
	onResult func(*Result)

	breakerThreshold int
	breakerMu        sync.Mutex
	panics           map[string]int
}

// New creates an engine over reg. Without WithHistory the engine keeps
// history in memory.
func New(reg *Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		panics:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.history == nil {
		e.history = NewMemoryStore()
	}
	return e
}

// Registry returns the registry the engine resolves against.
func (e *Engine) Registry() *Registry { return e.registry }

// History returns the store conversions are recorded to.
func (e *Engine) History() HistoryStore { return e.history }

// Convert runs one request to completion. It never panics and reports
// every failure through Result.Err.
func (e *Engine) Convert(ctx context.Context, req Request) *Result {
	c := &conversion{
		engine: e,
		req:    req,
		state:  StateReceived,
		res: &Result{
			RequestID:  uuid.NewString(),
			InputPath:  req.InputPath,
			OutputPath: req.OutputPath,
			StartedAt:  e.now(),
		},
	}
	c.logger = e.logger.With("request_id", c.res.RequestID)
	ctx = ctxlog.WithLogger(ctx, c.logger)

	ctx, span := e.tracer.Start(ctx, "transmute.convert", trace.WithAttributes(
		attribute.String("transmute.request_id", c.res.RequestID),
		attribute.String("transmute.input", req.InputPath),
		attribute.String("transmute.output", req.OutputPath),
	))
	defer span.End()

	c.logger.Debug("conversion received", "input", req.InputPath, "output", req.OutputPath)
	c.run(ctx)
	c.res.Duration = e.now().Sub(c.res.StartedAt)
	e.record(ctx, c)

	span.SetAttributes(
		attribute.String("transmute.input_format", c.res.InputFormat.String()),
		attribute.String("transmute.output_format", c.res.OutputFormat.String()),
		attribute.String("transmute.plugin", c.res.Plugin),
		attribute.String("transmute.status", string(c.res.Status)),
		attribute.Int64("transmute.bytes_processed", c.res.BytesProcessed),
	)
	if c.res.Err != nil {
		span.RecordError(c.res.Err)
		span.SetStatus(codes.Error, c.res.Err.Kind.String())
	}

	if e.onResult != nil {
		e.onResult(c.res)
	}
	return c.res
}

// ConvertAll runs reqs with at most workers conversions in flight and
// returns results in request order. workers <= 0 means GOMAXPROCS.
func (e *Engine) ConvertAll(ctx context.Context, reqs []Request, workers int) []*Result {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]*Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = e.Convert(gctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// conversion is the per-request state machine.
type conversion struct {
	engine *Engine
	req    Request
	state  State
	res    *Result
	logger *slog.Logger
}

func (c *conversion) enter(to State) {
	if !CanTransition(c.state, to) {
		c.logger.Error("illegal state transition", "from", c.state.String(), "to", to.String())
	}
	c.state = to
	c.res.State = to
}

func (c *conversion) fail(err *Error) {
	c.enter(StateFailed)
	c.res.Status = StatusFailure
	c.res.Err = err
	c.logger.Warn("conversion failed",
		"input", c.req.InputPath,
		"plugin", c.res.Plugin,
		"kind", err.Kind.String(),
		"error", err)
}

func (c *conversion) succeed() {
	c.enter(StateSucceeded)
	c.res.Status = StatusSuccess
	c.logger.Info("conversion succeeded",
		"input", c.req.InputPath,
		"output", c.req.OutputPath,
		"plugin", c.res.Plugin,
		"from", c.res.InputFormat.String(),
		"to", c.res.OutputFormat.String(),
		"bytes", c.res.BytesProcessed)
}

// run drives the request from Received to Succeeded or Failed.
func (c *conversion) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("conversion panicked", "panic", r, "stack", string(debug.Stack()))
			c.fail(conversionFailure(c.res.Plugin, fmt.Sprintf("internal panic: %v", r), nil))
		}
	}()
	e := c.engine

	if err := ctx.Err(); err != nil {
		c.fail(cancelled("convert", err))
		return
	}
	if err := c.req.Validate(); err != nil {
		c.fail(newError(KindIOFailure, "validate", "invalid request", err))
		return
	}

	in, err := os.Open(c.req.InputPath)
	if err != nil {
		c.fail(ioFailure("open", err))
		return
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		c.fail(ioFailure("stat", err))
		return
	}
	if info.IsDir() {
		c.fail(ioFailure("open", fmt.Errorf("%s is a directory", c.req.InputPath)))
		return
	}

	from := NormalizeFormat(string(c.req.InputFormat))
	if !from.Known() {
		if from, err = DetectFormat(in, c.req.InputPath); err != nil {
			c.fail(asError(err, KindIOFailure, "detect"))
			return
		}
	}
	to := NormalizeFormat(string(c.req.OutputFormat))
	if !to.Known() {
		to = FormatFromPath(c.req.OutputPath)
	}
	c.res.InputFormat, c.res.OutputFormat = from, to
	c.enter(StateFormatResolved)

	d, err := e.selectPlugin(ctx, c.logger, from, to, c.req.PluginHint)
	if err != nil {
		c.fail(asError(err, KindUnsupportedFormatPair, "resolve"))
		return
	}
	c.res.Plugin = d.Name()
	c.enter(StatePluginSelected)

	tmp, err := createTemp(e.tempDirFor(ctx, c.logger, c.req.OutputPath), tempName(c.res.RequestID, c.req.OutputPath))
	if err != nil {
		c.fail(ioFailure("create temp", err))
		return
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()
	c.enter(StateExecuting)

	input := &countingReadSeeker{rs: in}
	sink := &cancelWriter{ctx: ctx, w: tmp}
	task := &Task{Input: input, Path: c.req.InputPath, Size: info.Size(), From: from, To: to}
	stats, perr := e.invoke(ctx, d, task, sink)
	c.res.BytesProcessed = max(input.high, stats.BytesRead)
	c.res.BytesWritten = sink.n
	if perr != nil {
		c.fail(perr)
		return
	}
	if err := ctx.Err(); err != nil {
		c.fail(cancelled("convert", err))
		return
	}

	if err := tmp.Sync(); err != nil {
		c.fail(ioFailure("sync", err))
		return
	}
	if err := tmp.Close(); err != nil {
		c.fail(ioFailure("close", err))
		return
	}
	if IsObjectURL(c.req.OutputPath) {
		err = commitObject(ctx, e.objects, tmpPath, c.req.OutputPath, to)
	} else {
		err = commitLocal(tmpPath, c.req.OutputPath)
	}
	if err != nil {
		c.fail(asError(err, KindIOFailure, "commit"))
		return
	}
	c.succeed()
}

// invoke calls the plugin under recover and folds its outcome into the
// error taxonomy.
func (e *Engine) invoke(ctx context.Context, d *Descriptor, task *Task, out io.Writer) (stats Stats, err *Error) {
	name := d.Name()
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("plugin panicked", "plugin", name, "panic", r, "stack", string(debug.Stack()))
			err = conversionFailure(name, fmt.Sprintf("plugin panicked: %v", r), nil)
			e.notePanic(name)
		}
	}()

	stats, perr := d.Plugin().Convert(ctx, task, out)
	if perr == nil {
		e.resetPanics(name)
		return stats, nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return stats, &Error{Kind: KindCancelled, Op: "convert", Plugin: name, Err: perr}
	}
	var te *Error
	if errors.As(perr, &te) {
		cp := *te
		if cp.Plugin == "" {
			cp.Plugin = name
		}
		return stats, &cp
	}
	return stats, conversionFailure(name, "plugin failed", perr)
}

func (e *Engine) selectPlugin(ctx context.Context, logger *slog.Logger, from, to Format, hint string) (*Descriptor, error) {
	cands := e.registry.Candidates(from, to)
	if len(cands) == 0 {
		return nil, unsupportedPair(from, to)
	}
	if hint != "" {
		if d := descriptorNamed(cands, hint); d != nil {
			return d, nil
		}
		logger.Warn("plugin hint cannot handle pair, ignoring", "hint", hint, "from", from.String(), "to", to.String())
	}
	if pref, ok := e.setting(ctx, logger, SettingPluginPreference); ok {
		for _, name := range SplitList(pref) {
			if d := descriptorNamed(cands, name); d != nil {
				return d, nil
			}
		}
	}
	return cands[0], nil
}

func descriptorNamed(ds []*Descriptor, name string) *Descriptor {
	for _, d := range ds {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// tempDirFor picks where in-flight output lives: the temp_dir setting, the
// WithTempDir option, then the destination's own directory.
func (e *Engine) tempDirFor(ctx context.Context, logger *slog.Logger, dest string) string {
	if dir, ok := e.setting(ctx, logger, SettingTempDir); ok && dir != "" {
		return dir
	}
	if e.tempDir != "" {
		return e.tempDir
	}
	if IsObjectURL(dest) {
		return os.TempDir()
	}
	return filepath.Dir(dest)
}

func (e *Engine) setting(ctx context.Context, logger *slog.Logger, key string) (string, bool) {
	if e.settings == nil {
		return "", false
	}
	s, ok, err := e.settings.Get(ctx, key)
	if err != nil {
		logger.Warn("settings lookup failed", "key", key, "error", err)
		return "", false
	}
	return s.Value, ok
}

// record stores the history entry. It runs on a context detached from the
// request's cancellation so cancelled conversions are still recorded.
func (e *Engine) record(ctx context.Context, c *conversion) {
	res := c.res
	entry := &HistoryEntry{
		Timestamp:      res.StartedAt.UTC(),
		RequestID:      res.RequestID,
		InputFile:      res.InputPath,
		InputFormat:    res.InputFormat,
		OutputFormat:   res.OutputFormat,
		PluginName:     res.Plugin,
		Status:         res.Status,
		BytesProcessed: res.BytesProcessed,
		Duration:       res.Duration,
	}
	if res.OK() {
		entry.OutputFile = res.OutputPath
	}
	if res.Err != nil {
		entry.ErrorMessage = res.Err.Error()
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := e.history.Record(rctx, entry); err != nil {
		res.HistoryErr = err
		c.logger.Error("history record failed", "error", err)
	}
	c.enter(StateRecorded)
}

func (e *Engine) notePanic(name string) {
	if e.breakerThreshold <= 0 {
		return
	}
	e.breakerMu.Lock()
	e.panics[name]++
	tripped := e.panics[name] >= e.breakerThreshold
	if tripped {
		delete(e.panics, name)
	}
	e.breakerMu.Unlock()

	if tripped && e.registry.Unregister(name) {
		e.logger.Warn("plugin unregistered after repeated panics", "plugin", name, "threshold", e.breakerThreshold)
	}
}

func (e *Engine) resetPanics(name string) {
	if e.breakerThreshold <= 0 {
		return
	}
	e.breakerMu.Lock()
	delete(e.panics, name)
	e.breakerMu.Unlock()
}
