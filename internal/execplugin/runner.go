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

// Package execplugin runs an out-of-process converter: input on stdin,
// output on stdout, diagnostics on stderr.
package execplugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nicholasgasior/transmute-go/internal/ctxlog"
)

var (
	// ErrExecution wraps every failure of a plugin process.
	ErrExecution = errors.New("plugin execution failed")
	// ErrTimeout is returned when the per-plugin timeout elapsed.
	ErrTimeout = errors.New("plugin execution timed out")
	// ErrNonZeroExit is returned when the process exited with a non-zero status.
	ErrNonZeroExit = errors.New("plugin exited non-zero")
)

const stderrTail = 4 << 10

// Spec describes how to start a plugin process.
type Spec struct {
	Name    string
	Command []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// Runner starts one process per Run call.
type Runner struct {
	spec Spec
}

// New returns a Runner for spec.
func New(spec Spec) *Runner {
	return &Runner{spec: spec}
}

// Spec returns the runner's spec.
func (r *Runner) Spec() Spec {
	return r.spec
}

// Run executes the plugin with stdin connected to in and stdout to out.
// extraEnv entries are KEY=VALUE strings added after the manifest env.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer, extraEnv ...string) error {
	if len(r.spec.Command) == 0 {
		return fmt.Errorf("%w: %s: empty command", ErrExecution, r.spec.Name)
	}
	logger := ctxlog.FromContext(ctx).With("plugin", r.spec.Name)

	runCtx := ctx
	if r.spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.spec.Command[0], r.spec.Command[1:]...)
	cmd.Dir = r.spec.Dir
	cmd.Env = append(os.Environ(), r.env()...)
	cmd.Env = append(cmd.Env, extraEnv...)
	cmd.Stdin = in
	cmd.Stdout = out
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	logger.Debug("starting plugin process", "command", r.spec.Command[0])
	err := cmd.Run()
	logger.Debug("plugin process finished", "elapsed", time.Since(start), "error", err)
	if err == nil {
		return nil
	}

	tail := strings.TrimSpace(stderr.String())
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w: %s after %s", ErrExecution, ErrTimeout, r.spec.Name, r.spec.Timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Name: r.spec.Name, Code: exitErr.ExitCode(), Stderr: tail}
	}
	return fmt.Errorf("%w: %s: %w", ErrExecution, r.spec.Name, err)
}

func (r *Runner) env() []string {
	keys := make([]string, 0, len(r.spec.Env))
	for k := range r.spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+r.spec.Env[k])
	}
	return out
}

// ExitError reports a non-zero exit together with the tail of stderr.
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("plugin %s exited with status %d", e.Name, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Is(target error) bool {
	return target == ErrExecution || target == ErrNonZeroExit
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
