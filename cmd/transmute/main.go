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

// transmute converts files between formats through a catalog of built-in
// and external plugins.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// exitError carries a specific exit code out of a command.
type exitError struct {
	Code    int
	Message string
	Err     error
}

func (e *exitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *exitError) Unwrap() error { return e.Err }

func failure(err error) error {
	return &exitError{Code: exitFailure, Err: err}
}

func usage(format string, args ...interface{}) error {
	return &exitError{Code: exitUsage, Message: fmt.Sprintf(format, args...)}
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	defer a.close()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(stderr, "Error:", exitErr.Error())
		return exitErr.Code
	}
	// Anything cobra rejects before RunE is a usage error.
	fmt.Fprintln(stderr, "Error:", err)
	fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", root.CommandPath())
	return exitUsage
}
