// Command tripwirectl lists checks, validates agent guardrail configurations,
// and evaluates text locally, without a running server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitBlocked = 2
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	cmd := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	cancel()
	os.Exit(exitCode(err, cmd.ErrOrStderr()))
}

// exitCode maps a command error onto the process exit code, printing it
// unless the command already reported it.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}
	var ce *codedError
	if errors.As(err, &ce) {
		if ce.msg != "" {
			_, _ = fmt.Fprintln(stderr, "Error:", ce.msg)
		}
		return ce.code
	}
	_, _ = fmt.Fprintln(stderr, "Error:", err)
	return exitError
}

// codedError carries a specific exit code. An empty msg means the outcome
// was already written to stdout.
type codedError struct {
	code int
	msg  string
}

func (e *codedError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("exit status %d", e.code)
}
