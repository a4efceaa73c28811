// File: cmd/recorder/main.go
/*
Copyright © 2025 Kyle McAllister (xkilldash9x@proton.me)
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/scalpel-recorder/cmd"
	"github.com/xkilldash9x/scalpel-recorder/internal/observability"
)

const panicLogFile = "panic.log"

// Function variables for dependency injection in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
	execute     = cmd.Execute
)

func main() {
	// The sentinel flushes logs and records the stack before the process dies.
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := run(ctx)
	observability.Sync()
	if code != 0 {
		osExit(code)
	}
}

// run executes the recorder and maps the outcome to an exit code. An
// interrupted recording still delivered its script and exits cleanly.
func run(ctx context.Context) int {
	err := execute(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}

func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
	} else {
		fmt.Fprintf(os.Stderr, "The recorder crashed. Details logged to %s\n", panicLogFile)
	}
	osExit(2)
}
