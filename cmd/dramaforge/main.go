package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"dramaforge/internal/services"
)

// Exit codes: 1 for runtime failures, 2 for bad input or configuration.
const (
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	err := newRootCommand().ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return exitFailure
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	if errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrConfiguration) {
		return exitUsage
	}
	return exitFailure
}
