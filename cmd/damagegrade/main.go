// Command damagegrade trains a random-forest classifier on building survey
// tables and writes damage grade predictions for a submission template.
package main

import (
	"errors"
	"fmt"
	"os"

	dgerrors "github.com/paveg/damagegrade/internal/errors"
)

// Exit codes for different failure modes
const (
	ExitSuccess     = 0
	ExitError       = 1 // Input, schema, encoding or runtime error
	ExitConfigError = 2 // Invalid configuration
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, dgerrors.ErrConfig):
		return ExitConfigError
	default:
		return ExitError
	}
}
