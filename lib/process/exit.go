// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// exitCoder is an error that carries its own exit status. Such errors
// are not printed; the command has already reported them.
type exitCoder interface {
	ExitCode() int
}

// Fatal reports err from main() and exits. An error with an ExitCode
// method exits with that code silently; anything else prints
// "error: err" to stderr and exits 1.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(w io.Writer, err error) int {
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
