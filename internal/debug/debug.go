// Package debug provides gated diagnostic output for bd.
//
// Diagnostics go to stderr when BD_DEBUG is set or verbose mode is on.
// Warnings always go to stderr unless quiet mode is on.
package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	enabled     = os.Getenv("BD_DEBUG") != ""
	verboseMode = false
	quietMode   = false

	outMu  sync.Mutex
	stderr io.Writer = os.Stderr
	stdout io.Writer = os.Stdout
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

// SetOutput redirects diagnostic and normal output. Nil restores the
// process streams. It returns a function that undoes the change.
func SetOutput(out, errOut io.Writer) (restore func()) {
	outMu.Lock()
	defer outMu.Unlock()
	prevOut, prevErr := stdout, stderr
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	stdout, stderr = out, errOut
	return func() {
		outMu.Lock()
		defer outMu.Unlock()
		stdout, stderr = prevOut, prevErr
	}
}

func write(w *io.Writer, format string, args ...interface{}) {
	outMu.Lock()
	defer outMu.Unlock()
	_, _ = fmt.Fprintf(*w, format, args...)
}

func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		write(&stderr, format, args...)
	}
}

func Printf(format string, args ...interface{}) {
	if enabled || verboseMode {
		write(&stdout, format, args...)
	}
}

// Warnf prints "Warning: ..." to stderr unless quiet mode is enabled.
func Warnf(format string, args ...interface{}) {
	if !quietMode {
		write(&stderr, "Warning: "+format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
// Use this for normal informational output that should be suppressed in quiet mode
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		write(&stdout, format, args...)
	}
}

// PrintlnNormal prints a line unless quiet mode is enabled
func PrintlnNormal(args ...interface{}) {
	if !quietMode {
		outMu.Lock()
		defer outMu.Unlock()
		_, _ = fmt.Fprintln(stdout, args...)
	}
}
