// Package debug provides env-gated diagnostic logging for fomcp.
// Output goes to stderr so it never corrupts JSON or MCP stdio framing.
package debug

import (
	"fmt"
	"os"
)

var (
	enabled     = os.Getenv("FOMCP_DEBUG") != ""
	verboseMode = false
	quietMode   = false
)

// Enabled reports whether debug output is active.
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

// Logf writes a debug line to stderr when debug output is active.
func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Printf writes to stdout when debug output is active.
func Printf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Printf(format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled.
// Use this for informational output that should be suppressed in quiet mode.
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// PrintlnNormal prints a line unless quiet mode is enabled
func PrintlnNormal(args ...interface{}) {
	if !quietMode {
		fmt.Println(args...)
	}
}
