package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/types"
	"github.com/dynamicsmcp/fomcp/internal/ui"
)

// printJSON writes indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// fail prints the structured error kind when present and exits non-zero.
func fail(err error) {
	var se *types.Error
	if errors.As(err, &se) {
		fmt.Fprintf(os.Stderr, "%s %s (%s): %s\n", ui.RenderFailIcon(), ui.RenderFail("Error"), se.Kind, se.Message)
	} else {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFailIcon(), ui.RenderFail("Error"), err)
	}
	os.Exit(1)
}

// yesNo renders a boolean for table output.
func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// orDash substitutes a dash for empty values in table output.
func orDash(s string) string {
	if s == "" {
		return ui.RenderSkipIcon()
	}
	return s
}

// humanTime renders a timestamp compactly, relative for recent values.
func humanTime(t time.Time) string {
	if t.IsZero() {
		return ui.RenderSkipIcon()
	}
	age := time.Since(t)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	case age < 14*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
	return t.Format("2006-01-02")
}

// stateStyle colors a sync state for human output.
func stateStyle(state types.SyncState) string {
	switch state {
	case types.SyncStateCompleted:
		return ui.RenderPass(string(state))
	case types.SyncStateFailed:
		return ui.RenderFail(string(state))
	case types.SyncStateCancelled, types.SyncStateCancelling:
		return ui.RenderWarn(string(state))
	}
	return ui.RenderAccent(string(state))
}
