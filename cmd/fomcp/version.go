package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is the release version, overridden at build time via
// -ldflags "-X main.Version=...".
var Version = "0.6.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fomcp version",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return printJSON(map[string]string{
				"version": Version,
				"go":      runtime.Version(),
				"os":      runtime.GOOS,
				"arch":    runtime.GOARCH,
			})
		}
		fmt.Printf("fomcp %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return nil
	},
}
