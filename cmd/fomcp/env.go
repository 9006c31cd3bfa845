package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dynamicsmcp/fomcp/internal/ui"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Inspect the connected environment",
}

var envInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show environment versions, cache counts, and sync status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}
		info, err := c.GetEnvironmentInfo(rootCtx)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(info)
		}
		fmt.Printf("%s %s\n", ui.RenderCategory("environment"), info.Environment.BaseURL)
		fmt.Printf("  application: %s\n", orDash(info.ApplicationVersion))
		fmt.Printf("  platform:    %s\n", orDash(info.PlatformVersion))
		fmt.Printf("  sync status: %s\n", orDash(string(info.SyncStatus)))
		if v := info.ActiveVersion; v != nil {
			fmt.Printf("  version:     #%d (%d modules, %d environments)\n", v.ID, v.ModuleCount, v.ReferenceCount)
		}
		fmt.Printf("\n%s\n", ui.RenderCategory("cache"))
		fmt.Printf("  data entities:   %d\n", info.DataEntityCount)
		fmt.Printf("  public entities: %d\n", info.PublicEntityCount)
		fmt.Printf("  enumerations:    %d\n", info.EnumerationCount)
		fmt.Printf("  actions:         %d\n", info.ActionCount)
		fmt.Printf("  labels:          %d\n", info.LabelCount)
		if info.LastSyncAt != nil {
			fmt.Printf("  last sync:       %s (%dms)\n", humanTime(*info.LastSyncAt), info.LastSyncDurationMS)
		}
		return nil
	},
}

func init() {
	envCmd.AddCommand(envInfoCmd)
}
