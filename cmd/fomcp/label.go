package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dynamicsmcp/fomcp/internal/ui"
)

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Resolve label ids to display text",
}

var labelGetCmd = &cobra.Command{
	Use:   "get ID...",
	Short: "Resolve one or more label ids",
	Long: `Resolve label ids like @SYS12345 to display text.

Resolution checks the persistent label store first, then the in-memory
cache, and falls back to the environment for misses.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		language, _ := cmd.Flags().GetString("lang")

		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}
		labels, err := c.GetLabelsBatch(rootCtx, args, language)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(labels)
		}
		for _, id := range args {
			if text, ok := labels[id]; ok {
				fmt.Printf("%-20s %s\n", id, text)
			} else {
				fmt.Printf("%-20s %s\n", id, ui.RenderMuted("(not found)"))
			}
		}
		return nil
	},
}

func init() {
	labelGetCmd.Flags().String("lang", "", "label language (default from config)")
	labelCmd.AddCommand(labelGetCmd)
}
