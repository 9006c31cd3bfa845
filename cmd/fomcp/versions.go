package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dynamicsmcp/fomcp/internal/config"
	"github.com/dynamicsmcp/fomcp/internal/timeparsing"
	"github.com/dynamicsmcp/fomcp/internal/ui"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Manage shared metadata versions",
}

var versionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known global versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}
		versions, err := c.ListVersions(rootCtx)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(versions)
		}
		if len(versions) == 0 {
			fmt.Println("No versions recorded.")
			return nil
		}
		for _, v := range versions {
			refs := fmt.Sprintf("%d env", v.ReferenceCount)
			if v.ReferenceCount == 0 {
				refs = ui.RenderWarn("orphan")
			}
			fmt.Printf("#%-5d %-12.12s %-18s %4d modules  %-8s last used %s\n",
				v.ID, v.VersionHash, orDash(v.ApplicationVersion), v.ModuleCount, refs, humanTime(v.LastUsedAt))
		}
		return nil
	},
}

var versionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete unreferenced versions not used recently",
	Long: `Delete versions no environment references whose last use is older
than --older-than. The cascade removes the version's entities, schemas,
enumerations, actions, and labels.

Examples:
  fomcp versions cleanup --older-than 30d
  fomcp versions cleanup --older-than "3 months ago" --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetString("older-than")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if !cmd.Flags().Changed("older-than") {
			settings, err := config.LoadSettings("")
			if err != nil {
				return err
			}
			olderThan = fmt.Sprintf("%dd", settings.RetentionDays)
		}

		cutoff, err := timeparsing.ParseRelativeTime(olderThan, time.Now())
		if err != nil {
			return fmt.Errorf("invalid --older-than: %w", err)
		}
		retention := time.Since(cutoff)
		if retention <= 0 {
			return fmt.Errorf("--older-than must be in the past")
		}

		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}

		if dryRun {
			versions, err := c.ListVersions(rootCtx)
			if err != nil {
				return err
			}
			count := 0
			for _, v := range versions {
				if v.ReferenceCount == 0 && v.LastUsedAt.Before(cutoff) {
					count++
					if !jsonOutput {
						fmt.Printf("would delete #%d %.12s (last used %s)\n", v.ID, v.VersionHash, humanTime(v.LastUsedAt))
					}
				}
			}
			if jsonOutput {
				return printJSON(map[string]any{"dry_run": true, "candidates": count})
			}
			fmt.Printf("%d version(s) would be deleted\n", count)
			return nil
		}

		deleted, err := c.CleanupVersions(rootCtx, retention)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"deleted": deleted})
		}
		fmt.Printf("%s deleted %d version(s)\n", ui.RenderPassIcon(), deleted)
		return nil
	},
}

func init() {
	versionsCleanupCmd.Flags().String("older-than", "", "age threshold (30d, 2w, '3 months ago'; default from settings.yaml retention)")
	versionsCleanupCmd.Flags().Bool("dry-run", false, "list candidates without deleting")

	versionsCmd.AddCommand(versionsListCmd)
	versionsCmd.AddCommand(versionsCleanupCmd)
}
