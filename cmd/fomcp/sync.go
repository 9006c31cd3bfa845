package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dynamicsmcp/fomcp/internal/timeparsing"
	"github.com/dynamicsmcp/fomcp/internal/types"
	"github.com/dynamicsmcp/fomcp/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize metadata from the environment",
	Long: `Synchronize metadata from the environment into the local cache.

The strategy is selected automatically after version detection: an
environment whose module fingerprint matches an already-synced version
adopts it without fetching metadata (sharing mode). Use --strategy to
force one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		strategyFlag, _ := cmd.Flags().GetString("strategy")
		noLabels, _ := cmd.Flags().GetBool("no-labels")
		watch, _ := cmd.Flags().GetBool("watch")

		strategy := types.SyncStrategy(strategyFlag)
		if strategyFlag == "" && noLabels {
			strategy = types.StrategyFullWithoutLabels
		}

		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}

		if watch && !jsonOutput {
			setProgressHandler(renderProgressLine)
			defer setProgressHandler((func(types.SyncProgress))(nil))
		}

		session, err := c.StartSync(rootCtx, strategy)
		if err != nil {
			return err
		}
		if !quietFlag && !jsonOutput {
			fmt.Printf("sync %s started (%s)\n", session.ID, session.Strategy)
		}

		if err := c.WaitForSync(rootCtx, session.ID); err != nil {
			return err
		}
		final, err := c.GetSyncProgress(rootCtx, session.ID)
		if err != nil {
			return err
		}
		if watch && !jsonOutput {
			fmt.Println()
		}
		if jsonOutput {
			return printJSON(final)
		}
		printSessionSummary(final)
		if final.State == types.SyncStateFailed {
			return types.NewError(types.ErrTransport, "sync failed: %s", final.LastError())
		}
		return nil
	},
}

// renderProgressLine redraws one status line per progress update.
func renderProgressLine(p types.SyncProgress) {
	bar := renderBar(p.Percent, 24)
	line := fmt.Sprintf("\r%-12s %s %5.1f%%  %d/%d",
		p.Phase, bar, p.Percent, p.ItemsDone, p.ItemsTotal)
	fmt.Print(line)
}

func renderBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	return ui.RenderAccent(strings.Repeat("█", filled)) +
		ui.RenderMuted(strings.Repeat("░", width-filled))
}

func printSessionSummary(s *types.SyncSession) {
	fmt.Printf("%s  %s\n", stateStyle(s.State), s.ID)
	fmt.Printf("  strategy: %s\n", s.Strategy)
	fmt.Printf("  items:    %d/%d\n", s.ItemsDone, s.ItemsTotal)
	if s.FinishedAt != nil {
		fmt.Printf("  duration: %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	if s.ErrorsCount > 0 {
		fmt.Printf("  errors:   %d (last: %s)\n", s.ErrorsCount, s.LastError())
	}
}

var syncStatusCmd = &cobra.Command{
	Use:   "status [SESSION]",
	Short: "Show the state of a sync session (default: the most recent)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}

		var session *types.SyncSession
		if len(args) > 0 {
			session, err = c.GetSyncProgress(rootCtx, args[0])
		} else {
			var history []*types.SyncSession
			history, err = c.GetSyncHistory(rootCtx, 1)
			if err == nil {
				if len(history) == 0 {
					return fmt.Errorf("no sync sessions recorded; run 'fomcp sync' first")
				}
				session = history[0]
			}
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(session)
		}
		printSessionSummary(session)
		return nil
	},
}

var syncHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List past sync sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		sinceExpr, _ := cmd.Flags().GetString("since")

		var since time.Time
		if sinceExpr != "" {
			var err error
			since, err = timeparsing.ParseRelativeTime(sinceExpr, time.Now())
			if err != nil {
				return err
			}
		}

		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}
		sessions, err := c.GetSyncHistory(rootCtx, limit)
		if err != nil {
			return err
		}
		if !since.IsZero() {
			kept := sessions[:0]
			for _, s := range sessions {
				if s.StartedAt.After(since) {
					kept = append(kept, s)
				}
			}
			sessions = kept
		}

		if jsonOutput {
			return printJSON(sessions)
		}
		if len(sessions) == 0 {
			fmt.Println("No sync sessions.")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%-36s %-22s %-20s %6d items  %s\n",
				s.ID, stateStyle(s.State), s.Strategy, s.ItemsDone, humanTime(s.StartedAt))
		}
		return nil
	},
}

var syncCancelCmd = &cobra.Command{
	Use:   "cancel SESSION",
	Short: "Request cancellation of a running sync session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}
		if err := c.CancelSync(rootCtx, args[0]); err != nil {
			return err
		}
		if !quietFlag {
			fmt.Printf("%s cancellation requested for %s\n", ui.RenderWarnIcon(), args[0])
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().String("strategy", "", "force a strategy: full, full_without_labels, entities_only, labels_only, sharing_mode, incremental")
	syncCmd.Flags().Bool("no-labels", false, "skip label prefetch (shorthand for --strategy full_without_labels)")
	syncCmd.Flags().Bool("watch", false, "render live progress while the sync runs")

	syncHistoryCmd.Flags().Int("limit", 20, "max sessions to list")
	syncHistoryCmd.Flags().String("since", "", "only sessions after this time (-7d, 2025-08-01, 'last monday')")

	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncHistoryCmd)
	syncCmd.AddCommand(syncCancelCmd)
}
