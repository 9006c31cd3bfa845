package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dynamicsmcp/fomcp/internal/types"
	"github.com/dynamicsmcp/fomcp/internal/ui"
)

var searchCmd = &cobra.Command{
	Use:   "search TEXT",
	Short: "Search the cached metadata",
	Long: `Search entities, enumerations, and actions in the cached metadata.

Examples:
  fomcp search customer
  fomcp search "sales order" --type data_entity --limit 50
  fomcp search invoice --no-fulltext`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityTypes, _ := cmd.Flags().GetStringSlice("type")
		limit, _ := cmd.Flags().GetInt("limit")
		noFulltext, _ := cmd.Flags().GetBool("no-fulltext")

		query := &types.SearchQuery{
			Text:        strings.Join(args, " "),
			Limit:       limit,
			UseFullText: !noFulltext,
		}
		for _, t := range entityTypes {
			query.EntityTypes = append(query.EntityTypes, types.SearchEntityType(t))
		}

		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}
		results, err := c.Search(rootCtx, query)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(results)
		}
		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, r := range results {
			desc := r.Snippet
			if desc == "" {
				desc = r.Description
			}
			fmt.Printf("%-48s %-14s %s\n", r.Name, ui.RenderMuted(string(r.EntityType)), ui.TruncateSimple(desc, 80))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringSlice("type", nil, "restrict to types: data_entity, public_entity, enumeration, action, label")
	searchCmd.Flags().Int("limit", 20, "max results")
	searchCmd.Flags().Bool("no-fulltext", false, "use substring matching instead of the FTS index")
}
