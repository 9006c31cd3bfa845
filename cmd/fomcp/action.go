package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dynamicsmcp/fomcp/internal/storage"
	"github.com/dynamicsmcp/fomcp/internal/ui"
)

var actionCmd = &cobra.Command{
	Use:   "action",
	Short: "Inspect cached OData actions",
}

var actionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List OData actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entity, _ := cmd.Flags().GetString("entity")
		pattern, _ := cmd.Flags().GetString("pattern")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}
		page, err := c.GetActions(rootCtx, storage.ActionFilter{
			EntityName:  entity,
			NamePattern: pattern,
		}, limit, offset)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(page)
		}
		for _, a := range page.Items {
			params := make([]string, 0, len(a.Parameters))
			for _, p := range a.Parameters {
				params = append(params, p.Name)
			}
			fmt.Printf("%-40s %-32s %s\n", a.Name, orDash(a.EntityName), ui.RenderMuted("("+strings.Join(params, ", ")+")"))
		}
		fmt.Printf("%s\n", ui.RenderMuted(fmt.Sprintf("%d of %d (next offset %d)", len(page.Items), page.Total, page.NextOffset)))
		return nil
	},
}

func init() {
	actionListCmd.Flags().String("entity", "", "restrict to actions bound to this entity")
	actionListCmd.Flags().String("pattern", "", "substring match on the action name")
	actionListCmd.Flags().Int("limit", 50, "max rows")
	actionListCmd.Flags().Int("offset", 0, "pagination offset")
	actionCmd.AddCommand(actionListCmd)
}
