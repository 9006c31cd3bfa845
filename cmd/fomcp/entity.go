package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dynamicsmcp/fomcp/internal/storage"
	"github.com/dynamicsmcp/fomcp/internal/types"
	"github.com/dynamicsmcp/fomcp/internal/ui"
)

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Inspect cached entities",
}

var entityShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show one entity",
	Long: `Show one entity from the cache.

--kind data shows the data entity summary row; --kind public (default)
shows the full public schema with properties, navigation properties, and
bound actions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kindFlag, _ := cmd.Flags().GetString("kind")
		resolveLabels, _ := cmd.Flags().GetBool("resolve-labels")
		language, _ := cmd.Flags().GetString("lang")

		kind := types.KindPublic
		switch kindFlag {
		case "public", "":
		case "data":
			kind = types.KindData
		default:
			return fmt.Errorf("invalid --kind %q (want data or public)", kindFlag)
		}

		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}
		entity, err := c.GetEntity(rootCtx, args[0], kind)
		if err != nil {
			return err
		}
		if resolveLabels {
			if err := c.ResolveLabels(rootCtx, language, entity); err != nil {
				return err
			}
		}

		if jsonOutput {
			return printJSON(entity)
		}
		printEntity(entity)
		return nil
	},
}

func printEntity(e *types.Entity) {
	switch e.Kind {
	case types.KindData:
		d := e.Data
		fmt.Printf("%s %s\n", ui.RenderCategory("data entity"), d.Name)
		fmt.Printf("  public entity:   %s\n", orDash(d.PublicEntityName))
		fmt.Printf("  collection:      %s\n", orDash(d.PublicCollectionName))
		fmt.Printf("  category:        %s\n", orDash(string(d.EntityCategory)))
		fmt.Printf("  label:           %s\n", orDash(labelOrID(d.LabelText, d.LabelID)))
		fmt.Printf("  odata enabled:   %s\n", yesNo(d.DataServiceEnabled))
		fmt.Printf("  dmf enabled:     %s\n", yesNo(d.DataManagementEnabled))
		fmt.Printf("  read only:       %s\n", yesNo(d.IsReadOnly))

	case types.KindPublic:
		p := e.Public
		fmt.Printf("%s %s (%s)\n", ui.RenderCategory("public entity"), p.Name, p.EntitySetName)
		if label := labelOrID(p.LabelText, p.LabelID); label != "" {
			fmt.Printf("  label: %s\n", label)
		}
		fmt.Printf("\n%s\n", ui.RenderCategory("properties"))
		for _, prop := range p.Properties {
			key := " "
			if prop.IsKey {
				key = ui.RenderAccent("*")
			}
			fmt.Printf("  %s %-36s %-20s %s\n", key, prop.Name, prop.DataType, ui.RenderMuted(labelOrID(prop.LabelText, prop.LabelID)))
		}
		if len(p.NavigationProperties) > 0 {
			fmt.Printf("\n%s\n", ui.RenderCategory("navigation"))
			for _, nav := range p.NavigationProperties {
				fmt.Printf("    %-36s -> %s (%s)\n", nav.Name, nav.RelatedEntity, nav.Cardinality)
			}
		}
		if len(p.Actions) > 0 {
			fmt.Printf("\n%s\n", ui.RenderCategory("actions"))
			for _, action := range p.Actions {
				fmt.Printf("    %-36s %s\n", action.Name, ui.RenderMuted(string(action.BindingKind)))
			}
		}
	}
}

// labelOrID prefers resolved text over the raw label id.
func labelOrID(text, id string) string {
	if text != "" {
		return text
	}
	return id
}

var entityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached data entities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		pattern, _ := cmd.Flags().GetString("pattern")
		readOnly, _ := cmd.Flags().GetBool("read-only")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := storage.EntityFilter{
			Category:    types.EntityCategory(category),
			NamePattern: pattern,
		}
		if cmd.Flags().Changed("read-only") {
			filter.IsReadOnly = &readOnly
		}

		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}
		page, err := c.ListEntities(rootCtx, filter, limit, offset)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(page)
		}
		for _, e := range page.Items {
			d := e.Data
			fmt.Printf("%-48s %-12s %s\n", d.Name, orDash(string(d.EntityCategory)), ui.RenderMuted(d.PublicCollectionName))
		}
		fmt.Printf("%s\n", ui.RenderMuted(fmt.Sprintf("%d of %d (next offset %d)", len(page.Items), page.Total, page.NextOffset)))
		return nil
	},
}

func init() {
	entityShowCmd.Flags().String("kind", "public", "entity kind: data or public")
	entityShowCmd.Flags().Bool("resolve-labels", false, "resolve label ids to display text")
	entityShowCmd.Flags().String("lang", "", "label language (default from config)")

	entityListCmd.Flags().String("category", "", "filter by category (Master, Transaction, ...)")
	entityListCmd.Flags().String("pattern", "", "substring match on the entity name")
	entityListCmd.Flags().Bool("read-only", false, "filter by read-only flag")
	entityListCmd.Flags().Int("limit", 50, "max rows")
	entityListCmd.Flags().Int("offset", 0, "pagination offset")

	entityCmd.AddCommand(entityShowCmd)
	entityCmd.AddCommand(entityListCmd)
}
