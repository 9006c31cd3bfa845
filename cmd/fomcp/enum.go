package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dynamicsmcp/fomcp/internal/ui"
)

var enumCmd = &cobra.Command{
	Use:   "enum",
	Short: "Inspect cached enumerations",
}

var enumShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show an enumeration with its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolveLabels, _ := cmd.Flags().GetBool("resolve-labels")
		language, _ := cmd.Flags().GetString("lang")

		c, err := openCore(rootCtx)
		if err != nil {
			return err
		}
		enum, err := c.GetEnumeration(rootCtx, args[0])
		if err != nil {
			return err
		}
		if resolveLabels {
			if err := c.ResolveLabels(rootCtx, language, enum); err != nil {
				return err
			}
		}

		if jsonOutput {
			return printJSON(enum)
		}
		fmt.Printf("%s %s\n", ui.RenderCategory("enumeration"), enum.Name)
		if label := labelOrID(enum.LabelText, enum.LabelID); label != "" {
			fmt.Printf("  label: %s\n", label)
		}
		for _, m := range enum.Members {
			fmt.Printf("  %4d  %-36s %s\n", m.Value, m.Name, ui.RenderMuted(labelOrID(m.LabelText, m.LabelID)))
		}
		return nil
	},
}

func init() {
	enumShowCmd.Flags().Bool("resolve-labels", false, "resolve label ids to display text")
	enumShowCmd.Flags().String("lang", "", "label language (default from config)")
	enumCmd.AddCommand(enumShowCmd)
}
