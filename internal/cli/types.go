package cli

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/provider"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List resource types and their purge capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := provider.NewRegistry()
		if err := registry.LoadAll(); err != nil {
			return err
		}
		writeTypes(cmd.OutOrStdout(), registry.Types())
		return nil
	},
}

func writeTypes(w io.Writer, types []ir.ResourceType) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Type", "Provider", "Enumerable", "Absentable", "Purgeable", "Identity"})
	for _, typ := range types {
		t.AppendRow(table.Row{
			typ.Name,
			typ.Provider,
			yesNo(typ.Capabilities.Enumerable),
			yesNo(typ.Capabilities.Absentable),
			yesNo(typ.Purgeable()),
			yesNo(typ.Capabilities.IdentityProtected),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, AutoMerge: true},
	})

	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
