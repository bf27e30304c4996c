package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

var (
	showJSON bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current state",
	Long:  `Displays a human-readable view of the current state file.`,
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}

func runShow(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	backend, err := openState(cmd)
	if err != nil {
		return err
	}

	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if showJSON {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintf(w, "State: version=%d serial=%d lineage=%s\n", s.Version, s.Serial, s.Lineage)
	fmt.Fprintf(w, "Resources: %d\n\n", len(s.Resources))

	for _, res := range s.Resources {
		fmt.Fprintf(w, "# %s\n", res.Address())
		fmt.Fprintf(w, "  provider = %s\n", res.Provider)
		for _, k := range slices.Sorted(maps.Keys(res.Outputs)) {
			fmt.Fprintf(w, "  %s = %s\n", k, formatValue(res.Outputs[k]))
		}
		fmt.Fprintln(w)
	}

	if len(s.Outputs) > 0 {
		fmt.Fprintln(w, "Outputs:")
		for _, k := range slices.Sorted(maps.Keys(s.Outputs)) {
			fmt.Fprintf(w, "  %s = %s\n", k, formatValue(s.Outputs[k]))
		}
	}
	return nil
}
