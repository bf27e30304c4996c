package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/sweep/internal/provider"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate PKL configuration files",
	Long: `Validates the syntax and types of the configuration and checks every
purge declaration against the registered resource types. No live system is
contacted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	p, err := resolveProject(args)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Checking %s... ", p.entry)
	cfg, err := p.evaluator().LoadConfig(cmd.Context(), p.entry, nil)
	if err != nil {
		fmt.Fprintln(w, "FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintln(w, "OK")

	fmt.Fprint(w, "Checking purge declarations... ")
	registry := provider.NewRegistry()
	if err := loadRequiredProviders(registry, cfg, nil); err != nil {
		fmt.Fprintln(w, "FAILED")
		return err
	}
	policies, err := newEngine(registry, cfg).Policies(cfg)
	if err != nil {
		fmt.Fprintln(w, "FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintln(w, "OK")

	active := 0
	for _, pol := range policies {
		if pol.Purge {
			active++
		}
	}
	fmt.Fprintf(w, "\nConfiguration is valid! %d resource(s), %d active purge(s).\n", len(cfg.Resources), active)
	return nil
}
