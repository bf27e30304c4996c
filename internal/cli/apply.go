package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/picklr-io/sweep/internal/engine"
	"github.com/picklr-io/sweep/internal/logging"
)

var (
	applyAutoApprove     bool
	applyContinueOnError bool
	applyTargets         []string
	applyProperties      map[string]string
)

var applyCmd = &cobra.Command{
	Use:   "apply [path]",
	Short: "Apply a configuration",
	Long: `Builds or changes infrastructure according to sweep configuration files
and removes the unmanaged instances selected by purge declarations.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	applyCmd.Flags().BoolVar(&applyContinueOnError, "continue-on-error", false, "Keep applying independent changes after a failure")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit apply to these addresses and their dependencies")
	applyCmd.Flags().StringToStringVarP(&applyProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	p, err := resolveProject(args)
	if err != nil {
		return err
	}
	evaluator := p.evaluator()
	backend, err := p.state(ctx, evaluator)
	if err != nil {
		return err
	}

	if err := backend.Lock(); err != nil {
		return err
	}
	defer func() {
		if err := backend.Unlock(); err != nil {
			logging.Warn("failed to release state lock", "error", err)
		}
	}()

	run, err := computePlan(ctx, w, p, evaluator, backend, applyProperties, applyTargets)
	if err != nil {
		return err
	}
	plan := run.plan

	if !pendingChanges(plan) {
		fmt.Fprintln(w, "No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Fprintln(w, "\nsweep will perform the following actions:")
	renderPlanChanges(w, plan)
	renderPlanSummary(w, plan)

	if !applyAutoApprove {
		fmt.Fprint(w, "\nDo you want to perform these actions? (y/n): ")
		var response string
		_, _ = fmt.Fscanln(cmd.InOrStdin(), &response)
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(w, "Apply cancelled.")
			return nil
		}
	}

	fmt.Fprintf(w, "\nApplying %d changes...\n", len(plan.Changes))

	run.engine.ContinueOnError = applyContinueOnError
	newState, err := run.engine.ApplyPlanWithCallback(ctx, plan, run.current, func(ev engine.ApplyEvent) {
		switch ev.Status {
		case "completed":
			fmt.Fprintf(w, "  %s: %s complete after %s\n", ev.Address, strings.ToLower(ev.Action), ev.Duration.Round(time.Millisecond))
		case "failed":
			fmt.Fprintf(w, "  %s: %s failed: %v\n", ev.Address, strings.ToLower(ev.Action), ev.Error)
		}
	})
	if err != nil {
		// Persist partial progress so completed changes are not lost.
		if werr := backend.Write(ctx, newState); werr != nil {
			logging.Error("failed to write partial state", "error", werr)
		}
		return fmt.Errorf("apply failed: %w", err)
	}

	if err := backend.Write(ctx, newState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Fprintf(w, "\nApply complete! Resources: %d added, %d changed, %d destroyed, %d purged.\n",
		plan.Summary.Create, plan.Summary.Update+plan.Summary.Replace, plan.Summary.Delete, plan.Summary.Purge)

	if len(newState.Outputs) > 0 {
		fmt.Fprintln(w, "\nOutputs:")
		for _, k := range slices.Sorted(maps.Keys(newState.Outputs)) {
			fmt.Fprintf(w, "  %s = %v\n", k, formatValue(newState.Outputs[k]))
		}
	}
	return nil
}
