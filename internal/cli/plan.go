package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/picklr-io/sweep/internal/engine"
	"github.com/picklr-io/sweep/internal/eval"
	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/provider"
	"github.com/picklr-io/sweep/internal/state"
)

var (
	planOutFile    string
	planTargets    []string
	planProperties map[string]string
)

var planCmd = &cobra.Command{
	Use:   "plan [path]",
	Short: "Generate an execution plan",
	Long: `Generates an execution plan showing what actions sweep will take
to reach the desired state defined in your configuration.

The plan shows:
  • Resources to be created or updated (with diff)
  • Resources declared absent or removed from configuration
  • Unmanaged instances that purge declarations will remove`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write the plan as YAML to this file")
	planCmd.Flags().StringSliceVar(&planTargets, "target", nil, "Limit planning to these addresses and their dependencies")
	planCmd.Flags().StringToStringVarP(&planProperties, "prop", "D", nil, "Set external properties (format: key=value)")
}

// planRun holds everything produced while computing a plan.
type planRun struct {
	cfg     *ir.Config
	current *ir.State
	engine  *engine.Engine
	plan    *ir.Plan
}

// computePlan loads configuration and state and plans the changes.
func computePlan(ctx context.Context, w io.Writer, p *project, evaluator *eval.Evaluator, backend state.Backend, props map[string]string, targets []string) (*planRun, error) {
	fmt.Fprint(w, "Loading configuration... ")
	cfg, err := evaluator.LoadConfig(ctx, p.entry, props)
	if err != nil {
		fmt.Fprintln(w, "FAILED")
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Fprintln(w, "OK")

	current, err := backend.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	registry := provider.NewRegistry()
	if err := loadRequiredProviders(registry, cfg, current); err != nil {
		return nil, err
	}
	eng := newEngine(registry, cfg)

	fmt.Fprint(w, "Calculating plan... ")
	plan, err := eng.CreatePlanWithTargets(ctx, cfg, current, targets)
	if err != nil {
		fmt.Fprintln(w, "FAILED")
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Fprintln(w, "OK")

	return &planRun{cfg: cfg, current: current, engine: eng, plan: plan}, nil
}

func runPlan(cmd *cobra.Command, args []string) error {
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

	run, err := computePlan(ctx, w, p, evaluator, backend, planProperties, planTargets)
	if err != nil {
		return err
	}
	plan := run.plan

	if pendingChanges(plan) {
		fmt.Fprintln(w, "\nsweep will perform the following actions:")
		renderPlanChanges(w, plan)
	} else {
		fmt.Fprintln(w, "\nNo changes. Infrastructure is up-to-date.")
	}
	renderPlanSummary(w, plan)

	if planOutFile != "" {
		if err := writePlanFile(planOutFile, plan); err != nil {
			return err
		}
		fmt.Fprintf(w, "\nPlan saved to %s\n", planOutFile)
	}
	return nil
}

// writePlanFile saves the plan as YAML.
func writePlanFile(path string, plan *ir.Plan) error {
	data, err := yaml.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan to %s: %w", path, err)
	}
	return nil
}
