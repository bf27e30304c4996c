package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/picklr-io/sweep/internal/ir"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// colorize returns code unless colors are disabled.
func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

func actionSymbol(change *ir.ResourceChange) string {
	switch change.Action {
	case ir.ActionCreate:
		return "+"
	case ir.ActionDelete:
		return "-"
	case ir.ActionReplace:
		return "-/+"
	case ir.ActionNoop:
		return " "
	default:
		return "~"
	}
}

func actionColor(action string) string {
	switch action {
	case ir.ActionCreate:
		return colorize(colorGreen)
	case ir.ActionDelete:
		return colorize(colorRed)
	case ir.ActionUpdate, ir.ActionReplace:
		return colorize(colorYellow)
	default:
		return colorize(colorReset)
	}
}

// describeChange is the verb shown in a change header.
func describeChange(change *ir.ResourceChange) string {
	switch {
	case change.Purge:
		return "purged (not declared)"
	case change.Action == ir.ActionDelete && change.Desired != nil:
		return "deleted (ensure = absent)"
	case change.Action == ir.ActionDelete:
		return "deleted (removed from configuration)"
	case change.Action == ir.ActionCreate:
		return "created"
	case change.Action == ir.ActionUpdate:
		return "updated in-place"
	case change.Action == ir.ActionReplace:
		return "replaced"
	default:
		return "left unchanged"
	}
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(w io.Writer, plan *ir.Plan) {
	reset := colorize(colorReset)
	for _, change := range plan.Changes {
		color := actionColor(change.Action)
		res := change.Resource()

		fmt.Fprintf(w, "\n%s  # %s will be %s%s\n", color, change.Address, describeChange(change), reset)
		if res == nil {
			continue
		}
		fmt.Fprintf(w, "%s  %s resource %q %q {\n", color, actionSymbol(change), res.Type, res.Name)

		switch {
		case len(change.Diff) > 0:
			renderPropertyDiff(w, change.Diff, color)
		case change.Desired != nil && change.Prior != nil:
			renderInlineDiff(w, change.Prior.Properties, change.Desired.Properties, color)
		default:
			fmt.Fprintf(w, "%s      ...\n", color)
		}
		fmt.Fprintf(w, "%s    }%s\n", color, reset)
	}
}

// renderPropertyDiff prints structured property diffs in key order.
func renderPropertyDiff(w io.Writer, diff map[string]*ir.PropertyDiff, color string) {
	reset := colorize(colorReset)
	for _, key := range slices.Sorted(maps.Keys(diff)) {
		d := diff[key]
		switch d.Action {
		case "create":
			fmt.Fprintf(w, "%s      + %s = %v%s\n", colorize(colorGreen), key, formatValue(d.After), reset)
		case "delete":
			fmt.Fprintf(w, "%s      - %s = %v%s\n", colorize(colorRed), key, formatValue(d.Before), reset)
		case "update":
			fmt.Fprintf(w, "%s      ~ %s = %v -> %v%s\n", colorize(colorYellow), key, formatValue(d.Before), formatValue(d.After), reset)
		default:
			fmt.Fprintf(w, "%s        %s = %v\n", color, key, formatValue(d.After))
		}
	}
}

// renderInlineDiff compares prior and desired property maps and prints a diff.
func renderInlineDiff(w io.Writer, prior, desired map[string]any, color string) {
	reset := colorize(colorReset)
	keys := make(map[string]bool)
	for k := range prior {
		keys[k] = true
	}
	for k := range desired {
		keys[k] = true
	}

	for _, k := range slices.Sorted(maps.Keys(keys)) {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		switch {
		case !inPrior:
			fmt.Fprintf(w, "%s      + %s = %v%s\n", colorize(colorGreen), k, formatValue(desiredVal), reset)
		case !inDesired:
			fmt.Fprintf(w, "%s      - %s = %v%s\n", colorize(colorRed), k, formatValue(priorVal), reset)
		case fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal):
			fmt.Fprintf(w, "%s      ~ %s = %v -> %v%s\n", colorize(colorYellow), k, formatValue(priorVal), formatValue(desiredVal), reset)
		default:
			fmt.Fprintf(w, "%s        %s = %v\n", color, k, formatValue(desiredVal))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(w io.Writer, plan *ir.Plan) {
	fmt.Fprintln(w, "\nPlan Summary:")
	fmt.Fprintf(w, "  Create:  %d\n", plan.Summary.Create)
	fmt.Fprintf(w, "  Update:  %d\n", plan.Summary.Update)
	fmt.Fprintf(w, "  Replace: %d\n", plan.Summary.Replace)
	fmt.Fprintf(w, "  Delete:  %d\n", plan.Summary.Delete)
	fmt.Fprintf(w, "  Purge:   %d\n", plan.Summary.Purge)
	fmt.Fprintf(w, "  NoOp:    %d\n", plan.Summary.NoOp)
}

// pendingChanges reports whether the plan would touch anything.
func pendingChanges(plan *ir.Plan) bool {
	for _, c := range plan.Changes {
		if c.Action != ir.ActionNoop {
			return true
		}
	}
	return false
}
