package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/logging"
	"github.com/picklr-io/sweep/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage sweep state",
	Long:  `Commands for inspecting and modifying sweep state.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show attributes of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateMvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "Move a resource to a new address",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateMv,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from state (does not destroy)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateMvCmd)
	stateCmd.AddCommand(stateRmCmd)
}

// openState opens the state backend of the project in the working directory.
func openState(cmd *cobra.Command) (state.Backend, error) {
	p, err := resolveProject(nil)
	if err != nil {
		return nil, err
	}
	return p.state(cmd.Context(), p.evaluator())
}

func runStateList(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	backend, err := openState(cmd)
	if err != nil {
		return err
	}

	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(s.Resources) == 0 {
		fmt.Fprintln(w, "No resources in state.")
		return nil
	}

	fmt.Fprintf(w, "State version: %d, serial: %d, lineage: %s\n\n", s.Version, s.Serial, s.Lineage)
	for _, res := range s.Resources {
		fmt.Fprintf(w, "  %s (provider: %s)\n", res.Address(), res.Provider)
	}
	fmt.Fprintf(w, "\nTotal: %d resource(s)\n", len(s.Resources))
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	backend, err := openState(cmd)
	if err != nil {
		return err
	}

	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	res := findState(s, args[0])
	if res == nil {
		return fmt.Errorf("resource %s not found in state", args[0])
	}

	fmt.Fprintf(w, "# %s\n", res.Address())
	fmt.Fprintf(w, "  provider = %s\n", res.Provider)
	fmt.Fprintf(w, "  type     = %s\n", res.Type)
	fmt.Fprintf(w, "  name     = %s\n", res.Name)

	if len(res.Inputs) > 0 {
		fmt.Fprintln(w, "\n  Inputs:")
		for _, k := range slices.Sorted(maps.Keys(res.Inputs)) {
			fmt.Fprintf(w, "    %s = %s\n", k, formatValue(res.Inputs[k]))
		}
	}
	if len(res.Outputs) > 0 {
		fmt.Fprintln(w, "\n  Outputs:")
		for _, k := range slices.Sorted(maps.Keys(res.Outputs)) {
			fmt.Fprintf(w, "    %s = %s\n", k, formatValue(res.Outputs[k]))
		}
	}
	if len(res.Dependencies) > 0 {
		fmt.Fprintf(w, "\n  dependencies = %s\n", strings.Join(res.Dependencies, ", "))
	}
	return nil
}

func runStateMv(cmd *cobra.Command, args []string) error {
	src, dst := args[0], args[1]
	typ, name, ok := strings.Cut(dst, ".")
	if !ok || typ == "" || name == "" {
		return fmt.Errorf("invalid destination address %q, expected format type.name", dst)
	}

	err := mutateState(cmd, func(s *ir.State) error {
		if findState(s, dst) != nil {
			return fmt.Errorf("destination %s already exists in state", dst)
		}
		res := findState(s, src)
		if res == nil {
			return fmt.Errorf("resource %s not found in state", src)
		}
		res.Type, res.Name = typ, name
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to %s\n", src, dst)
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	target := args[0]
	err := mutateState(cmd, func(s *ir.State) error {
		before := len(s.Resources)
		s.Resources = slices.DeleteFunc(s.Resources, func(res *ir.ResourceState) bool {
			return res.Address() == target
		})
		if len(s.Resources) == before {
			return fmt.Errorf("resource %s not found in state", target)
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from state (resource was NOT destroyed)\n", target)
	return nil
}

// mutateState applies fn to the locked state and writes it back with a
// bumped serial.
func mutateState(cmd *cobra.Command, fn func(*ir.State) error) error {
	backend, err := openState(cmd)
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

	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if err := fn(s); err != nil {
		return err
	}
	s.Serial++
	if err := backend.Write(cmd.Context(), s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

func findState(s *ir.State, addr string) *ir.ResourceState {
	for _, res := range s.Resources {
		if res.Address() == addr {
			return res
		}
	}
	return nil
}
