package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/picklr-io/sweep/internal/engine"
	"github.com/picklr-io/sweep/internal/ir"
)

var graphCmd = &cobra.Command{
	Use:   "graph [path]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Purge declarations appear as dashed nodes that
run after every declared resource of their type.

  sweep graph | dot -Tpng > graph.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	p, err := resolveProject(args)
	if err != nil {
		return err
	}

	cfg, err := p.evaluator().LoadConfig(cmd.Context(), p.entry, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return writeGraph(cmd.OutOrStdout(), cfg)
}

// writeGraph renders the configuration's dependency graph as DOT.
func writeGraph(w io.Writer, cfg *ir.Config) error {
	resources := engine.ExpandForEach(cfg.Resources)
	dag, err := engine.BuildDAG(resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Fprintln(w, "digraph sweep {")
	fmt.Fprintln(w, "  rankdir = \"BT\";")
	fmt.Fprintln(w, "  node [shape = rect];")
	fmt.Fprintln(w)

	order := dag.CreationOrder()
	for _, addr := range order {
		fmt.Fprintf(w, "  %q;\n", addr)
	}
	for _, decl := range cfg.Purges {
		if decl.Purge {
			fmt.Fprintf(w, "  %q [style = dashed];\n", purgeNode(decl))
		}
	}
	fmt.Fprintln(w)

	for _, addr := range order {
		for _, dep := range dag.Dependencies(addr) {
			fmt.Fprintf(w, "  %q -> %q;\n", addr, dep)
		}
	}
	for _, decl := range cfg.Purges {
		if !decl.Purge {
			continue
		}
		for _, res := range resources {
			if res.Type == decl.Type {
				fmt.Fprintf(w, "  %q -> %q;\n", purgeNode(decl), engine.ResourceAddr(res))
			}
		}
	}

	fmt.Fprintln(w, "}")
	return nil
}

func purgeNode(decl *ir.Purge) string {
	if decl.Account != "" {
		return fmt.Sprintf("purge %s (%s)", decl.Type, decl.Account)
	}
	return "purge " + decl.Type
}
