package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/picklr-io/sweep/internal/ir"
	"github.com/picklr-io/sweep/internal/state"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a new sweep project",
	Long:  `Creates a new sweep project with default configuration files.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

const projectTemplate = `amends "pkl:Project"
`

const mainTemplate = `// sweep configuration

credentials = new Listing {
  // new { name = "prod"; profile = "prod"; region = "us-east-1" }
}

resources = new Listing {
  // new {
  //   type = "aws_rrset"
  //   name = "A www.example.com."
  //   properties = new Mapping {
  //     ["zone"] = "example.com."
  //     ["ttl"] = 300
  //     ["value"] = new Listing { "192.0.2.10" }
  //   }
  // }
}

purges = new Listing {
  // new { type = "aws_rrset"; purge = true }
  // new { type = "user"; purge = true; unlessSystemPrincipal = true }
}

outputs = new Mapping {}
`

func runInit(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	if err := os.MkdirAll(filepath.Join(dir, stateDir), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", stateDir, err)
	}

	files := []struct{ name, content string }{
		{"PklProject", projectTemplate},
		{defaultEntryPoint, mainTemplate},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(f.content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		fmt.Fprintf(w, "Created %s\n", path)
	}

	statePath := filepath.Join(dir, stateDir, stateFile)
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		if err := state.NewManager(statePath, nil).Write(cmd.Context(), &ir.State{Version: 1}); err != nil {
			return err
		}
		fmt.Fprintf(w, "Created %s\n", statePath)
	}

	fmt.Fprintln(w, "\nsweep initialized successfully!")
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  1. Edit main.pkl to declare resources and purges")
	fmt.Fprintln(w, "  2. Run 'sweep plan' to see what would change")
	fmt.Fprintln(w, "  3. Run 'sweep apply' to reconcile")
	return nil
}
