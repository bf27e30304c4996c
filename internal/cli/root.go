package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/picklr-io/sweep/internal/logging"
	"github.com/picklr-io/sweep/internal/metrics"
)

var (
	logLevel      string
	logFormat     string
	noColor       bool
	metricsFile   string
	statePath     string
	stateBackend  string
	backendConfig map[string]string

	// recorder is set when --metrics-file is given.
	recorder *metrics.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Declarative purging of unmanaged resources",
	Long: `Sweep reconciles declared PKL resources against live systems and removes
the instances of a type that nothing declares.

A purge declaration names a resource type. Every live instance of that type
that is not declared, not kept by the type's safety check and not shielded
by an identifier or system-principal filter is planned for deletion.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Configure(os.Stderr, logLevel, logFormat)
		if metricsFile != "" {
			recorder = metrics.New()
		}
		return nil
	},
}

// Execute runs the root command and flushes metrics when requested.
func Execute() error {
	err := rootCmd.Execute()
	if recorder != nil {
		if werr := recorder.WriteTextfile(metricsFile); werr != nil {
			err = errors.Join(err, werr)
		}
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format to this path")
	flags.StringVar(&statePath, "state", "", "Path of the local state file (default .sweep/state.pkl)")
	flags.StringVar(&stateBackend, "backend", "local", "State backend (local, s3)")
	flags.StringToStringVar(&backendConfig, "backend-config", nil, "Backend settings (format: key=value)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(versionCmd)
}
