package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "server",
	Short:   "Multi-agent medical triage and consultation engine",
	Long:    "server runs the triage/consultation orchestration engine: serve its HTTP API, replay an evaluation dataset against it, or ingest clinic knowledge documents offline.",
	Version: version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file (optional; defaults apply if absent)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(ingestCmd)
}

// HandleError prints the error and exits non-zero, the CLI-wide error exit
// path every subcommand's RunE funnels into.
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}
