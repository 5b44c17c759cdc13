// Triaged watches a log warehouse for new errors, diagnoses them with a
// language model and either opens a pull request with the fix or files an
// issue for a human.
//
// Usage:
//
//	# Run the poll loop and the status server
//	triaged run --config ~/.config/triaged/config.yaml
//
//	# Run a single cycle and print the report
//	triaged once
//
//	# Check which paths the policy would block
//	triaged policy check .github/workflows/ci.yml src/app.ts
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "triaged",
	Short: "Autonomous error triage and remediation",
	Long: `triaged polls a log warehouse for new ERROR and CRITICAL events,
asks a language model for a diagnosis and a whole-file patch, and then
opens a pull request or files an issue. Patches touching protected paths
are never applied.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $TRIAGED_CONFIG or ~/.config/triaged/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "triaged by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}
