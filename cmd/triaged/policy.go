package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/triaged/internal/diagnosis"
	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/policy"
)

var policyFile string

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the protected path policy",
}

var policyCheckCmd = &cobra.Command{
	Use:   "check PATH...",
	Short: "Report which paths the policy would block",
	Long: `Evaluate repository-relative paths against the protected path rules,
as if they were the files of one patch.

Rules come from policy.file when set (or --file), otherwise from
policy.protected_paths. The command exits non-zero when the patch would
be blocked.

Examples:
  triaged policy check src/app.ts
  triaged policy check --file ./policy.yaml .github/workflows/ci.yml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPolicyCheck,
}

func init() {
	policyCheckCmd.Flags().StringVar(&policyFile, "file", "", "Policy YAML file (overrides policy.file)")
	policyCmd.AddCommand(policyCheckCmd)
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := policy.NewStore(cfg.Policy.ProtectedPaths, logging.NewNop())
	file := cfg.Policy.File
	if policyFile != "" {
		file = policyFile
	}
	if file != "" {
		if err := store.Load(cmd.Context(), file); err != nil {
			return fmt.Errorf("failed to load policy: %w", err)
		}
	}
	return checkPaths(cmd.OutOrStdout(), store.Gate(), args)
}

// checkPaths prints one verdict per path and returns an error when the
// combined patch is blocked.
func checkPaths(w io.Writer, gate *policy.Gate, paths []string) error {
	patch := make(diagnosis.Patch, len(paths))
	for _, p := range paths {
		patch[p] = ""
		if rule, blocked := gate.Match(p); blocked {
			fmt.Fprintf(w, "BLOCKED  %s (rule %q)\n", p, rule)
		} else {
			fmt.Fprintf(w, "allowed  %s\n", p)
		}
	}

	d := gate.Evaluate(patch)
	if d.Blocked {
		return fmt.Errorf("patch blocked: %s matches protected rule %q", d.MatchedPath, d.MatchedRule)
	}
	return nil
}
