package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/boshu2/agentops-guard/internal/proof"
)

var proofProject string

var proofCmd = &cobra.Command{
	Use:   "proof",
	Short: "Show and record the verification status",
	Long: `The proof status records whether the current change set has been
verified. It is one of:

  pending              nothing verified yet (also the default)
  needs-verification   work is ready for review
  verified             signed off; a Guardian may be dispatched

Any file edit made outside an active Guardian session resets a verified
status to pending.

Examples:
  ao proof show
  ao proof set verified
  ao proof check && echo ready
  ao proof reset`,
}

var proofShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the proof status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, project, err := proofContext()
		if err != nil {
			return err
		}
		return showProof(os.Stdout, rt, project, time.Now())
	},
}

var proofSetCmd = &cobra.Command{
	Use:   "set <state>",
	Short: "Record a proof state",
	Long: `Record a proof state with the current time.

States: pending, needs-verification, verified`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"pending", "needs-verification", "verified"},
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := proof.ParseState(strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		rt, project, err := proofContext()
		if err != nil {
			return err
		}
		return setProof(os.Stdout, rt, project, state, time.Now())
	},
}

var proofCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Exit 3 unless the proof is verified and current",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, project, err := proofContext()
		if err != nil {
			return err
		}
		return checkProof(os.Stdout, rt, project, time.Now())
	},
}

var proofResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the proof status to pending",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, project, err := proofContext()
		if err != nil {
			return err
		}
		return setProof(os.Stdout, rt, project, proof.StatePending, time.Now())
	},
}

func init() {
	rootCmd.AddCommand(proofCmd)
	proofCmd.AddCommand(proofShowCmd)
	proofCmd.AddCommand(proofSetCmd)
	proofCmd.AddCommand(proofCheckCmd)
	proofCmd.AddCommand(proofResetCmd)

	proofCmd.PersistentFlags().StringVar(&proofProject, "project", "", "Project root (default: CLAUDE_PROJECT_DIR or cwd)")
}

func proofContext() (*guardRuntime, string, error) {
	rt, err := loadRuntime(false)
	if err != nil {
		return nil, "", err
	}
	project, err := resolveProject(proofProject)
	if err != nil {
		return nil, "", err
	}
	return rt, project, nil
}

// proofView is the machine-readable form of a proof status.
type proofView struct {
	Project   string      `json:"project" yaml:"project"`
	Path      string      `json:"path" yaml:"path"`
	State     proof.State `json:"state" yaml:"state"`
	Timestamp string      `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Age       string      `json:"age,omitempty" yaml:"age,omitempty"`
	Current   bool        `json:"current" yaml:"current"`
}

func newProofView(rt *guardRuntime, project string, st proof.Status, now time.Time) proofView {
	v := proofView{
		Project: project,
		Path:    rt.proofs.Path(project),
		State:   st.State,
		Current: rt.proofCurrent(st, now),
	}
	if st.Recorded() {
		v.Timestamp = st.Timestamp.UTC().Format(time.RFC3339)
		v.Age = st.Age(now).Round(time.Second).String()
	}
	return v
}

func showProof(w io.Writer, rt *guardRuntime, project string, now time.Time) error {
	st, err := rt.proofs.Get(project)
	if err != nil {
		return err
	}
	return outputProof(w, newProofView(rt, project, st, now), st)
}

func outputProof(w io.Writer, v proofView, st proof.Status) error {
	switch GetOutput() {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		return yaml.NewEncoder(w).Encode(v)
	}

	//nolint:errcheck // CLI output
	fmt.Fprintf(w, "Proof status: %s\n", st.Describe())
	//nolint:errcheck // CLI output
	fmt.Fprintf(w, "  File:    %s\n", v.Path)
	if v.Age != "" {
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, "  Age:     %s\n", v.Age)
	}
	if v.Current {
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, "  ✓ Guardian dispatch allowed")
	} else {
		//nolint:errcheck // CLI output
		fmt.Fprintln(w, "  ✗ Guardian dispatch blocked")
	}
	return nil
}

func setProof(w io.Writer, rt *guardRuntime, project string, state proof.State, now time.Time) error {
	st := proof.Status{State: state, Timestamp: now}
	path := rt.proofs.Path(project)
	if GetDryRun() {
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, "[dry-run] Would write %q to %s\n", strings.TrimSpace(st.Encode()), path)
		return nil
	}
	if err := rt.proofs.Set(project, st); err != nil {
		return err
	}
	VerbosePrintf("wrote %s\n", path)
	//nolint:errcheck // CLI output
	fmt.Fprintf(w, "✓ Proof status set to %s\n", state)
	return nil
}

func checkProof(w io.Writer, rt *guardRuntime, project string, now time.Time) error {
	st, err := rt.proofs.Get(project)
	if err != nil {
		return err
	}
	if rt.proofCurrent(st, now) {
		//nolint:errcheck // CLI output
		fmt.Fprintf(w, "✓ %s\n", st.Describe())
		return nil
	}
	if st.Verified() {
		return incomplete("proof status %s is older than the %s limit", st.Describe(), rt.policy.ProofMaxAge)
	}
	return incomplete("proof status is %s", st.Describe())
}
