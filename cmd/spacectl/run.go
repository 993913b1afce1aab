package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runspace/core/pkg/protocol"
	"github.com/runspace/core/pkg/runservice"
	"github.com/runspace/core/pkg/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit, resume, and inspect runs",
	}

	cmd.AddCommand(newRunSubmitCmd())
	cmd.AddCommand(newRunResumeCmd())
	cmd.AddCommand(newRunListCmd())
	cmd.AddCommand(newRunGetCmd())
	cmd.AddCommand(newRunCancelCmd())

	return cmd
}

func newRunSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <space-id> <batch.json>",
		Short: "Submit a batch of operations to a space",
		Long:  "Reads a batch envelope (spec §6 \"Batch envelope (in)\") from a JSON file and runs it against the given space.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spaceID, batchPath := args[0], args[1]

			raw, err := os.ReadFile(batchPath)
			if err != nil {
				return fmt.Errorf("reading batch file %q: %w", batchPath, err)
			}

			var envelope protocol.Envelope
			if err := json.Unmarshal(raw, &envelope); err != nil {
				return fmt.Errorf("parsing batch file %q: %w", batchPath, err)
			}

			if issues := protocol.ValidateEnvelope(envelope); len(issues) > 0 {
				for _, issue := range issues {
					fmt.Fprintln(os.Stderr, issue.String())
				}
				return fmt.Errorf("batch envelope failed validation (%d issue(s))", len(issues))
			}

			st, _, svc, err := openRuntime()
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := svc.Create(cmd.Context(), spaceID, envelope.Operations)
			if err != nil {
				return fmt.Errorf("submitting run: %w", err)
			}

			printRun(run)
			return nil
		},
	}
}

func newRunResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id> <operation-id> <approved|denied> [reason]",
		Short: "Resolve a run suspended on an approval gate",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, operationID, verdict := args[0], args[1], strings.ToLower(args[2])
			if verdict != "approved" && verdict != "denied" {
				return fmt.Errorf("third argument must be %q or %q, got %q", "approved", "denied", args[2])
			}
			var reason string
			if len(args) == 4 {
				reason = args[3]
			}

			st, _, svc, err := openRuntime()
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := svc.Resume(cmd.Context(), runID, runservice.ResumeDecision{
				OperationID: operationID,
				Decision:    verdict,
				Reason:      reason,
			})
			if err != nil {
				return fmt.Errorf("resuming run: %w", err)
			}

			printRun(run)
			return nil
		},
	}
}

func newRunListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list <space-id>",
		Short: "List runs for a space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, svc, err := openRuntime()
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := svc.List(cmd.Context(), args[0], store.RunFilter{Status: status})
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Println("no runs found")
				return nil
			}

			fmt.Printf("%-16s %-18s %-12s\n", "ID", "STATUS", "STARTED")
			for _, r := range runs {
				fmt.Printf("%-16s %-18s %-12s\n", r.ID, r.Status, r.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	return cmd
}

func newRunGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show a run's events and status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, svc, err := openRuntime()
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("getting run %q: %w", args[0], err)
			}

			printRun(run)
			return nil
		},
	}
}

func newRunCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a running or awaiting-approval run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, svc, err := openRuntime()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := svc.Cancel(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("cancelling run %q: %w", args[0], err)
			}

			fmt.Printf("run %s cancelled\n", args[0])
			return nil
		},
	}
}

func printRun(run *store.Run) {
	fmt.Printf("run:    %s\n", run.ID)
	fmt.Printf("status: %s\n", run.Status)
	for _, e := range run.Events {
		line := fmt.Sprintf("  [%s] %s success=%t", e.Type, e.OperationID, e.Success)
		if e.Error != "" {
			line += " error=" + e.Error
		}
		fmt.Println(line)
	}
	if run.PendingApproval != nil {
		fmt.Printf("awaiting approval on %s (%s): %s\n", run.PendingApproval.OperationID, run.PendingApproval.OperationType, run.PendingApproval.Reason)
	}
}
