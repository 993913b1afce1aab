// Package executor implements the run executor state machine: the batch
// driver that evaluates each operation against a policy, dispatches
// allowed operations to a sandbox, and assembles the resulting events. It
// is deliberately a plain function, not a stateful object with hidden
// continuation state — spec §9's "Suspension as value, not continuation"
// design note is load-bearing here: Run and Resume each take the full
// operation list and a start index and return a value, with no goroutines
// or channels carrying state between an initial run and its resume. This
// is a conscious departure from the teacher's own
// pkg/runtime/orchestrator_* channel-of-Event style.
package executor

import (
	"context"

	"github.com/runspace/core/pkg/policy"
	"github.com/runspace/core/pkg/protocol"
	"github.com/runspace/core/pkg/sandbox"
)

// Sandbox is the subset of sandbox.Sandbox the executor depends on,
// expressed as an interface so the executor can be exercised against a
// fake in tests without a container runtime (spec §9: "constructor-
// injected collaborators", not process-global singletons).
type Sandbox interface {
	CreateFile(path, content string, encoding protocol.Encoding, overwrite bool) sandbox.FileResult
	ReadFile(path string, encoding protocol.Encoding) sandbox.FileResult
	EditFile(path string, edits []protocol.Edit) sandbox.FileResult
	DeleteFile(path string) sandbox.FileResult
	Exec(ctx context.Context, command string, opts sandbox.ExecOptions) sandbox.ExecResult
}

// PolicyEngine is the subset of a resolved policy.Policy the executor
// depends on.
type PolicyEngine interface {
	Evaluate(op protocol.Operation) policy.Decision
	EffectiveTimeout(requestedMS *int) int64
}

// Status is the run's terminal (or suspended) status after one call to Run
// or Resume.
type Status string

const (
	StatusCompleted        Status = "completed"
	StatusAwaitingApproval Status = "awaiting_approval"
)

// PendingApproval describes the suspension point of an awaiting_approval
// result.
type PendingApproval struct {
	OperationID   string
	OperationType string
	Reason        string
	Details       protocol.ApprovalDetails
}

// Result is what one call to Run or Resume produces: the events emitted by
// this call only (the caller concatenates with any pre-suspension events),
// the terminal status, and — only when Status is AwaitingApproval — the
// suspension point.
type Result struct {
	Events  []protocol.Event
	Status  Status
	Pending *PendingApproval
}

// Run evaluates operations from index 0, the initial-submission entry
// point (spec §4.4 "Main loop (initial run)").
func Run(ctx context.Context, operations []protocol.Operation, sb Sandbox, pe PolicyEngine) Result {
	return execute(ctx, operations, 0, sb, pe, false)
}

// Decision is a resume instruction: an approve/deny verdict for the
// operation that suspended a run.
type Decision struct {
	OperationID string
	Approved    bool
	Reason      string
}

// Resume re-enters the main loop for a run in awaiting_approval, per spec
// §4.4 "Resume". A denied decision substitutes a policyDenied event for
// the pending operation and continues from the next index; an approved
// decision bypasses the policy check at the pending operation's index only
// — every later operation is evaluated fresh and can suspend again (the
// spec's Open Question is resolved in favor of literal re-evaluation, no
// special-casing).
//
// Resume returns an error only when operationID does not match any
// operation in the batch — a System-class failure per spec §7, since the
// caller (the run service) is expected to have already rejected resuming a
// run that isn't awaiting_approval.
func Resume(ctx context.Context, operations []protocol.Operation, sb Sandbox, pe PolicyEngine, decision Decision) (Result, error) {
	k := indexOfOperation(operations, decision.OperationID)
	if k < 0 {
		return Result{}, errOperationNotFound(decision.OperationID)
	}

	if !decision.Approved {
		reason := decision.Reason
		if reason == "" {
			reason = "Approval denied by user"
		}
		op := operations[k]
		denyEvent := protocol.NewPolicyDeniedEvent(op.ID, op.Type, reason, "")

		rest := execute(ctx, operations, k+1, sb, pe, false)
		rest.Events = append([]protocol.Event{denyEvent}, rest.Events...)
		return rest, nil
	}

	return execute(ctx, operations, k, sb, pe, true), nil
}

func execute(ctx context.Context, operations []protocol.Operation, startIndex int, sb Sandbox, pe PolicyEngine, bypassAtStart bool) Result {
	var events []protocol.Event

	for i := startIndex; i < len(operations); i++ {
		op := operations[i]

		var decision policy.Decision
		if bypassAtStart && i == startIndex {
			decision = policy.Decision{Kind: policy.Allow}
		} else {
			decision = pe.Evaluate(op)
		}

		switch decision.Kind {
		case policy.Deny:
			events = append(events, protocol.NewPolicyDeniedEvent(op.ID, op.Type, decision.Reason, decision.Suggestion))

		case policy.RequireApproval:
			details := approvalDetails(op, decision.PolicyTag)
			events = append(events, protocol.NewApprovalRequiredEvent(op.ID, op.Type, decision.Reason, details))
			return Result{
				Events: events,
				Status: StatusAwaitingApproval,
				Pending: &PendingApproval{
					OperationID:   op.ID,
					OperationType: op.Type,
					Reason:        decision.Reason,
					Details:       details,
				},
			}

		default: // Allow
			events = append(events, dispatch(ctx, sb, pe, op))
		}
	}

	return Result{Events: events, Status: StatusCompleted}
}

func approvalDetails(op protocol.Operation, policyTag string) protocol.ApprovalDetails {
	d := protocol.ApprovalDetails{Policy: policyTag}
	if op.Type == protocol.OpShell {
		cmd := op.Command
		d.Command = &cmd
	}
	if op.IsFilesystem() {
		p := op.Path
		d.Path = &p
	}
	return d
}

func indexOfOperation(operations []protocol.Operation, id string) int {
	for i, op := range operations {
		if op.ID == id {
			return i
		}
	}
	return -1
}
