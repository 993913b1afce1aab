package policy

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/runspace/core/pkg/protocol"
)

// Evaluate resolves one Operation against a Policy into a Decision,
// following a fixed evaluation order: the outcome for an operation that
// trips more than one rule (an allowlisted command containing a blocked
// substring, say) depends on it. For shell, approvalRequired is checked
// ahead of allowedCommands (see evaluateShell).
func Evaluate(p Policy, op protocol.Operation) Decision {
	var d Decision
	switch {
	case op.Type == protocol.OpMessage:
		d = allow()
	case op.IsFilesystem():
		d = evaluateFilesystem(p, op)
	case op.Type == protocol.OpShell:
		d = evaluateShell(p, op)
	default:
		d = deny("protocol.unknownType", fmt.Sprintf("unknown operation type %q", op.Type))
	}

	if d.Kind != Allow {
		slog.Debug("policy decision", "operationType", op.Type, "kind", decisionKindString(d.Kind), "tag", d.PolicyTag, "reason", d.Reason)
	}
	return d
}

// Evaluate is the method form of the package-level Evaluate function, so a
// resolved Policy value satisfies any interface expecting an
// Evaluate(protocol.Operation) Decision method (the run executor's
// PolicyEngine, in particular).
func (p Policy) Evaluate(op protocol.Operation) Decision {
	return Evaluate(p, op)
}

func decisionKindString(k DecisionKind) string {
	switch k {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case RequireApproval:
		return "requireApproval"
	default:
		return "unknown"
	}
}

func evaluateFilesystem(p Policy, op protocol.Operation) Decision {
	fs := p.Filesystem

	if !fs.Enabled {
		return deny("filesystem.enabled", "Filesystem access is disabled")
	}

	if op.IsWrite() && fs.ReadOnly {
		return deny("filesystem.readOnly", "Filesystem is read-only")
	}

	if len(fs.BlockedPaths) > 0 && anyGlobMatches(fs.BlockedPaths, op.Path) {
		return deny("filesystem.blockedPaths", fmt.Sprintf("Path %q is blocked by policy", op.Path))
	}

	if len(fs.AllowedPaths) > 0 && !anyGlobMatches(fs.AllowedPaths, op.Path) {
		return deny("filesystem.allowedPaths", fmt.Sprintf("Path %q is not in the allowed set", op.Path))
	}

	if op.Type == protocol.OpCreateFile && int64(len(op.Content)) > fs.MaxFileSize {
		return deny("filesystem.maxFileSize", fmt.Sprintf("Content of %d bytes exceeds the maximum file size of %d bytes", len(op.Content), fs.MaxFileSize))
	}

	return allow()
}

func evaluateShell(p Policy, op protocol.Operation) Decision {
	sh := p.Shell

	if !sh.Enabled {
		return deny("shell.enabled", "Shell access is disabled")
	}

	for _, blocked := range sh.BlockedPatterns {
		if strings.Contains(op.Command, blocked) {
			return deny("shell.blockedPatterns", fmt.Sprintf("Command contains the blocked substring %q", blocked))
		}
	}

	// approvalRequired is checked ahead of the allowlist: a command gated
	// for human approval (e.g. "rm -rf") is not expected to also appear on
	// the base-command allowlist, so approval must win rather than being
	// shadowed by an allowedCommands deny.
	for _, gated := range sh.ApprovalRequired {
		if strings.Contains(op.Command, gated) {
			return requireApproval("shell.approvalRequired", fmt.Sprintf("Command contains %q, which requires approval", gated))
		}
	}

	if len(sh.AllowedCommands) > 0 {
		base := baseToken(op.Command)
		if !containsExact(sh.AllowedCommands, base) {
			return deny("shell.allowedCommands",
				fmt.Sprintf("Command %q is not an allowed command", base),
				"Allowed commands: "+strings.Join(sh.AllowedCommands, ", "))
		}
	}

	return allow()
}

// baseToken extracts the first whitespace-delimited token of a shell
// command after trimming, per spec §9's preserved ambiguity: only ASCII
// space is a delimiter, and only a single leading/trailing trim is applied
// — a tab immediately after the base command is not a delimiter.
func baseToken(command string) string {
	trimmed := strings.TrimSpace(command)
	if idx := strings.IndexByte(trimmed, ' '); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

func containsExact(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
