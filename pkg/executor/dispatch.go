package executor

import (
	"context"
	"sort"

	"github.com/runspace/core/pkg/protocol"
	"github.com/runspace/core/pkg/sandbox"
)

// dispatch sends one Allow-decided operation to the sandbox and turns its
// structured result into the matching Event. A sandbox-level failure (a
// missing file, a path outside the workspace, an exec that could not
// start) never becomes a Go error here — it surfaces as a success=false
// event of the operation's own type, and the batch continues (spec §4.4
// "Partial-failure semantics").
func dispatch(ctx context.Context, sb Sandbox, pe PolicyEngine, op protocol.Operation) protocol.Event {
	switch op.Type {
	case protocol.OpMessage:
		return protocol.NewMessageEvent(op.ID)

	case protocol.OpCreateFile:
		res := sb.CreateFile(op.Path, op.Content, op.EffectiveEncoding(), op.Overwrite)
		e := baseFileEvent(protocol.EventCreateFile, op, res)
		if res.Success {
			bw := res.BytesWritten
			e.BytesWritten = &bw
		}
		return e

	case protocol.OpReadFile:
		res := sb.ReadFile(op.Path, op.EffectiveEncoding())
		e := baseFileEvent(protocol.EventReadFile, op, res)
		if res.Success {
			content := res.Content
			encoding := res.Encoding
			size := res.Size
			e.Content = &content
			e.Encoding = &encoding
			e.Size = &size
		}
		return e

	case protocol.OpEditFile:
		res := sb.EditFile(op.Path, op.Edits)
		e := baseFileEvent(protocol.EventEditFile, op, res)
		applied := res.EditsApplied
		e.EditsApplied = &applied
		return e

	case protocol.OpDeleteFile:
		res := sb.DeleteFile(op.Path)
		return baseFileEvent(protocol.EventDeleteFile, op, res)

	case protocol.OpShell:
		timeoutMS := pe.EffectiveTimeout(op.TimeoutMS)
		res := sb.Exec(ctx, op.Command, sandbox.ExecOptions{
			Cwd:       op.Cwd,
			Env:       envPairs(op.Env),
			TimeoutMS: timeoutMS,
		})
		e := protocol.Event{Type: protocol.EventShell, OperationID: op.ID, Timestamp: protocol.Now().UTC()}
		e.Success = res.Success
		e.Command = op.Command
		exitCode := res.ExitCode
		duration := res.DurationMS
		e.ExitCode = &exitCode
		e.Stdout = res.Stdout
		e.Stderr = res.Stderr
		e.DurationMS = &duration
		e.TimedOut = res.TimedOut
		return e

	default:
		e := protocol.Event{Type: protocol.EventError, OperationID: op.ID, Timestamp: protocol.Now().UTC()}
		e.Category = protocol.ErrorSystem
		e.Message = "unrecognized operation type reached dispatch"
		return e
	}
}

func baseFileEvent(eventType string, op protocol.Operation, res sandbox.FileResult) protocol.Event {
	e := protocol.Event{Type: eventType, OperationID: op.ID, Timestamp: protocol.Now().UTC()}
	e.Success = res.Success
	e.Path = op.Path
	if !res.Success {
		e.Error = res.Error
	}
	return e
}

// envPairs converts a per-operation env map to sorted "K=V" pairs, sorted
// for determinism (map iteration order is not stable across runs, and
// events built from it should be reproducible for identical input).
func envPairs(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return pairs
}
