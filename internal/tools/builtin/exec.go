// Package builtin provides the tools Parley ships with: sandboxed code
// execution, web search, and document capture.
package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/sandbox"
	"github.com/parleyhq/parley/internal/tools"
)

const executeCodeSchema = `{
	"type": "object",
	"properties": {
		"language": {
			"type": "string",
			"enum": ["python", "nodejs", "go", "bash"],
			"description": "Programming language to execute"
		},
		"code": {
			"type": "string",
			"description": "The code to execute"
		},
		"stdin": {
			"type": "string",
			"description": "Optional standard input to provide to the program"
		},
		"files": {
			"type": "object",
			"additionalProperties": {"type": "string"},
			"description": "Optional additional files (filename -> content)"
		},
		"timeout": {
			"type": "integer",
			"description": "Execution timeout in seconds (default: 30, max: 300)",
			"minimum": 1,
			"maximum": 300
		}
	},
	"required": ["language", "code"]
}`

// ExecuteCode builds the execute_code descriptor. The handler acquires the
// turn's sandbox via the manager; a provisioning failure becomes a failed
// tool result, never a failed turn.
func ExecuteCode(manager *sandbox.Manager, enabled func() bool, limit *tools.RateLimit, execTimeout time.Duration) *tools.Descriptor {
	return &tools.Descriptor{
		Name:         "execute_code",
		Description:  "Execute code in a secure sandboxed environment. Supports Python 3, Node.js, Go, and Bash. Code runs isolated with resource limits.",
		Schema:       json.RawMessage(executeCodeSchema),
		CostUnits:    5,
		RateLimit:    limit,
		Available:    enabled,
		NeedsSandbox: true,
		Handler: func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
			session, ok := tools.SessionFromContext(ctx)
			if !ok {
				return &tools.Result{Content: "no session in execution context", IsError: true}, nil
			}

			var req sandbox.ExecRequest
			if err := json.Unmarshal(input, &req); err != nil {
				return &tools.Result{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
			}
			if req.Timeout <= 0 {
				req.Timeout = int(execTimeout.Seconds())
			}
			if req.Timeout > 300 {
				req.Timeout = 300
			}

			handle, err := manager.Acquire(ctx, session.ID, session.User.ID)
			if err != nil {
				var pe *sandbox.ProvisionError
				if errors.As(err, &pe) {
					return &tools.Result{Content: "Sandbox unavailable: " + pe.Reason, IsError: true}, nil
				}
				return &tools.Result{Content: "Sandbox unavailable", IsError: true}, nil
			}

			execCtx, cancel := context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Second)
			defer cancel()

			result, err := manager.Execute(execCtx, handle, req)
			if err != nil {
				var ee *sandbox.ExecutionError
				if errors.As(err, &ee) {
					return &tools.Result{Content: formatExecResult(result), IsError: true}, nil
				}
				return &tools.Result{Content: fmt.Sprintf("Execution failed: %v", err), IsError: true}, nil
			}
			return &tools.Result{Content: formatExecResult(result)}, nil
		},
	}
}

func formatExecResult(result *sandbox.ExecResult) string {
	if result == nil {
		return "no output"
	}

	var sb strings.Builder
	if result.Timeout {
		sb.WriteString("Execution timed out\n")
	}
	if result.Stdout != "" {
		sb.WriteString("STDOUT:\n")
		sb.WriteString(result.Stdout)
		if !strings.HasSuffix(result.Stdout, "\n") {
			sb.WriteString("\n")
		}
	}
	if result.Stderr != "" {
		sb.WriteString("STDERR:\n")
		sb.WriteString(result.Stderr)
		if !strings.HasSuffix(result.Stderr, "\n") {
			sb.WriteString("\n")
		}
	}
	sb.WriteString(fmt.Sprintf("Exit code: %d", result.ExitCode))
	return sb.String()
}
