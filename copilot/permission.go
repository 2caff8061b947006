package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Decision kinds understood by the subprocess.
const (
	PermissionApproved = "approved"
	PermissionDenied   = "denied-no-approval-rule-and-could-not-request-from-user"
)

// PermissionTimeout bounds how long a handler may deliberate before the
// request is denied.
const PermissionTimeout = 5 * time.Minute

// PermissionRequest is what the subprocess asks to be authorized.
type PermissionRequest struct {
	SessionID    string
	RequestID    string
	PermissionID string
	Kind         string // e.g. "shell", "write", "read", "url", "mcp"
	ToolName     string
	Details      json.RawMessage
}

// PermissionDecision is written back to the subprocess.
type PermissionDecision struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

// Approved reports whether the decision allows the action.
func (d PermissionDecision) Approved() bool {
	return d.Kind == PermissionApproved
}

// PermissionHandler decides permission requests for a session. It is called
// on the session's dispatch goroutine; no further events for that session are
// delivered until it returns.
type PermissionHandler interface {
	HandlePermission(ctx context.Context, req PermissionRequest) (PermissionDecision, error)
}

// PermissionHandlerFunc adapts a function to PermissionHandler.
type PermissionHandlerFunc func(ctx context.Context, req PermissionRequest) (PermissionDecision, error)

func (f PermissionHandlerFunc) HandlePermission(ctx context.Context, req PermissionRequest) (PermissionDecision, error) {
	return f(ctx, req)
}

// ApproveAll approves every request.
var ApproveAll PermissionHandler = PermissionHandlerFunc(func(context.Context, PermissionRequest) (PermissionDecision, error) {
	return PermissionDecision{Kind: PermissionApproved}, nil
})

// DenyAll denies every request.
var DenyAll PermissionHandler = PermissionHandlerFunc(func(context.Context, PermissionRequest) (PermissionDecision, error) {
	return PermissionDecision{Kind: PermissionDenied, Reason: "denied by policy"}, nil
})

// ApproveKinds approves requests whose kind is listed and denies the rest.
func ApproveKinds(kinds ...string) PermissionHandler {
	allowed := slices.Clone(kinds)
	return PermissionHandlerFunc(func(_ context.Context, req PermissionRequest) (PermissionDecision, error) {
		if slices.Contains(allowed, req.Kind) {
			return PermissionDecision{Kind: PermissionApproved}, nil
		}
		return PermissionDecision{Kind: PermissionDenied, Reason: fmt.Sprintf("kind %q not allowed", req.Kind)}, nil
	})
}

type decisionResult struct {
	decision PermissionDecision
	err      error
}

// decide runs h with a bounded deadline. A missing handler, a handler error,
// a panic, or an overrun all produce a denial.
func decide(ctx context.Context, h PermissionHandler, req PermissionRequest, timeout time.Duration) (PermissionDecision, error) {
	if h == nil {
		return PermissionDecision{Kind: PermissionDenied, Reason: "no permission handler"}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so the handler goroutine can always deliver, even after we gave up.
	resultCh := make(chan decisionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- decisionResult{err: fmt.Errorf("permission handler panicked: %v", r)}
			}
		}()
		d, err := h.HandlePermission(ctx, req)
		resultCh <- decisionResult{decision: d, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return PermissionDecision{Kind: PermissionDenied, Reason: res.err.Error()}, res.err
		}
		if res.decision.Kind == "" {
			res.decision.Kind = PermissionDenied
		}
		return res.decision, nil
	case <-ctx.Done():
		return PermissionDecision{Kind: PermissionDenied, Reason: "permission handler timed out"}, ctx.Err()
	}
}
