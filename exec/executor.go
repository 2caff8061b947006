// Package exec runs the short-lived helper commands copilot-chat uses to
// inspect its environment, such as "copilot --version". Tests swap in a
// MockExecutor so no real tools are needed.
package exec

import (
	"context"
	"fmt"
	"os/exec"
	"slices"
	"sync"
)

// CommandExecutor looks up and runs helper commands.
type CommandExecutor interface {
	// LookPath resolves name to an executable path.
	LookPath(name string) (string, error)

	// Output runs a command to completion and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealExecutor executes commands using os/exec.
type RealExecutor struct{}

// NewRealExecutor returns a new RealExecutor.
func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

func (e *RealExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (e *RealExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout []byte
	Err    error
}

// CommandMatcher is a function that determines if a command matches.
type CommandMatcher func(name string, args []string) bool

type mockRule struct {
	match    CommandMatcher
	response MockResponse
}

// MockCall records a command invocation for verification.
type MockCall struct {
	Name string
	Args []string
}

// MockExecutor returns pre-recorded responses. Rules are matched in
// registration order; executables must be registered with AddExecutable
// before LookPath finds them.
type MockExecutor struct {
	mu          sync.RWMutex
	executables map[string]string
	rules       []mockRule
	calls       []MockCall
}

// NewMockExecutor creates an empty MockExecutor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{executables: make(map[string]string)}
}

// AddExecutable makes LookPath resolve name to path.
func (e *MockExecutor) AddExecutable(name, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executables[name] = path
}

// AddRule adds a matching rule with its response.
func (e *MockExecutor) AddRule(match CommandMatcher, response MockResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, mockRule{match: match, response: response})
}

// AddExactMatch adds a rule that matches a specific command exactly.
func (e *MockExecutor) AddExactMatch(name string, args []string, response MockResponse) {
	e.AddRule(func(n string, a []string) bool {
		return n == name && slices.Equal(a, args)
	}, response)
}

// AddPrefixMatch adds a rule that matches commands starting with specific args.
func (e *MockExecutor) AddPrefixMatch(name string, prefixArgs []string, response MockResponse) {
	e.AddRule(func(n string, a []string) bool {
		return n == name && len(a) >= len(prefixArgs) && slices.Equal(a[:len(prefixArgs)], prefixArgs)
	}, response)
}

// GetCalls returns all recorded command invocations.
func (e *MockExecutor) GetCalls() []MockCall {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.calls)
}

func (e *MockExecutor) LookPath(name string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if path, ok := e.executables[name]; ok {
		return path, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// Output returns the first matching response. Unmatched commands fail.
func (e *MockExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	e.mu.Lock()
	e.calls = append(e.calls, MockCall{Name: name, Args: slices.Clone(args)})
	rules := e.rules
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if rule.match(name, args) {
			return rule.response.Stdout, rule.response.Err
		}
	}
	return nil, fmt.Errorf("mock: no response for %s %v", name, args)
}

// Ensure implementations satisfy the interface.
var _ CommandExecutor = (*RealExecutor)(nil)
var _ CommandExecutor = (*MockExecutor)(nil)
