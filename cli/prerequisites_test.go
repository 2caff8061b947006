package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pexec "github.com/zhubert/copilot-chat/exec"
)

func TestDefaultPrerequisites(t *testing.T) {
	prereqs := DefaultPrerequisites("/opt/copilot/bin/copilot")

	if len(prereqs) == 0 {
		t.Fatal("DefaultPrerequisites should return at least one prerequisite")
	}

	copilot := prereqs[0]
	if copilot.Name != "copilot" || !copilot.Required {
		t.Errorf("first prerequisite = %+v, want required copilot", copilot)
	}
	if copilot.Command() != "/opt/copilot/bin/copilot" {
		t.Errorf("copilot Command() = %q, want configured path", copilot.Command())
	}

	for _, prereq := range prereqs[1:] {
		if prereq.Required {
			t.Errorf("%s should be optional, not required", prereq.Name)
		}
	}
}

func TestPrerequisite_Command(t *testing.T) {
	tests := []struct {
		prereq Prerequisite
		want   string
	}{
		{Prerequisite{Name: "copilot"}, "copilot"},
		{Prerequisite{Name: "copilot", Path: "/usr/local/bin/copilot"}, "/usr/local/bin/copilot"},
	}

	for _, tt := range tests {
		if got := tt.prereq.Command(); got != tt.want {
			t.Errorf("Command() = %q, want %q", got, tt.want)
		}
	}
}

func TestCheck_Found(t *testing.T) {
	mock := pexec.NewMockExecutor()
	mock.AddExecutable("copilot", "/usr/local/bin/copilot")
	mock.AddExactMatch("/usr/local/bin/copilot", []string{"--version"}, pexec.MockResponse{
		Stdout: []byte("0.0.339\nCommit: abc123\n"),
	})

	result := Check(context.Background(), mock, Prerequisite{Name: "copilot", Required: true})

	if !result.Found {
		t.Fatalf("Check should find copilot: %v", result.Error)
	}
	if result.Path != "/usr/local/bin/copilot" {
		t.Errorf("Path = %q, want /usr/local/bin/copilot", result.Path)
	}
	if result.Version != "0.0.339" {
		t.Errorf("Version = %q, want first line of --version output", result.Version)
	}
	if result.Error != nil {
		t.Errorf("Check should not return error for found command: %v", result.Error)
	}
}

func TestCheck_VersionFailureIsNotFatal(t *testing.T) {
	mock := pexec.NewMockExecutor()
	mock.AddExecutable("node", "/usr/bin/node")
	mock.AddPrefixMatch("/usr/bin/node", nil, pexec.MockResponse{Err: errors.New("exit status 1")})

	result := Check(context.Background(), mock, Prerequisite{Name: "node"})

	if !result.Found {
		t.Error("a tool that fails --version is still found")
	}
	if result.Version != "" {
		t.Errorf("Version = %q, want empty", result.Version)
	}
}

func TestCheck_TruncatesLongVersion(t *testing.T) {
	mock := pexec.NewMockExecutor()
	mock.AddExecutable("gh", "/usr/bin/gh")
	mock.AddPrefixMatch("/usr/bin/gh", nil, pexec.MockResponse{Stdout: []byte(strings.Repeat("v", 150))})

	result := Check(context.Background(), mock, Prerequisite{Name: "gh"})

	if len(result.Version) != 103 || !strings.HasSuffix(result.Version, "...") {
		t.Errorf("Version should be truncated to 100 chars plus ellipsis, got %d chars", len(result.Version))
	}
}

func TestCheck_NonExistingCommand(t *testing.T) {
	prereq := Prerequisite{
		Name:        "definitely-not-a-real-command-12345",
		Required:    true,
		Description: "Fake command",
		InstallHint: "http://example.com",
	}

	result := Check(context.Background(), pexec.NewMockExecutor(), prereq)

	if result.Found {
		t.Error("Check should return Found=false for non-existing command")
	}
	if result.Path != "" {
		t.Error("Check should return empty path for non-existing command")
	}
	if result.Error == nil {
		t.Error("Check should return error for non-existing command")
	}
}

func TestCheck_RealExecutor(t *testing.T) {
	script := filepath.Join(t.TempDir(), "fake-copilot")
	content := "#!/bin/sh\necho '0.0.339'\n"
	if err := os.WriteFile(script, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}

	result := Check(context.Background(), pexec.NewRealExecutor(), Prerequisite{Name: "copilot", Path: script, Required: true})

	if !result.Found {
		t.Fatalf("Check should find %s: %v", script, result.Error)
	}
	if result.Version != "0.0.339" {
		t.Errorf("Version = %q, want 0.0.339", result.Version)
	}
}

func TestCheckAll(t *testing.T) {
	mock := pexec.NewMockExecutor()
	mock.AddExecutable("copilot", "/bin/copilot")
	mock.AddExecutable("gh", "/bin/gh")
	mock.AddPrefixMatch("/bin/copilot", nil, pexec.MockResponse{Stdout: []byte("0.0.339")})
	mock.AddPrefixMatch("/bin/gh", nil, pexec.MockResponse{Stdout: []byte("gh version 2.60.0")})

	prereqs := []Prerequisite{
		{Name: "copilot", Required: true},
		{Name: "node"},
		{Name: "gh"},
	}

	results := CheckAll(context.Background(), mock, prereqs)

	if len(results) != len(prereqs) {
		t.Fatalf("CheckAll returned %d results, want %d", len(results), len(prereqs))
	}
	for i, r := range results {
		if r.Prerequisite.Name != prereqs[i].Name {
			t.Errorf("results[%d] is %q, want %q (order must be preserved)", i, r.Prerequisite.Name, prereqs[i].Name)
		}
	}
	if !results[0].Found || results[0].Version != "0.0.339" {
		t.Errorf("copilot result = %+v", results[0])
	}
	if results[1].Found {
		t.Error("node should not be found")
	}
	if results[2].Version != "gh version 2.60.0" {
		t.Errorf("gh version = %q", results[2].Version)
	}
}

func TestValidateRequired_MissingRequired(t *testing.T) {
	mock := pexec.NewMockExecutor()
	mock.AddExecutable("gh", "/bin/gh")

	prereqs := []Prerequisite{
		{Name: "gh", Required: true, Description: "GitHub CLI"},
		{Name: "copilot", Path: "fake-required-cmd-xyz", Required: true, Description: "Fake required", InstallHint: "npm install -g @github/copilot"},
	}

	err := ValidateRequired(mock, prereqs)
	if err == nil {
		t.Fatal("ValidateRequired should return error when required command is missing")
	}

	// Error should mention the missing command and how to install it
	if !strings.Contains(err.Error(), "fake-required-cmd-xyz") {
		t.Errorf("Error should mention missing command: %v", err)
	}
	if !strings.Contains(err.Error(), "npm install -g @github/copilot") {
		t.Errorf("Error should include the install hint: %v", err)
	}
	if strings.Contains(err.Error(), "GitHub CLI") {
		t.Errorf("Error should not mention tools that were found: %v", err)
	}
}

func TestValidateRequired_OptionalMissing(t *testing.T) {
	mock := pexec.NewMockExecutor()
	mock.AddExecutable("copilot", "/bin/copilot")

	prereqs := DefaultPrerequisites("copilot")

	if err := ValidateRequired(mock, prereqs); err != nil {
		t.Errorf("ValidateRequired should not error when only optional commands are missing: %v", err)
	}
	if calls := mock.GetCalls(); len(calls) != 0 {
		t.Errorf("ValidateRequired should not run any command, ran %v", calls)
	}
}

func TestFormatCheckResults(t *testing.T) {
	results := []CheckResult{
		{
			Prerequisite: Prerequisite{Name: "found-cmd", Required: true, Description: "Found command"},
			Found:        true,
			Path:         "/usr/bin/found-cmd",
			Version:      "1.0.0",
		},
		{
			Prerequisite: Prerequisite{Name: "missing-required", Required: true, Description: "Missing required"},
			Found:        false,
		},
		{
			Prerequisite: Prerequisite{Name: "missing-optional", Required: false, Description: "Missing optional"},
			Found:        false,
		},
	}

	output := FormatCheckResults(results)

	for _, want := range []string{
		"CLI Prerequisites",
		"✓ found-cmd (1.0.0) at /usr/bin/found-cmd",
		"✗ missing-required [REQUIRED]",
		"○ missing-optional [optional]",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Output should contain %q, got:\n%s", want, output)
		}
	}
}

func TestFormatCheckResults_Empty(t *testing.T) {
	output := FormatCheckResults([]CheckResult{})

	if !strings.Contains(output, "CLI Prerequisites") {
		t.Error("Empty results should still contain header")
	}
}
