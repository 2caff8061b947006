// Package cli checks that the executables copilot-chat depends on are installed.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	pexec "github.com/zhubert/copilot-chat/exec"
)

// versionTimeout bounds each version lookup so a hung tool cannot stall startup.
const versionTimeout = 5 * time.Second

// Prerequisite represents a required CLI tool
type Prerequisite struct {
	Name        string // Display name (e.g., "copilot", "node")
	Path        string // Executable to look up; defaults to Name
	Required    bool   // Whether the tool is required to run the app
	Description string // Human-readable description
	InstallHint string // How to install it
}

// Command returns the executable looked up for the prerequisite.
func (p Prerequisite) Command() string {
	if p.Path != "" {
		return p.Path
	}
	return p.Name
}

// DefaultPrerequisites returns the tools copilot-chat needs. cliPath is the
// copilot executable that will actually be launched.
func DefaultPrerequisites(cliPath string) []Prerequisite {
	return []Prerequisite{
		{
			Name:        "copilot",
			Path:        cliPath,
			Required:    true,
			Description: "GitHub Copilot CLI",
			InstallHint: "npm install -g @github/copilot",
		},
		{
			Name:        "node",
			Required:    false, // Only needed when copilot was installed through npm
			Description: "Node.js runtime (optional, for the npm-installed copilot)",
			InstallHint: "https://nodejs.org/en/download",
		},
		{
			Name:        "gh",
			Required:    false, // Only needed to log in with an existing gh token
			Description: "GitHub CLI (optional, for authentication)",
			InstallHint: "https://cli.github.com",
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	Error        error
}

// Check verifies that a CLI tool is available
func Check(ctx context.Context, ex pexec.CommandExecutor, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := ex.LookPath(prereq.Command())
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Command())
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = getVersion(ctx, ex, path)

	return result
}

// CheckAll verifies all prerequisites concurrently. Results are in the same
// order as prereqs.
func CheckAll(ctx context.Context, ex pexec.CommandExecutor, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))

	var g errgroup.Group
	for i, prereq := range prereqs {
		g.Go(func() error {
			results[i] = Check(ctx, ex, prereq)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ValidateRequired checks that all required prerequisites are met
// Returns nil if all required tools are found, otherwise returns an error
// describing what's missing
func ValidateRequired(ex pexec.CommandExecutor, prereqs []Prerequisite) error {
	var missing []string

	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		if _, err := ex.LookPath(prereq.Command()); err != nil {
			missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
				prereq.Command(), prereq.Description, prereq.InstallHint))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}

	return nil
}

// getVersion runs "<path> --version" and returns the first line of output.
func getVersion(ctx context.Context, ex pexec.CommandExecutor, path string) string {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	output, err := ex.Output(ctx, path, "--version")
	if err != nil {
		return ""
	}

	version, _, _ := strings.Cut(string(output), "\n")
	version = strings.TrimSpace(version)
	// Limit length to avoid overly long version strings
	if len(version) > 100 {
		version = version[:100] + "..."
	}
	return version
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("CLI Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Prerequisite.Name)
		switch {
		case r.Found && r.Version != "":
			fmt.Fprintf(&sb, " (%s)", r.Version)
		case !r.Found && r.Prerequisite.Required:
			sb.WriteString(" [REQUIRED]")
		case !r.Found:
			sb.WriteString(" [optional]")
		}
		if r.Found && r.Path != "" {
			fmt.Fprintf(&sb, " at %s", r.Path)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
