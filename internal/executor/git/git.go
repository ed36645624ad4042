package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CloneOptions describes a shallow clone of a single branch.
type CloneOptions struct {
	URL    string
	Branch string
	Dest   string
}

// Clone performs a depth 1 clone of opts.Branch into opts.Dest.
func Clone(ctx context.Context, opts CloneOptions) error {
	if strings.TrimSpace(opts.URL) == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if opts.Dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	cmd := exec.CommandContext(ctx, "git", cloneArgs(opts)...)
	cmd.Dir = opts.Dest
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(out.String()))
	}
	return nil
}

// cloneArgs ends option parsing before the URL so a user supplied value is
// never read as a git flag.
func cloneArgs(opts CloneOptions) []string {
	args := []string{"clone", "--depth", "1"}
	if branch := strings.TrimSpace(opts.Branch); branch != "" {
		args = append(args, "--branch", branch, "--single-branch")
	}
	return append(args, "--", opts.URL, ".")
}

// RepositoryURL resolves the clone URL for a project. An explicit URL wins,
// otherwise owner/name is expanded against GitHub.
func RepositoryURL(explicit, fullName string) string {
	if u := strings.TrimSpace(explicit); u != "" {
		return u
	}
	fullName = strings.Trim(strings.TrimSpace(fullName), "/")
	if fullName == "" {
		return ""
	}
	return "https://github.com/" + fullName + ".git"
}
