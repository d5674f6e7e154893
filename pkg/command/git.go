package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

var branchName = regexp.MustCompile(`^[\w][\w./-]*$`)

// Git is the checkout the bot runs from.
type Git struct {
	Dir string
}

// Revision returns the HEAD commit.
func (g Git) Revision(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "HEAD")
}

// Update fast-forwards branch from origin and returns the new HEAD.
func (g Git) Update(ctx context.Context, branch string) (string, error) {
	if !branchName.MatchString(branch) || strings.Contains(branch, "..") {
		return "", fmt.Errorf("invalid branch name %q", branch)
	}
	for _, args := range [][]string{
		{"fetch", "origin", branch},
		{"checkout", branch},
		{"merge", "--ff-only", "origin/" + branch},
	} {
		if _, err := g.run(ctx, args...); err != nil {
			return "", err
		}
	}
	return g.Revision(ctx)
}

func (g Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}
