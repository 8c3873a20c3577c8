// Package gitlog reads commit history by shelling out to git. Every
// operation runs "git -C dir" so callers never change directories.
package gitlog

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// IsRepo reports whether dir is inside a git work tree.
func IsRepo(ctx context.Context, dir string) bool {
	out, err := run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// Root returns the absolute path of the repository root containing dir.
func Root(ctx context.Context, dir string) (string, error) {
	out, err := run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Commits lists commit hashes reachable from HEAD, newest first, capped
// at max when max is positive. A non-zero since limits the walk to
// commits authored after it. Merge commits are excluded.
func Commits(ctx context.Context, dir string, since time.Time, max int) ([]string, error) {
	args := []string{"log", "--no-merges", "--format=%H"}
	if !since.IsZero() {
		args = append(args, "--since="+since.Format(time.RFC3339))
	}
	if max > 0 {
		args = append(args, fmt.Sprintf("--max-count=%d", max))
	}

	out, err := run(ctx, dir, args...)
	if err != nil {
		// A repository with no commits yet has no HEAD to walk.
		if strings.Contains(err.Error(), "does not have any commits") {
			return nil, nil
		}
		return nil, err
	}

	var hashes []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			hashes = append(hashes, line)
		}
	}
	return hashes, nil
}

// Show returns a file's content at the given commit. The path must be
// relative to the repository root. A path absent from that commit
// returns ok=false and no error.
func Show(ctx context.Context, dir, hash, path string) (string, bool, error) {
	out, err := run(ctx, dir, "show", hash+":"+path)
	if err != nil {
		if pathAbsent(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

// pathAbsent matches the git show failures that mean "this commit does
// not contain that path" rather than a broken repository.
func pathAbsent(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "exists on disk, but not in") ||
		strings.Contains(msg, "invalid object name")
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(string(output)), err)
	}
	return string(output), nil
}
