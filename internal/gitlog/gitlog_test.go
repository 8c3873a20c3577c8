package gitlog

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test User"},
	} {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git not available: %v (%s)", err, out)
		}
	}
	return dir
}

func commitFile(t *testing.T, dir, name, content, msg string) string {
	t.Helper()
	full := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))

	for _, args := range [][]string{
		{"add", "."},
		{"commit", "-m", msg},
	} {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	out, err := exec.Command("git", "-C", dir, "rev-parse", "HEAD").CombinedOutput()
	require.NoError(t, err)
	return strings.TrimSpace(string(out))
}

func TestIsRepo(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	require.True(t, IsRepo(ctx, repo))
	require.False(t, IsRepo(ctx, t.TempDir()))
}

func TestRoot(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	sub := filepath.Join(repo, "pkg", "deep")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	root, err := Root(ctx, sub)
	require.NoError(t, err)

	wantRoot, err := filepath.EvalSymlinks(repo)
	require.NoError(t, err)
	gotRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	require.Equal(t, wantRoot, gotRoot)
}

func TestCommits(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	first := commitFile(t, repo, "a.txt", "one\n", "first")
	second := commitFile(t, repo, "b.txt", "two\n", "second")

	hashes, err := Commits(ctx, repo, time.Time{}, 0)
	require.NoError(t, err)
	require.Equal(t, []string{second, first}, hashes)

	capped, err := Commits(ctx, repo, time.Time{}, 1)
	require.NoError(t, err)
	require.Equal(t, []string{second}, capped)

	none, err := Commits(ctx, repo, time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestCommits_EmptyRepo(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	hashes, err := Commits(ctx, repo, time.Time{}, 0)
	require.NoError(t, err)
	require.Empty(t, hashes)
}

func TestShow(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	first := commitFile(t, repo, "src/main.go", "package main\n", "add main")
	second := commitFile(t, repo, "src/main.go", "package main\n\nfunc main() {}\n", "fill main")

	content, ok, err := Show(ctx, repo, first, "src/main.go")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "package main\n", content)

	content, ok, err = Show(ctx, repo, second, "src/main.go")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, content, "func main()")

	_, ok, err = Show(ctx, repo, second, "src/other.go")
	require.NoError(t, err)
	require.False(t, ok)
}
