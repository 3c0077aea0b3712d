package gitlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommit(t *testing.T) {
	chunk := "abc123def456\x1fp1\x1fAlice\x1f2025-03-04T10:00:00+01:00\x1fFix crash on empty input\n\nLonger body.\n\x1f\n\n" +
		"10\t2\tsrc/a.go\n" +
		"-\t-\tassets/logo.png\n" +
		"3\t0\tREADME.md\n"

	rec, err := parseCommit(chunk)
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", rec.ID)
	assert.Equal(t, "Fix crash on empty input", rec.Title)
	assert.Equal(t, "Longer body.", rec.Body)
	assert.Equal(t, "Alice", rec.Author)
	assert.True(t, rec.Finalized)
	assert.False(t, rec.MergeCommit)
	assert.Equal(t, 3, rec.FilesChanged)
	assert.Equal(t, 13, rec.Additions)
	assert.Equal(t, 2, rec.Deletions)
	assert.True(t, rec.AuthoredAt.Equal(time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)))
}

func TestParseCommitMerge(t *testing.T) {
	rec, err := parseCommit("ff00\x1fp1 p2\x1fBob\x1f2025-03-04T10:00:00Z\x1fMerge branch 'x'\n\x1f")
	require.NoError(t, err)
	assert.True(t, rec.MergeCommit)
	assert.Zero(t, rec.FilesChanged)
}

func TestParseCommitRejectsGarbage(t *testing.T) {
	_, err := parseCommit("not a record")
	assert.Error(t, err)

	_, err = parseCommit("ff00\x1f\x1fBob\x1fyesterday\x1fmsg\x1f")
	assert.Error(t, err)
}

func gitCmd(t *testing.T, dir string, date string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Tester", "GIT_AUTHOR_EMAIL=t@example.com",
		"GIT_COMMITTER_NAME=Tester", "GIT_COMMITTER_EMAIL=t@example.com",
		"GIT_AUTHOR_DATE="+date, "GIT_COMMITTER_DATE="+date,
		"GIT_CONFIG_NOSYSTEM=1", "HOME="+dir,
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func TestSourceWalksLocalRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "2025-01-01T00:00:00Z", "init", "--quiet", "--initial-branch=main")

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("a.txt", "one\n")
	gitCmd(t, dir, "2025-01-02T00:00:00Z", "add", ".")
	gitCmd(t, dir, "2025-01-02T00:00:00Z", "commit", "--quiet", "-m", "Initial commit")

	gitCmd(t, dir, "2025-01-03T00:00:00Z", "checkout", "--quiet", "-b", "topic")
	write("b.txt", "two\nthree\n")
	gitCmd(t, dir, "2025-01-03T00:00:00Z", "add", ".")
	gitCmd(t, dir, "2025-01-03T00:00:00Z", "commit", "--quiet", "-m", "Add b on topic")

	gitCmd(t, dir, "2025-01-04T00:00:00Z", "checkout", "--quiet", "main")
	write("a.txt", "one\nuno\n")
	gitCmd(t, dir, "2025-01-04T00:00:00Z", "commit", "--quiet", "-am", "Update a\n\nWith a body.")

	src, err := NewSource(context.Background(), Options{Repo: dir})
	require.NoError(t, err)
	defer src.Close()

	var titles []string
	onTrunk := map[string]bool{}
	for {
		rec, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		titles = append(titles, rec.Title)
		onTrunk[rec.Title] = rec.OnTrunk
		if rec.Title == "Update a" {
			assert.Equal(t, "With a body.", rec.Body)
			assert.Equal(t, 1, rec.FilesChanged)
			assert.Equal(t, 1, rec.Additions)
		}
	}
	assert.Equal(t, []string{"Update a", "Add b on topic", "Initial commit"}, titles)
	assert.True(t, onTrunk["Update a"])
	assert.False(t, onTrunk["Add b on topic"])
	assert.True(t, onTrunk["Initial commit"])

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestSourceBranchAndSince(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "2025-01-01T00:00:00Z", "init", "--quiet", "--initial-branch=main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("1\n"), 0o644))
	gitCmd(t, dir, "2025-01-02T00:00:00Z", "add", ".")
	gitCmd(t, dir, "2025-01-02T00:00:00Z", "commit", "--quiet", "-m", "old")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("2\n"), 0o644))
	gitCmd(t, dir, "2025-02-02T00:00:00Z", "commit", "--quiet", "-am", "new")

	src, err := NewSource(context.Background(), Options{
		Repo:        dir,
		Branch:      "main",
		TrunkBranch: "main",
		Since:       time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	defer src.Close()

	rec, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", rec.Title)
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestSourceSinceSurvivesClockSkew(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "2025-01-01T00:00:00Z", "init", "--quiet", "--initial-branch=main")
	write := func(content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(content), 0o644))
	}
	write("base\n")
	gitCmd(t, dir, "2025-02-10T00:00:00Z", "add", ".")
	gitCmd(t, dir, "2025-02-10T00:00:00Z", "commit", "--quiet", "-m", "in window")
	// Commits made on a machine with a clock set weeks behind.
	for i := 1; i <= 7; i++ {
		write(fmt.Sprintf("skew %d\n", i))
		date := fmt.Sprintf("2025-01-%02dT00:00:00Z", i+1)
		gitCmd(t, dir, date, "commit", "--quiet", "-am", fmt.Sprintf("skewed %d", i))
	}
	write("head\n")
	gitCmd(t, dir, "2025-02-15T00:00:00Z", "commit", "--quiet", "-am", "latest")

	src, err := NewSource(context.Background(), Options{
		Repo:  dir,
		Since: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	defer src.Close()

	var titles []string
	for {
		rec, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		titles = append(titles, rec.Title)
	}
	assert.Equal(t, []string{"latest", "in window"}, titles)
}

func TestNewSourceUnknownTrunk(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "2025-01-01T00:00:00Z", "init", "--quiet")

	_, err := NewSource(context.Background(), Options{Repo: dir, TrunkBranch: "does-not-exist"})
	assert.Error(t, err)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, isRemote("https://github.com/serde-rs/json"))
	assert.True(t, isRemote("git@github.com:serde-rs/json.git"))
	assert.False(t, isRemote("/tmp/repo"))
	assert.False(t, isRemote("../repo"))
}
