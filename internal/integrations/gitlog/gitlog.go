// Package gitlog mines commits from a local or remote git repository by
// running the git binary.
package gitlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"changelabel/internal/domain"
)

const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
	logFormat = "--pretty=format:%x1e%H%x1f%P%x1f%an%x1f%aI%x1f%B%x1f"
)

type Options struct {
	// Repo is a local path or a clonable URL.
	Repo string
	// Branch limits the walk to one ref. Empty walks all refs.
	Branch string
	// TrunkBranch decides OnTrunk. Empty tries main, then master, then HEAD.
	TrunkBranch string
	// Since drops commits authored before it. The whole history is still
	// walked.
	Since time.Time
}

// Source streams commits newest first. It must be closed to reap the git
// process and remove any temporary clone.
type Source struct {
	opts     Options
	dir      string
	cloneDir string
	trunk    map[string]bool

	cmd     *exec.Cmd
	reader  *bufio.Reader
	scanned int
	err     error
}

func NewSource(ctx context.Context, opts Options) (*Source, error) {
	if strings.TrimSpace(opts.Repo) == "" {
		return nil, fmt.Errorf("git repo is required")
	}
	s := &Source{opts: opts, dir: opts.Repo}

	if isRemote(opts.Repo) {
		dir, err := os.MkdirTemp("", "changelabel-clone-*")
		if err != nil {
			return nil, fmt.Errorf("creating clone dir: %w", err)
		}
		log.Printf("gitlog clone repo=%s dir=%s", opts.Repo, dir)
		if _, err := runGit(ctx, "", "clone", "--quiet", "--bare", opts.Repo, dir); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("cloning %s: %w", opts.Repo, err)
		}
		s.dir = dir
		s.cloneDir = dir
	}

	trunk, err := s.loadTrunk(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.trunk = trunk
	return s, nil
}

func (s *Source) Name() string {
	return s.opts.Repo
}

// Next returns the next commit or io.EOF once git log is drained.
func (s *Source) Next(ctx context.Context) (domain.ChangeRecord, error) {
	if s.err != nil {
		return domain.ChangeRecord{}, s.err
	}
	if s.cmd == nil {
		if err := s.start(ctx); err != nil {
			s.err = err
			return domain.ChangeRecord{}, err
		}
	}

	for {
		chunk, readErr := s.reader.ReadString(recordSep[0])
		chunk = strings.TrimSuffix(chunk, recordSep)
		if strings.TrimSpace(chunk) != "" {
			rec, err := parseCommit(chunk)
			if err != nil {
				s.err = err
				return domain.ChangeRecord{}, err
			}
			rec.OnTrunk = s.trunk[rec.ID]
			s.scanned++
			if s.scanned%100 == 0 {
				log.Printf("gitlog scanned=%d last=%s", s.scanned, shortHash(rec.ID))
			}
			// Author dates are not monotonic along history, so older commits
			// are dropped one by one instead of ending the walk.
			if s.opts.Since.IsZero() || !rec.FinalizedAt.Before(s.opts.Since) {
				return rec, nil
			}
		}
		if readErr == nil {
			continue
		}
		if !errors.Is(readErr, io.EOF) {
			s.err = fmt.Errorf("reading git log: %w", readErr)
			return domain.ChangeRecord{}, s.err
		}
		if err := s.cmd.Wait(); err != nil {
			s.err = fmt.Errorf("git log: %w", err)
			return domain.ChangeRecord{}, s.err
		}
		s.err = io.EOF
		return domain.ChangeRecord{}, s.err
	}
}

func (s *Source) start(ctx context.Context) error {
	args := []string{"-C", s.dir, "log", "--numstat", logFormat}
	if s.opts.Branch != "" {
		args = append(args, s.opts.Branch)
	} else {
		args = append(args, "--all")
	}
	log.Printf("gitlog start repo=%s branch=%q", s.opts.Repo, s.opts.Branch)

	s.cmd = exec.CommandContext(ctx, "git", args...)
	s.cmd.Stderr = os.Stderr
	out, err := s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("git log pipe: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("starting git log: %w", err)
	}
	s.reader = bufio.NewReaderSize(out, 64*1024)
	return nil
}

func (s *Source) loadTrunk(ctx context.Context) (map[string]bool, error) {
	candidates := []string{"main", "master", "HEAD"}
	if s.opts.TrunkBranch != "" {
		candidates = []string{s.opts.TrunkBranch}
	}
	for _, ref := range candidates {
		if _, err := runGit(ctx, s.dir, "rev-parse", "--verify", "--quiet", ref+"^{commit}"); err != nil {
			continue
		}
		out, err := runGit(ctx, s.dir, "rev-list", ref)
		if err != nil {
			return nil, fmt.Errorf("listing trunk %s: %w", ref, err)
		}
		set := make(map[string]bool)
		for _, line := range strings.Split(out, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				set[line] = true
			}
		}
		log.Printf("gitlog trunk ref=%s commits=%d", ref, len(set))
		return set, nil
	}
	if s.opts.TrunkBranch != "" {
		return nil, fmt.Errorf("trunk branch %q not found", s.opts.TrunkBranch)
	}
	// Empty repository: nothing is on trunk.
	return map[string]bool{}, nil
}

// Close stops git log if it is still running and removes a temporary clone.
func (s *Source) Close() error {
	if s.cmd != nil && s.cmd.ProcessState == nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	if s.cloneDir != "" {
		err := os.RemoveAll(s.cloneDir)
		s.cloneDir = ""
		return err
	}
	return nil
}

// parseCommit decodes one record of logFormat followed by its numstat lines.
func parseCommit(chunk string) (domain.ChangeRecord, error) {
	parts := strings.SplitN(chunk, fieldSep, 6)
	if len(parts) != 6 {
		return domain.ChangeRecord{}, fmt.Errorf("unexpected git log record: %q", truncate(chunk, 120))
	}
	hash := strings.TrimSpace(parts[0])
	parents := strings.Fields(parts[1])
	authoredAt, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[3]))
	if err != nil {
		return domain.ChangeRecord{}, fmt.Errorf("commit %s: parsing author date: %w", shortHash(hash), err)
	}
	subject, body := domain.SplitMessage(parts[4])

	rec := domain.ChangeRecord{
		ID:          hash,
		Kind:        domain.KindCommit,
		Title:       subject,
		Body:        body,
		Author:      parts[2],
		AuthoredAt:  authoredAt,
		FinalizedAt: authoredAt,
		Finalized:   true,
		MergeCommit: len(parents) > 1,
	}

	for _, line := range strings.Split(parts[5], "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), "\t", 3)
		if len(fields) != 3 {
			continue
		}
		rec.FilesChanged++
		// Binary files report "-" for both counts.
		if n, err := strconv.Atoi(fields[0]); err == nil {
			rec.Additions += n
		}
		if n, err := strconv.Atoi(fields[1]); err == nil {
			rec.Deletions += n
		}
	}
	return rec, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	sub := args[0]
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", sub, err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

func isRemote(repo string) bool {
	return strings.Contains(repo, "://") || strings.HasPrefix(repo, "git@")
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
