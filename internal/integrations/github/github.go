// Package github lists closed pull requests of one repository as change records.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"changelabel/internal/domain"
	"changelabel/internal/httpx"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultPerPage = 100
)

var externalHTTPClient = httpx.ExternalHTTPClient()

type githubPRItem struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	HTMLURL   string     `json:"html_url"`
	State     string     `json:"state"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
	ClosedAt  string     `json:"closed_at"`
	MergedAt  *string    `json:"merged_at"`
	User      githubUser `json:"user"`
	Base      githubBase `json:"base"`
}

type githubUser struct {
	Login string `json:"login"`
}

type githubBase struct {
	Ref  string `json:"ref"`
	Repo struct {
		DefaultBranch string `json:"default_branch"`
	} `json:"repo"`
}

// RateLimit is the API quota reported by the last response.
type RateLimit struct {
	Remaining int
	Limit     int
	Known     bool
}

func (r RateLimit) String() string {
	if !r.Known {
		return "unknown"
	}
	return fmt.Sprintf("%d/%d", r.Remaining, r.Limit)
}

type Options struct {
	BaseURL string
	Token   string
	// Repo is "owner/name" or a github.com URL.
	Repo    string
	Since   time.Time
	PerPage int
}

// Source pages through closed PRs sorted by last update, newest first. Pages
// are fetched only when the previous one is used up.
type Source struct {
	opts     Options
	fullName string
	page     int
	buf      []githubPRItem
	lastPage bool
	err      error
	rate     RateLimit
}

func NewSource(opts Options) (*Source, error) {
	fullName := ExtractRepoFullName(opts.Repo)
	if fullName == "" {
		return nil, fmt.Errorf("github repo must be owner/name, got %q", opts.Repo)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.PerPage <= 0 {
		opts.PerPage = defaultPerPage
	}
	return &Source{opts: opts, fullName: fullName}, nil
}

func (s *Source) Name() string {
	return s.fullName
}

// Next returns the next closed PR. It returns io.EOF when the listing ends
// and domain.ErrWindowExhausted once a PR was last updated before Since.
func (s *Source) Next(ctx context.Context) (domain.ChangeRecord, error) {
	if s.err != nil {
		return domain.ChangeRecord{}, s.err
	}
	for len(s.buf) == 0 {
		if s.lastPage {
			s.err = io.EOF
			return domain.ChangeRecord{}, s.err
		}
		if err := s.fetchPage(ctx); err != nil {
			return domain.ChangeRecord{}, err
		}
	}

	item := s.buf[0]
	s.buf = s.buf[1:]

	if !s.opts.Since.IsZero() {
		updatedAt, err := time.Parse(time.RFC3339, item.UpdatedAt)
		if err == nil && updatedAt.Before(s.opts.Since) {
			log.Printf("github source reached pr=%d updated_at=%s before since=%s", item.Number, item.UpdatedAt, s.opts.Since.Format(time.RFC3339))
			s.err = domain.ErrWindowExhausted
			return domain.ChangeRecord{}, s.err
		}
	}
	return convertPR(item), nil
}

func (s *Source) RateLimit() RateLimit {
	return s.rate
}

func (s *Source) fetchPage(ctx context.Context) error {
	s.page++
	apiURL := fmt.Sprintf("%s/repos/%s/pulls?state=closed&sort=updated&direction=desc&per_page=%d&page=%d",
		strings.TrimRight(s.opts.BaseURL, "/"), s.fullName, s.opts.PerPage, s.page)
	log.Printf("github fetch repo=%s page=%d", s.fullName, s.page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	s.recordRateLimit(resp.Header)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GitHub API returned %d: %s", resp.StatusCode, string(body))
	}

	var items []githubPRItem
	if err := json.Unmarshal(body, &items); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	s.buf = items
	if len(items) < s.opts.PerPage {
		s.lastPage = true
	}
	return nil
}

func (s *Source) recordRateLimit(h http.Header) {
	remaining, errRemaining := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	limit, errLimit := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	if errRemaining != nil || errLimit != nil {
		return
	}
	s.rate = RateLimit{Remaining: remaining, Limit: limit, Known: true}
}

// ExtractRepoFullName accepts "owner/name", a github.com web URL, or an API
// repository URL and returns "owner/name".
func ExtractRepoFullName(repo string) string {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return ""
	}
	path := repo
	if strings.Contains(repo, "://") {
		u, err := url.Parse(repo)
		if err != nil {
			return ""
		}
		path = u.Path
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 0 && parts[0] == "repos" {
		parts = parts[1:]
	}
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return parts[0] + "/" + strings.TrimSuffix(parts[1], ".git")
}

func prIdentifier(number int) string {
	return strconv.Itoa(number)
}
