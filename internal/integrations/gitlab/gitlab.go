// Package gitlab lists merged merge requests of one project as change records.
package gitlab

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
	defaultBaseURL = "https://gitlab.com"
	defaultPerPage = 100
)

var externalHTTPClient = httpx.ExternalHTTPClient()

type gitlabMRResponse struct {
	IID            int    `json:"iid"`
	Title          string `json:"title"`
	WebURL         string `json:"web_url"`
	Description    string `json:"description"`
	MergedAt       string `json:"merged_at"`
	UpdatedAt      string `json:"updated_at"`
	CreatedAt      string `json:"created_at"`
	State          string `json:"state"`
	TargetBranch   string `json:"target_branch"`
	MergeCommitSHA string `json:"merge_commit_sha"`
	Author         struct {
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"author"`
}

type Options struct {
	BaseURL string
	Token   string
	// Project is a numeric id, "group/project", or a web URL inside the project.
	Project     string
	TrunkBranch string
	Since       time.Time
	PerPage     int
}

type Source struct {
	opts     Options
	project  string
	page     int
	buf      []gitlabMRResponse
	lastPage bool
	err      error
}

func NewSource(opts Options) (*Source, error) {
	project := ProjectPath(opts.Project)
	if project == "" {
		return nil, fmt.Errorf("gitlab project is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.PerPage <= 0 {
		opts.PerPage = defaultPerPage
	}
	return &Source{opts: opts, project: project}, nil
}

func (s *Source) Name() string {
	return s.project
}

// Next returns the next merged MR, newest update first. It returns io.EOF at
// the end of the listing and domain.ErrWindowExhausted once an MR was last
// updated before Since.
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

	mr := s.buf[0]
	s.buf = s.buf[1:]

	updatedAt, err := time.Parse(time.RFC3339, mr.UpdatedAt)
	if err == nil && !s.opts.Since.IsZero() && updatedAt.Before(s.opts.Since) {
		log.Printf("gitlab source reached mr=!%d updated_at=%s before since=%s", mr.IID, mr.UpdatedAt, s.opts.Since.Format(time.RFC3339))
		s.err = domain.ErrWindowExhausted
		return domain.ChangeRecord{}, s.err
	}
	return s.convert(mr), nil
}

func (s *Source) convert(mr gitlabMRResponse) domain.ChangeRecord {
	mergedAt, err := time.Parse(time.RFC3339, mr.MergedAt)
	if err != nil {
		mergedAt = time.Time{}
	}
	createdAt, err := time.Parse(time.RFC3339, mr.CreatedAt)
	if err != nil {
		createdAt = time.Time{}
	}
	state := strings.ToLower(strings.TrimSpace(mr.State))

	return domain.ChangeRecord{
		ID:          strconv.Itoa(mr.IID),
		Kind:        domain.KindMergeRequest,
		Title:       mr.Title,
		Body:        mr.Description,
		Author:      mr.Author.Username,
		URL:         mr.WebURL,
		AuthoredAt:  createdAt,
		Finalized:   state == "merged" && !mergedAt.IsZero(),
		FinalizedAt: mergedAt,
		OnTrunk:     s.opts.TrunkBranch == "" || mr.TargetBranch == s.opts.TrunkBranch,
	}
}

func (s *Source) fetchPage(ctx context.Context) error {
	s.page++
	apiURL := fmt.Sprintf("%s/api/v4/projects/%s/merge_requests?state=merged&order_by=updated_at&sort=desc&per_page=%d&page=%d",
		strings.TrimRight(s.opts.BaseURL, "/"), url.PathEscape(s.project), s.opts.PerPage, s.page)
	log.Printf("gitlab fetch project=%s page=%d", s.project, s.page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if s.opts.Token != "" {
		req.Header.Set("PRIVATE-TOKEN", s.opts.Token)
	}

	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching MRs: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GitLab API returned %d: %s", resp.StatusCode, string(body))
	}

	var mrs []gitlabMRResponse
	if err := json.Unmarshal(body, &mrs); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	s.buf = mrs
	if len(mrs) < s.opts.PerPage {
		s.lastPage = true
	}
	return nil
}

// ProjectPath normalizes a project reference. Web URLs are cut at the "/-/"
// separator GitLab puts between the project path and a resource.
func ProjectPath(project string) string {
	project = strings.TrimSpace(project)
	if !strings.Contains(project, "://") {
		return strings.Trim(project, "/")
	}
	if p := extractProjectPath(project); p != "" {
		return p
	}
	u, err := url.Parse(project)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
}

func extractProjectPath(webURL string) string {
	u, err := url.Parse(webURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "-" && i >= 2 {
			return strings.Join(parts[:i], "/")
		}
	}
	return ""
}
