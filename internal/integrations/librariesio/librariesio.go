// Package librariesio fetches package popularity figures from libraries.io.
package librariesio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"changelabel/internal/httpx"
)

const defaultBaseURL = "https://libraries.io/api"

var ErrNotFound = errors.New("package not found")

type Project struct {
	Platform      string
	Name          string
	Stars         int
	Forks         int
	Subscribers   int
	RepositoryURL string
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: httpx.ExternalHTTPClient()}
}

// Project looks up one package. Missing numeric fields read as zero.
func (c *Client) Project(ctx context.Context, platform, name string) (Project, error) {
	apiURL := fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(platform), url.PathEscape(name))
	if c.apiKey != "" {
		apiURL += "?api_key=" + url.QueryEscape(c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return Project{}, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Project{}, fmt.Errorf("fetching %s/%s: %w", platform, name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Project{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return Project{}, fmt.Errorf("%s/%s: %w", platform, name, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Project{}, fmt.Errorf("libraries.io returned %d for %s/%s: %s", resp.StatusCode, platform, name, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return Project{}, fmt.Errorf("libraries.io returned invalid JSON for %s/%s", platform, name)
	}

	parsed := gjson.ParseBytes(body)
	p := Project{
		Platform:      platform,
		Name:          name,
		Stars:         int(parsed.Get("stars").Int()),
		Forks:         int(parsed.Get("forks").Int()),
		Subscribers:   int(parsed.Get("subscribers").Int()),
		RepositoryURL: parsed.Get("repository_url").String(),
	}
	if n := parsed.Get("name").String(); n != "" {
		p.Name = n
	}
	log.Printf("librariesio project platform=%s name=%s stars=%d forks=%d", platform, p.Name, p.Stars, p.Forks)
	return p, nil
}

type Failure struct {
	Platform string
	Name     string
	Err      error
}

// Projects looks up each "platform/name" spec in turn. Failed lookups are
// collected and do not stop the rest.
func (c *Client) Projects(ctx context.Context, specs []string, defaultPlatform string) ([]Project, []Failure) {
	var out []Project
	var failed []Failure
	for _, spec := range specs {
		platform, name := SplitSpec(spec, defaultPlatform)
		p, err := c.Project(ctx, platform, name)
		if err != nil {
			log.Printf("librariesio lookup failed platform=%s name=%s err=%v", platform, name, err)
			failed = append(failed, Failure{Platform: platform, Name: name, Err: err})
			continue
		}
		out = append(out, p)
	}
	return out, failed
}

// SplitSpec splits "pypi/requests" into platform and name. A bare name uses
// defaultPlatform.
func SplitSpec(spec, defaultPlatform string) (string, string) {
	spec = strings.TrimSpace(spec)
	if platform, name, ok := strings.Cut(spec, "/"); ok && platform != "" && name != "" {
		return platform, name
	}
	return defaultPlatform, spec
}
