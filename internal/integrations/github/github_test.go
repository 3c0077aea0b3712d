package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changelabel/internal/domain"
)

func TestExtractRepoFullName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"serde-rs/json", "serde-rs/json"},
		{"https://github.com/serde-rs/json", "serde-rs/json"},
		{"https://github.com/serde-rs/json.git", "serde-rs/json"},
		{"https://api.github.com/repos/myorg/myrepo", "myorg/myrepo"},
		{"https://api.github.com/repos/a/b/extra", "a/b"},
		{"", ""},
		{"not-a-repo", ""},
	}
	for _, tt := range tests {
		got := ExtractRepoFullName(tt.input)
		if got != tt.want {
			t.Errorf("ExtractRepoFullName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func prJSON(number int, updated time.Time, merged *time.Time) map[string]any {
	item := map[string]any{
		"number":     number,
		"title":      fmt.Sprintf("PR %d", number),
		"body":       "body",
		"html_url":   fmt.Sprintf("https://github.com/o/r/pull/%d", number),
		"state":      "closed",
		"created_at": updated.Add(-time.Hour).Format(time.RFC3339),
		"updated_at": updated.Format(time.RFC3339),
		"user":       map[string]any{"login": "alice"},
		"base": map[string]any{
			"ref":  "main",
			"repo": map[string]any{"default_branch": "main"},
		},
	}
	if merged != nil {
		item["merged_at"] = merged.Format(time.RFC3339)
	} else {
		item["merged_at"] = nil
	}
	return item
}

func TestSourcePaginatesLazilyAndStopsAtWindow(t *testing.T) {
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	merged := since.Add(48 * time.Hour)

	pages := map[int][]map[string]any{
		1: {
			prJSON(10, since.Add(72*time.Hour), &merged),
			prJSON(9, since.Add(60*time.Hour), nil),
		},
		2: {
			prJSON(8, since.Add(24*time.Hour), &merged),
			prJSON(7, since.Add(-time.Hour), &merged),
		},
	}
	var requested []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/o/r/pulls", r.URL.Path)
		assert.Equal(t, "closed", r.URL.Query().Get("state"))
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		assert.Equal(t, "desc", r.URL.Query().Get("direction"))
		assert.Equal(t, "Bearer ghp-test", r.Header.Get("Authorization"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		requested = append(requested, page)
		w.Header().Set("X-RateLimit-Remaining", "4990")
		w.Header().Set("X-RateLimit-Limit", "5000")
		_ = json.NewEncoder(w).Encode(pages[page])
	}))
	defer srv.Close()

	src, err := NewSource(Options{BaseURL: srv.URL, Token: "ghp-test", Repo: "o/r", Since: since, PerPage: 2})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10", first.ID)
	assert.Equal(t, domain.KindPullRequest, first.Kind)
	assert.True(t, first.Finalized)
	assert.True(t, first.OnTrunk)
	assert.Equal(t, merged, first.FinalizedAt.UTC())
	assert.Equal(t, []int{1}, requested, "second page fetched before it was needed")

	unmerged, err := src.Next(ctx)
	require.NoError(t, err)
	assert.False(t, unmerged.Finalized)

	third, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "8", third.ID)
	assert.Equal(t, []int{1, 2}, requested)

	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, domain.ErrWindowExhausted))
	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, domain.ErrWindowExhausted), "exhaustion is sticky")

	assert.Equal(t, RateLimit{Remaining: 4990, Limit: 5000, Known: true}, src.RateLimit())
	assert.Equal(t, "4990/5000", src.RateLimit().String())
}

func TestSourceEndsWithEOF(t *testing.T) {
	merged := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{prJSON(1, merged, &merged)})
	}))
	defer srv.Close()

	src, err := NewSource(Options{BaseURL: srv.URL, Repo: "o/r"})
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, src.RateLimit().Known)
}

func TestSourceAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"API rate limit exceeded"}`))
	}))
	defer srv.Close()

	src, err := NewSource(Options{BaseURL: srv.URL, Repo: "o/r"})
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.NotErrorIs(t, err, io.EOF)
}

func TestNewSourceRejectsBadRepo(t *testing.T) {
	_, err := NewSource(Options{Repo: "just-a-name"})
	assert.Error(t, err)
}
