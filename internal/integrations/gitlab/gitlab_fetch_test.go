package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"changelabel/internal/domain"
)

func mrJSON(iid int, state, mergedAt, updatedAt, target string) map[string]any {
	return map[string]any{
		"iid":           iid,
		"title":         "MR " + strconv.Itoa(iid),
		"web_url":       "https://gitlab.example.com/group/proj/-/merge_requests/" + strconv.Itoa(iid),
		"description":   "details",
		"merged_at":     mergedAt,
		"updated_at":    updatedAt,
		"created_at":    updatedAt,
		"state":         state,
		"target_branch": target,
		"author": map[string]any{
			"username": "alice",
			"name":     "Alice",
		},
	}
}

func TestSourceListsMergedMRsUntilWindowStart(t *testing.T) {
	since := time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)
	inRange := since.Add(24 * time.Hour).Format(time.RFC3339)
	before := since.Add(-24 * time.Hour).Format(time.RFC3339)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/v4/projects/group%2Fproj/merge_requests" {
			t.Fatalf("unexpected path: %s", r.URL.EscapedPath())
		}
		if got := r.Header.Get("PRIVATE-TOKEN"); got != "glpat-test" {
			t.Fatalf("unexpected PRIVATE-TOKEN header: %q", got)
		}
		q := r.URL.Query()
		if q.Get("state") != "merged" || q.Get("order_by") != "updated_at" || q.Get("sort") != "desc" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		payload := []map[string]any{
			mrJSON(3, "merged", inRange, inRange, "main"),
			mrJSON(2, "merged", inRange, inRange, "release"),
			mrJSON(1, "merged", before, before, "main"),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	src, err := NewSource(Options{
		BaseURL:     server.URL,
		Token:       "glpat-test",
		Project:     "https://gitlab.example.com/group/proj/-/merge_requests",
		TrunkBranch: "main",
		Since:       since,
	})
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}
	ctx := context.Background()

	first, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if first.ID != "3" || first.Kind != domain.KindMergeRequest || !first.Finalized || !first.OnTrunk {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if first.Body != "details" {
		t.Fatalf("expected description as body, got %q", first.Body)
	}

	second, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if second.OnTrunk {
		t.Fatalf("MR targeting release should not be on trunk")
	}

	if _, err := src.Next(ctx); !errors.Is(err, domain.ErrWindowExhausted) {
		t.Fatalf("expected ErrWindowExhausted, got %v", err)
	}
}

func TestSourcePagination(t *testing.T) {
	mergedAt := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)

	pageHits := make(map[int]int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pageHits[page]++

		w.Header().Set("Content-Type", "application/json")
		switch page {
		case 1:
			// A full page forces a request for page 2.
			payload := make([]map[string]any, 0, 100)
			for i := 0; i < 100; i++ {
				payload = append(payload, mrJSON(1000-i, "merged", mergedAt, mergedAt, "main"))
			}
			_ = json.NewEncoder(w).Encode(payload)
		default:
			_ = json.NewEncoder(w).Encode([]map[string]any{mrJSON(200, "merged", mergedAt, mergedAt, "main")})
		}
	}))
	defer server.Close()

	src, err := NewSource(Options{BaseURL: server.URL, Project: "group/proj"})
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}

	count := 0
	var last domain.ChangeRecord
	for {
		rec, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		count++
		last = rec
	}
	if count != 101 {
		t.Fatalf("expected 101 MRs, got %d", count)
	}
	if last.ID != "200" {
		t.Fatalf("unexpected last record: %q", last.ID)
	}
	if pageHits[1] != 1 || pageHits[2] != 1 || pageHits[3] != 0 {
		t.Fatalf("expected pages 1 and 2 fetched once each, hits=%v", pageHits)
	}
}

func TestProjectPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://gitlab.example.com/group/proj/-/merge_requests/1", "group/proj"},
		{"https://gitlab.example.com/a/b/c/-/merge_requests/2", "a/b/c"},
		{"https://gitlab.example.com/a/b.git", "a/b"},
		{"group/proj", "group/proj"},
		{"12345", "12345"},
		{"", ""},
	}
	for _, tt := range tests {
		got := ProjectPath(tt.in)
		if got != tt.want {
			t.Fatalf("ProjectPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
