package github

import (
	"time"

	"changelabel/internal/domain"
)

// convertPR maps a pulls API item onto a change record. Only merged PRs are
// finalized; a PR closed without merging is handed out so the pipeline can
// count and skip it.
func convertPR(item githubPRItem) domain.ChangeRecord {
	createdAt, _ := time.Parse(time.RFC3339, item.CreatedAt)
	var mergedAt time.Time
	if item.MergedAt != nil {
		mergedAt, _ = time.Parse(time.RFC3339, *item.MergedAt)
	}

	rec := domain.ChangeRecord{
		ID:          prIdentifier(item.Number),
		Kind:        domain.KindPullRequest,
		Title:       item.Title,
		Body:        item.Body,
		Author:      item.User.Login,
		URL:         item.HTMLURL,
		AuthoredAt:  createdAt,
		Finalized:   !mergedAt.IsZero(),
		FinalizedAt: mergedAt,
		OnTrunk:     item.Base.Ref != "" && item.Base.Ref == item.Base.Repo.DefaultBranch,
	}
	return rec
}
