package app

import (
	"context"
	"fmt"
	"log"

	"changelabel/internal/config"
	"changelabel/internal/integrations/github"
	"changelabel/internal/integrations/gitlab"
	"changelabel/internal/integrations/gitlog"
	"changelabel/internal/pipeline"
)

// changeSource is an opened source plus what the command needs at the end of
// a run.
type changeSource struct {
	pipeline.Source
	close     func() error
	rateLimit func() string
}

func (s changeSource) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func (s changeSource) RateLimit() string {
	if s.rateLimit == nil {
		return ""
	}
	return s.rateLimit()
}

func openSource(ctx context.Context, cfg config.Config) (changeSource, error) {
	if cfg.Repo == "" {
		return changeSource{}, fmt.Errorf("repo is required for source %s", cfg.Source)
	}
	switch cfg.Source {
	case config.SourceGit:
		src, err := gitlog.NewSource(ctx, gitlog.Options{
			Repo:        cfg.Repo,
			Branch:      cfg.Branch,
			TrunkBranch: cfg.TrunkBranch,
			Since:       cfg.Window.Since,
		})
		if err != nil {
			return changeSource{}, err
		}
		log.Printf("Reading commits from %s", src.Name())
		return changeSource{Source: src, close: src.Close}, nil
	case config.SourceGitHub:
		src, err := github.NewSource(github.Options{
			Token: cfg.GitHubToken,
			Repo:  cfg.Repo,
			Since: cfg.Window.Since,
		})
		if err != nil {
			return changeSource{}, err
		}
		log.Printf("Reading pull requests of %s", src.Name())
		return changeSource{Source: src, rateLimit: func() string { return src.RateLimit().String() }}, nil
	case config.SourceGitLab:
		src, err := gitlab.NewSource(gitlab.Options{
			BaseURL:     cfg.GitLabURL,
			Token:       cfg.GitLabToken,
			Project:     cfg.Repo,
			TrunkBranch: cfg.TrunkBranch,
			Since:       cfg.Window.Since,
		})
		if err != nil {
			return changeSource{}, err
		}
		log.Printf("Reading merge requests of %s", src.Name())
		return changeSource{Source: src}, nil
	}
	return changeSource{}, fmt.Errorf("unknown source %q", cfg.Source)
}
