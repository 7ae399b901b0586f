package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v68/github"
	"github.com/trestle-dev/trestle/internal/resolve"
)

// Suggester scores the organization's repositories against request text.
// The repository list comes from a TTL cache; scoring is lexical, since
// the REST list endpoint carries no relevance signal of its own.
type Suggester struct {
	cache *resolve.RepoCache
}

// NewSuggester creates a Suggester over a cached repository list.
func NewSuggester(cache *resolve.RepoCache) (*Suggester, error) {
	if cache == nil {
		return nil, fmt.Errorf("github: suggester: repo cache is required")
	}
	return &Suggester{cache: cache}, nil
}

// Suggest implements resolve.Suggester.
func (s *Suggester) Suggest(ctx context.Context, query string) ([]resolve.Suggestion, error) {
	repos, err := s.cache.Repos(ctx)
	if err != nil {
		return nil, err
	}
	words := strings.Fields(strings.ToLower(query))
	var out []resolve.Suggestion
	for _, repo := range repos {
		if score := scoreRepo(repo, words); score > 0 {
			out = append(out, resolve.Suggestion{FullName: repo.FullName, Confidence: score})
		}
	}
	return out, nil
}

// scoreRepo rates how strongly the query words point at one repository.
// An exact name word scores highest; name-fragment and description hits
// rank below the acceptance threshold on their own.
func scoreRepo(repo resolve.Repo, words []string) float64 {
	name := strings.ToLower(repo.Name)
	desc := strings.ToLower(repo.Description)
	best := 0.0
	for _, w := range words {
		switch {
		case w == name:
			return 0.95
		case len(w) >= 3 && strings.Contains(name, w):
			if best < 0.75 {
				best = 0.75
			}
		case len(w) >= 4 && desc != "" && strings.Contains(desc, w):
			if best < 0.4 {
				best = 0.4
			}
		}
	}
	return best
}

// ListOrgRepos returns a repo-cache fill function that pages through the
// organization's repositories.
func ListOrgRepos(client *gh.Client, org string) func(ctx context.Context) ([]resolve.Repo, error) {
	return func(ctx context.Context) ([]resolve.Repo, error) {
		opts := &gh.RepositoryListByOrgOptions{
			ListOptions: gh.ListOptions{PerPage: 100},
		}
		var out []resolve.Repo
		for {
			repos, resp, err := client.Repositories.ListByOrg(ctx, org, opts)
			if err != nil {
				return nil, fmt.Errorf("github: list repos for %s: %w", org, err)
			}
			for _, r := range repos {
				out = append(out, resolve.Repo{
					Owner:       r.GetOwner().GetLogin(),
					Name:        r.GetName(),
					FullName:    r.GetFullName(),
					Description: r.GetDescription(),
				})
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		return out, nil
	}
}
