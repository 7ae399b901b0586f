package resolve

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultRepoCacheTTL bounds how long the known-repository list is served
// without a refresh.
const DefaultRepoCacheTTL = 5 * time.Minute

// Repo is one entry of the known-repository list.
type Repo struct {
	Owner       string
	Name        string
	FullName    string
	Description string
}

// RepoCache is a TTL cache over the known-repository list. It is an
// explicit object with an injected clock and fill function, constructed
// once per process and passed by reference, so tests can run independent
// instances with fake clocks.
type RepoCache struct {
	fill func(ctx context.Context) ([]Repo, error)
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	repos   []Repo
	fetched time.Time
	primed  bool
}

// NewRepoCache creates a RepoCache. fill is called to (re)load the list
// when the cached copy is missing or older than ttl.
func NewRepoCache(fill func(ctx context.Context) ([]Repo, error), ttl time.Duration, now func() time.Time) (*RepoCache, error) {
	if fill == nil {
		return nil, fmt.Errorf("resolve: repo cache: fill function is required")
	}
	if ttl <= 0 {
		ttl = DefaultRepoCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &RepoCache{fill: fill, ttl: ttl, now: now}, nil
}

// Repos returns the cached repository list, refreshing it when stale. A
// refresh failure serves the stale copy when one exists; a cold cache
// propagates the error.
func (c *RepoCache) Repos(ctx context.Context) ([]Repo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := c.primed && c.now().Sub(c.fetched) < c.ttl
	if fresh {
		return c.repos, nil
	}

	repos, err := c.fill(ctx)
	if err != nil {
		if c.primed {
			return c.repos, nil
		}
		return nil, fmt.Errorf("resolve: repo cache fill: %w", err)
	}
	c.repos = repos
	c.fetched = c.now()
	c.primed = true
	return c.repos, nil
}

// Invalidate discards the cached list so the next Repos call refills.
func (c *RepoCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primed = false
	c.repos = nil
}
