package resolve

import (
	"context"
	"log"
)

// Strategy is one step in the repository resolution cascade. Resolve
// returns a candidate to stop the cascade, or (nil, nil) to pass to the
// next strategy. A strategy error is logged and treated as a pass, so a
// failing suggestion API or classifier never blocks the cheaper static
// mappings that follow it in other orderings.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, req Request) (*RepoCandidate, error)
}

// Cascade evaluates strategies in order until one yields a candidate.
type Cascade struct {
	strategies []Strategy
}

// NewCascade creates a Cascade from the given strategies, evaluated in
// argument order.
func NewCascade(strategies ...Strategy) *Cascade {
	return &Cascade{strategies: strategies}
}

// Resolve runs the cascade. It returns the first candidate produced, or
// nil when every strategy passes. The caller is responsible for the
// clarification path on a nil or non-definite result.
func (c *Cascade) Resolve(ctx context.Context, req Request) (*RepoCandidate, error) {
	for _, s := range c.strategies {
		cand, err := s.Resolve(ctx, req)
		if err != nil {
			log.Printf("resolve: strategy %s: %v", s.Name(), err)
			continue
		}
		if cand != nil {
			log.Printf("resolve: strategy %s: %s (confidence=%s)", s.Name(), cand.FullName, cand.Confidence)
			return cand, nil
		}
	}
	return nil, nil
}
