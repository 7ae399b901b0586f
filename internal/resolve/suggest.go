package resolve

import (
	"context"
	"fmt"
)

// SuggestionThreshold is the minimum confidence at which a platform
// suggestion is accepted. Tuned upstream; changing it changes observable
// routing behavior.
const SuggestionThreshold = 0.7

// Suggestion is one repository suggestion from a platform-native API.
type Suggestion struct {
	FullName   string
	Confidence float64
}

// Suggester is the platform-native repository-suggestion API.
type Suggester interface {
	Suggest(ctx context.Context, query string) ([]Suggestion, error)
}

// SuggestStrategy resolves through a platform suggestion API, accepting
// only suggestions at or above the confidence threshold.
type SuggestStrategy struct {
	suggester Suggester
	threshold float64
}

// NewSuggestStrategy creates a SuggestStrategy with the standard
// threshold.
func NewSuggestStrategy(suggester Suggester) (*SuggestStrategy, error) {
	if suggester == nil {
		return nil, fmt.Errorf("resolve: suggest strategy: suggester is required")
	}
	return &SuggestStrategy{suggester: suggester, threshold: SuggestionThreshold}, nil
}

// Name implements Strategy.
func (s *SuggestStrategy) Name() string { return "platform-suggestion" }

// Resolve implements Strategy.
func (s *SuggestStrategy) Resolve(ctx context.Context, req Request) (*RepoCandidate, error) {
	if req.Text == "" {
		return nil, nil
	}
	suggestions, err := s.suggester.Suggest(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("suggest: %w", err)
	}

	var accepted []Suggestion
	for _, sg := range suggestions {
		if sg.Confidence >= s.threshold {
			accepted = append(accepted, sg)
		}
	}
	if len(accepted) == 0 {
		return nil, nil
	}

	best := accepted[0]
	for _, sg := range accepted[1:] {
		if sg.Confidence > best.Confidence {
			best = sg
		}
	}

	tier := ConfidenceMedium
	if best.Confidence >= 0.9 {
		tier = ConfidenceHigh
	}
	cand, err := candidateFromFullName(best.FullName, tier,
		fmt.Sprintf("Platform suggestion scored %.2f.", best.Confidence), s.Name())
	if err != nil {
		return nil, err
	}
	for _, sg := range accepted {
		if sg.FullName != best.FullName {
			cand.Alternatives = append(cand.Alternatives, sg.FullName)
		}
	}
	return cand, nil
}
