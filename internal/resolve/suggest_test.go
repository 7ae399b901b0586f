package resolve

import (
	"context"
	"testing"
)

type fixedSuggester struct {
	suggestions []Suggestion
	calls       int
}

func (s *fixedSuggester) Suggest(ctx context.Context, query string) ([]Suggestion, error) {
	s.calls++
	return s.suggestions, nil
}

func TestSuggestStrategy_Threshold(t *testing.T) {
	sg := &fixedSuggester{suggestions: []Suggestion{
		{FullName: "acme/api", Confidence: 0.65},
		{FullName: "acme/web", Confidence: 0.69},
	}}
	s, err := NewSuggestStrategy(sg)
	if err != nil {
		t.Fatalf("NewSuggestStrategy: %v", err)
	}

	cand, err := s.Resolve(context.Background(), Request{Text: "fix checkout"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cand != nil {
		t.Errorf("candidate = %+v, want nil for sub-threshold suggestions", cand)
	}
}

func TestSuggestStrategy_AcceptsAtThreshold(t *testing.T) {
	sg := &fixedSuggester{suggestions: []Suggestion{
		{FullName: "acme/api", Confidence: 0.7},
	}}
	s, _ := NewSuggestStrategy(sg)

	cand, err := s.Resolve(context.Background(), Request{Text: "fix checkout"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cand == nil || cand.FullName != "acme/api" {
		t.Fatalf("candidate = %+v, want acme/api", cand)
	}
	if cand.Confidence != ConfidenceMedium {
		t.Errorf("Confidence = %s, want medium for 0.70", cand.Confidence)
	}
}

func TestSuggestStrategy_HighTierAndAlternatives(t *testing.T) {
	sg := &fixedSuggester{suggestions: []Suggestion{
		{FullName: "acme/web", Confidence: 0.72},
		{FullName: "acme/api", Confidence: 0.95},
	}}
	s, _ := NewSuggestStrategy(sg)

	cand, err := s.Resolve(context.Background(), Request{Text: "users endpoint 500s"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cand.FullName != "acme/api" || cand.Confidence != ConfidenceHigh {
		t.Errorf("candidate = %+v, want acme/api high", cand)
	}
	if len(cand.Alternatives) != 1 || cand.Alternatives[0] != "acme/web" {
		t.Errorf("Alternatives = %v", cand.Alternatives)
	}
}

func TestSuggestStrategy_EmptyTextYields(t *testing.T) {
	sg := &fixedSuggester{}
	s, _ := NewSuggestStrategy(sg)

	cand, err := s.Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cand != nil || sg.calls != 0 {
		t.Errorf("candidate = %+v calls = %d, want nil/0", cand, sg.calls)
	}
}
