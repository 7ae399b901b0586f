package resolve

import (
	"context"
	"errors"
	"testing"
)

// countingStrategy records how many times it was invoked and returns a
// fixed result.
type countingStrategy struct {
	name  string
	cand  *RepoCandidate
	err   error
	calls int
}

func (s *countingStrategy) Name() string { return s.name }

func (s *countingStrategy) Resolve(ctx context.Context, req Request) (*RepoCandidate, error) {
	s.calls++
	return s.cand, s.err
}

func TestCascade_ShortCircuits(t *testing.T) {
	first := &countingStrategy{name: "first", cand: &RepoCandidate{
		Owner: "acme", Name: "api", FullName: "acme/api", Confidence: ConfidenceHigh,
	}}
	second := &countingStrategy{name: "second"}
	third := &countingStrategy{name: "third"}

	cand, err := NewCascade(first, second, third).Resolve(context.Background(), Request{ProjectKey: "PROJ"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cand == nil || cand.FullName != "acme/api" {
		t.Fatalf("candidate = %+v, want acme/api", cand)
	}
	if first.calls != 1 {
		t.Errorf("first.calls = %d, want 1", first.calls)
	}
	if second.calls != 0 || third.calls != 0 {
		t.Errorf("later strategies invoked: second=%d third=%d, want 0", second.calls, third.calls)
	}
}

func TestCascade_PassThrough(t *testing.T) {
	first := &countingStrategy{name: "first"}
	second := &countingStrategy{name: "second", cand: &RepoCandidate{
		Owner: "acme", Name: "web", FullName: "acme/web", Confidence: ConfidenceHigh,
	}}

	cand, err := NewCascade(first, second).Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cand.FullName != "acme/web" {
		t.Errorf("candidate = %q, want acme/web", cand.FullName)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", first.calls, second.calls)
	}
}

func TestCascade_StrategyErrorYields(t *testing.T) {
	failing := &countingStrategy{name: "failing", err: errors.New("api down")}
	fallback := &countingStrategy{name: "fallback", cand: &RepoCandidate{
		Owner: "acme", Name: "api", FullName: "acme/api", Confidence: ConfidenceHigh,
	}}

	cand, err := NewCascade(failing, fallback).Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cand == nil || cand.FullName != "acme/api" {
		t.Errorf("candidate = %+v, want fallback result", cand)
	}
}

func TestCascade_AllYield(t *testing.T) {
	cand, err := NewCascade(&countingStrategy{name: "a"}, &countingStrategy{name: "b"}).
		Resolve(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cand != nil {
		t.Errorf("candidate = %+v, want nil", cand)
	}
}

func TestDefinite(t *testing.T) {
	cases := []struct {
		name string
		cand *RepoCandidate
		want bool
	}{
		{"nil", nil, false},
		{"high", &RepoCandidate{FullName: "a/b", Confidence: ConfidenceHigh}, true},
		{"high with alternatives", &RepoCandidate{FullName: "a/b", Confidence: ConfidenceHigh, Alternatives: []string{"a/c"}}, true},
		{"medium clean", &RepoCandidate{FullName: "a/b", Confidence: ConfidenceMedium}, true},
		{"medium with alternatives", &RepoCandidate{FullName: "a/b", Confidence: ConfidenceMedium, Alternatives: []string{"a/c"}}, false},
		{"low", &RepoCandidate{FullName: "a/b", Confidence: ConfidenceLow}, false},
		{"no repo", &RepoCandidate{Confidence: ConfidenceLow, Alternatives: []string{"a/c"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cand.Definite(); got != tc.want {
				t.Errorf("Definite() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestProjectMapStrategy(t *testing.T) {
	s := NewProjectMapStrategy(map[string]string{"PROJ": "acme/api"})

	cand, err := s.Resolve(context.Background(), Request{ProjectKey: "PROJ"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cand == nil || cand.FullName != "acme/api" || cand.Confidence != ConfidenceHigh {
		t.Errorf("candidate = %+v", cand)
	}
	if cand.Owner != "acme" || cand.Name != "api" {
		t.Errorf("owner/name = %s/%s, want acme/api", cand.Owner, cand.Name)
	}

	if cand, _ := s.Resolve(context.Background(), Request{ProjectKey: "OTHER"}); cand != nil {
		t.Errorf("unknown project resolved to %+v", cand)
	}
	if cand, _ := s.Resolve(context.Background(), Request{}); cand != nil {
		t.Errorf("empty project key resolved to %+v", cand)
	}
}

func TestChannelMapStrategy(t *testing.T) {
	s := NewChannelMapStrategy([]ChannelRule{
		{Channel: "C01", Label: "backend", Repo: "acme/api"},
		{Channel: "C01", Repo: "acme/web"},
		{Channel: "C02", Repo: "acme/infra"},
	})

	t.Run("label match beats fallback", func(t *testing.T) {
		cand, _ := s.Resolve(context.Background(), Request{ChannelID: "C01", Labels: []string{"Backend"}})
		if cand == nil || cand.FullName != "acme/api" {
			t.Errorf("candidate = %+v, want acme/api", cand)
		}
	})

	t.Run("no label falls back to unlabeled rule", func(t *testing.T) {
		cand, _ := s.Resolve(context.Background(), Request{ChannelID: "C01", Labels: []string{"frontend"}})
		if cand == nil || cand.FullName != "acme/web" {
			t.Errorf("candidate = %+v, want acme/web", cand)
		}
	})

	t.Run("unknown channel yields", func(t *testing.T) {
		if cand, _ := s.Resolve(context.Background(), Request{ChannelID: "C99"}); cand != nil {
			t.Errorf("candidate = %+v, want nil", cand)
		}
	})
}
