package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// ModelCaller performs a single-shot completion. Abstracted so the
// cascade tests can count invocations without network access.
type ModelCaller interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AnthropicCaller implements ModelCaller against the Anthropic Messages
// API.
type AnthropicCaller struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicCaller creates an AnthropicCaller.
func NewAnthropicCaller(client *anthropic.Client, model string) (*AnthropicCaller, error) {
	if client == nil {
		return nil, fmt.Errorf("resolve: anthropic caller: client is required")
	}
	if model == "" {
		return nil, fmt.Errorf("resolve: anthropic caller: model is required")
	}
	return &AnthropicCaller{client: client, model: model}, nil
}

// Complete sends one user message and concatenates the text blocks of the
// response.
func (a *AnthropicCaller) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// classifierOutput is the structured output contract for the free-text
// classifier. RepoID is null when no repository matches.
type classifierOutput struct {
	RepoID       *string  `json:"repo_id"`
	Confidence   string   `json:"confidence"` // high | medium | low
	Reasoning    string   `json:"reasoning"`
	Alternatives []string `json:"alternatives"`
}

// ClassifyStrategy resolves free text against the full known-repository
// list with a single-shot model call. It is the last, most expensive
// strategy in the cascade.
type ClassifyStrategy struct {
	cache  *RepoCache
	caller ModelCaller
}

// NewClassifyStrategy creates a ClassifyStrategy.
func NewClassifyStrategy(cache *RepoCache, caller ModelCaller) (*ClassifyStrategy, error) {
	if cache == nil {
		return nil, fmt.Errorf("resolve: classify strategy: repo cache is required")
	}
	if caller == nil {
		return nil, fmt.Errorf("resolve: classify strategy: model caller is required")
	}
	return &ClassifyStrategy{cache: cache, caller: caller}, nil
}

// Name implements Strategy.
func (s *ClassifyStrategy) Name() string { return "classifier" }

// Resolve implements Strategy.
func (s *ClassifyStrategy) Resolve(ctx context.Context, req Request) (*RepoCandidate, error) {
	repos, err := s.cache.Repos(ctx)
	if err != nil {
		return nil, fmt.Errorf("classify: list repos: %w", err)
	}
	if len(repos) == 0 {
		return nil, nil
	}
	if len(repos) == 1 {
		return &RepoCandidate{
			Owner:      repos[0].Owner,
			Name:       repos[0].Name,
			FullName:   repos[0].FullName,
			Confidence: ConfidenceHigh,
			Reasoning:  "Only one repository is available.",
			Source:     s.Name(),
		}, nil
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, nil
	}

	out, err := s.caller.Complete(ctx, s.buildPrompt(repos, req.Text))
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	var parsed classifierOutput
	if err := json.Unmarshal([]byte(stripFences(out)), &parsed); err != nil {
		return nil, fmt.Errorf("classify: parse response: %w", err)
	}

	if parsed.RepoID == nil || *parsed.RepoID == "" {
		if len(parsed.Alternatives) == 0 {
			return nil, nil
		}
		// No definite match, but the alternatives feed the clarification
		// path. An empty FullName marks the candidate as non-definite.
		return &RepoCandidate{
			Confidence:   ConfidenceLow,
			Reasoning:    parsed.Reasoning,
			Source:       s.Name(),
			Alternatives: parsed.Alternatives,
		}, nil
	}

	conf := Confidence(parsed.Confidence)
	switch conf {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		conf = ConfidenceLow
	}
	cand, err := candidateFromFullName(*parsed.RepoID, conf, parsed.Reasoning, s.Name())
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	cand.Alternatives = parsed.Alternatives
	return cand, nil
}

// buildPrompt renders the known repositories and the request text into the
// single-shot classification prompt with a strict JSON output contract.
func (s *ClassifyStrategy) buildPrompt(repos []Repo, text string) string {
	var b strings.Builder
	b.WriteString("You route engineering requests to a code repository.\n\n")
	b.WriteString("Known repositories:\n")
	for _, r := range repos {
		fmt.Fprintf(&b, "- %s", r.FullName)
		if r.Description != "" {
			fmt.Fprintf(&b, " — %s", r.Description)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\nRequest:\n%s\n\n", text)
	b.WriteString(`Respond with JSON only, no prose:
{
  "repo_id": "owner/name or null when no repository clearly matches",
  "confidence": "high|medium|low",
  "reasoning": "one sentence",
  "alternatives": ["other plausible owner/name values"]
}`)
	return b.String()
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag, from a model response.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
