package resolve

import (
	"context"
	"fmt"
	"strings"
)

// ProjectMapStrategy resolves through the administrator-curated explicit
// project-to-repository mapping. Exact key match, highest precedence.
type ProjectMapStrategy struct {
	mapping map[string]string // project key -> "owner/name"
}

// NewProjectMapStrategy creates a ProjectMapStrategy.
func NewProjectMapStrategy(mapping map[string]string) *ProjectMapStrategy {
	return &ProjectMapStrategy{mapping: mapping}
}

// Name implements Strategy.
func (s *ProjectMapStrategy) Name() string { return "project-map" }

// Resolve implements Strategy.
func (s *ProjectMapStrategy) Resolve(ctx context.Context, req Request) (*RepoCandidate, error) {
	if req.ProjectKey == "" {
		return nil, nil
	}
	full, ok := s.mapping[req.ProjectKey]
	if !ok {
		return nil, nil
	}
	return candidateFromFullName(full, ConfidenceHigh,
		fmt.Sprintf("Explicit project mapping for %q.", req.ProjectKey), s.Name())
}

// ChannelRule routes one channel, optionally one label within it, to a
// repository. A rule without a label is the fallback for its channel.
type ChannelRule struct {
	Channel string
	Label   string
	Repo    string
}

// ChannelMapStrategy resolves through static channel-to-repository rules.
// Label-filtered rules win over the channel's unlabeled fallback rule.
type ChannelMapStrategy struct {
	rules []ChannelRule
}

// NewChannelMapStrategy creates a ChannelMapStrategy.
func NewChannelMapStrategy(rules []ChannelRule) *ChannelMapStrategy {
	return &ChannelMapStrategy{rules: rules}
}

// Name implements Strategy.
func (s *ChannelMapStrategy) Name() string { return "channel-map" }

// Resolve implements Strategy.
func (s *ChannelMapStrategy) Resolve(ctx context.Context, req Request) (*RepoCandidate, error) {
	if req.ChannelID == "" {
		return nil, nil
	}

	var fallback *ChannelRule
	for i := range s.rules {
		rule := &s.rules[i]
		if rule.Channel != req.ChannelID {
			continue
		}
		if rule.Label == "" {
			if fallback == nil {
				fallback = rule
			}
			continue
		}
		for _, label := range req.Labels {
			if strings.EqualFold(label, rule.Label) {
				return candidateFromFullName(rule.Repo, ConfidenceHigh,
					fmt.Sprintf("Channel %s with label %q maps to this repository.", rule.Channel, rule.Label), s.Name())
			}
		}
	}
	if fallback != nil {
		return candidateFromFullName(fallback.Repo, ConfidenceHigh,
			fmt.Sprintf("Channel %s maps to this repository.", fallback.Channel), s.Name())
	}
	return nil, nil
}
