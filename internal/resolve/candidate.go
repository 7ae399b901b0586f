// Package resolve decides which repository and which model/effort a
// request targets. Repository resolution is an ordered, short-circuiting
// cascade of strategies; model resolution is a precedence chain validated
// against the known model registry.
package resolve

import (
	"fmt"
	"strings"
)

// Confidence tiers for a repository candidate.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Request carries the conversation context available to resolution
// strategies. Fields a strategy does not need are left zero.
type Request struct {
	Platform   string
	ProjectKey string   // explicit project identifier, when present
	ChannelID  string   // chat channel, when the event came from chat
	Labels     []string // issue labels / message tags
	Text       string   // free text of the triggering message
}

// RepoCandidate is the outcome of one resolution strategy. A candidate
// with an empty FullName represents a no-match that still carries
// alternatives for the clarification path.
type RepoCandidate struct {
	Owner        string
	Name         string
	FullName     string
	Confidence   Confidence
	Reasoning    string
	Source       string   // strategy that produced the candidate
	Alternatives []string // other plausible repository full names
}

// Definite reports whether the candidate can be acted on without asking
// the requester. A medium-confidence result with alternatives present is
// ambiguous; ambiguity is never resolved by guessing.
func (c *RepoCandidate) Definite() bool {
	if c == nil || c.FullName == "" {
		return false
	}
	if c.Confidence == ConfidenceLow {
		return false
	}
	if c.Confidence == ConfidenceMedium && len(c.Alternatives) > 0 {
		return false
	}
	return true
}

// SplitFullName splits "owner/name" into its parts.
func SplitFullName(full string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(full, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("resolve: malformed repository %q, want owner/name", full)
	}
	return owner, name, nil
}

// candidateFromFullName builds a candidate, returning an error on a
// malformed full name.
func candidateFromFullName(full string, conf Confidence, reasoning, source string) (*RepoCandidate, error) {
	owner, name, err := SplitFullName(full)
	if err != nil {
		return nil, err
	}
	return &RepoCandidate{
		Owner:      owner,
		Name:       name,
		FullName:   full,
		Confidence: conf,
		Reasoning:  reasoning,
		Source:     source,
	}, nil
}
