// Package aggregate reconstructs a human-readable completion summary from
// a backend session's paginated event log.
package aggregate

import (
	"context"
	"fmt"
	"log"
	"unicode/utf8"

	"github.com/trestle-dev/trestle/internal/agent"
)

// pageLimit is the page size requested from the backend. The backend
// enforces its own hard cap; the aggregator always loops on hasMore rather
// than assuming a single page.
const pageLimit = 100

// maxPages bounds the pagination loop against a backend that never stops
// reporting more pages.
const maxPages = 100

// shellBudget is the character budget for shell command summaries.
const shellBudget = 80

// EventSource provides the session event log and artifacts. *agent.Client
// satisfies it.
type EventSource interface {
	Events(ctx context.Context, sessionID, messageID, cursor string, limit int) (*agent.EventsPage, error)
	Artifacts(ctx context.Context, sessionID string) ([]agent.Artifact, error)
}

// Summary is the aggregated outcome of one prompted message.
type Summary struct {
	Text      string
	ToolCalls []string
	Artifacts []agent.Artifact
	Plan      []agent.PlanStep
	Success   bool
}

// Aggregator reduces event logs to summaries.
type Aggregator struct {
	source EventSource
}

// New creates an Aggregator.
func New(source EventSource) (*Aggregator, error) {
	if source == nil {
		return nil, fmt.Errorf("aggregate: event source is required")
	}
	return &Aggregator{source: source}, nil
}

// Aggregate fetches the full event log for (sessionID, messageID) and
// reduces it. Re-running against an unchanged log yields an identical
// summary.
func (a *Aggregator) Aggregate(ctx context.Context, sessionID, messageID string) (*Summary, error) {
	events, err := a.fetchAll(ctx, sessionID, messageID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}

	// Token events are cumulative snapshots: the final text is the last
	// one, ordered by (timestamp, id) for a deterministic tie-break.
	var lastToken *agent.Event
	seen := make(map[string]bool, len(events))
	var embedded []agent.Artifact
	planStatus := make(map[string]string)
	var planOrder []string

	for i := range events {
		ev := &events[i]
		if ev.ID != "" && seen[ev.ID] {
			continue
		}
		if ev.ID != "" {
			seen[ev.ID] = true
		}

		switch ev.Type {
		case agent.EventToken:
			if lastToken == nil || tokenAfter(ev, lastToken) {
				lastToken = ev
			}
		case agent.EventToolCall:
			summary.ToolCalls = append(summary.ToolCalls, summarizeTool(ev.ToolKind, ev.ToolInput))
		case agent.EventArtifact:
			if ev.Artifact != nil {
				embedded = append(embedded, *ev.Artifact)
			}
		case agent.EventPlanUpdate:
			if ev.PlanStep != nil {
				if _, ok := planStatus[ev.PlanStep.Title]; !ok {
					planOrder = append(planOrder, ev.PlanStep.Title)
				}
				planStatus[ev.PlanStep.Title] = ev.PlanStep.Status
			}
		case agent.EventExecutionComplete:
			// Absence of this event means success=false; presence reads
			// the flag, defaulting false when the backend omits it.
			summary.Success = ev.Success != nil && *ev.Success
		}
	}

	if lastToken != nil {
		summary.Text = lastToken.Text
	}
	for _, title := range planOrder {
		summary.Plan = append(summary.Plan, agent.PlanStep{Title: title, Status: planStatus[title]})
	}

	// The dedicated artifact endpoint takes full precedence over
	// artifact events embedded in the log; the fallback is used only when
	// the endpoint fails or returns nothing.
	artifacts, err := a.source.Artifacts(ctx, sessionID)
	if err != nil {
		log.Printf("aggregate: artifacts for %s: %v (falling back to embedded events)", sessionID, err)
		artifacts = nil
	}
	if len(artifacts) > 0 {
		summary.Artifacts = artifacts
	} else {
		summary.Artifacts = embedded
	}

	return summary, nil
}

// fetchAll pages through the event log until the backend reports no more.
func (a *Aggregator) fetchAll(ctx context.Context, sessionID, messageID string) ([]agent.Event, error) {
	var events []agent.Event
	cursor := ""
	for page := 0; ; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("aggregate: session %s: exceeded %d event pages", sessionID, maxPages)
		}
		resp, err := a.source.Events(ctx, sessionID, messageID, cursor, pageLimit)
		if err != nil {
			return nil, fmt.Errorf("aggregate: fetch events: %w", err)
		}
		events = append(events, resp.Events...)
		if !resp.HasMore || resp.Cursor == "" {
			return events, nil
		}
		cursor = resp.Cursor
	}
}

// tokenAfter reports whether a orders after b by (timestamp, id).
func tokenAfter(a, b *agent.Event) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.ID > b.ID
	}
	return a.Timestamp.After(b.Timestamp)
}

// summarizeTool renders one tool-call event as a short human-readable
// line.
func summarizeTool(kind, input string) string {
	switch kind {
	case "read":
		return fmt.Sprintf("Read %s", input)
	case "write":
		return fmt.Sprintf("Wrote %s", input)
	case "edit":
		return fmt.Sprintf("Edited %s", input)
	case "shell":
		return fmt.Sprintf("Ran `%s`", truncate(input, shellBudget))
	case "search":
		return fmt.Sprintf("Searched for %q", input)
	default:
		return fmt.Sprintf("Used %s", kind)
	}
}

// truncate cuts s to max characters, appending an ellipsis marker.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so the cut never splits a multibyte
	// character.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
