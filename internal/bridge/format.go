package bridge

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/trestle-dev/trestle/internal/aggregate"
	"github.com/trestle-dev/trestle/internal/resolve"
)

const (
	// failureTextBudget truncates backend error text relayed to the user.
	failureTextBudget = 600
	// excerptBudget bounds the prior-response excerpt carried into
	// follow-up prompts for continuity.
	excerptBudget = 200
	// maxToolLines caps the tool activity section of a completion post.
	maxToolLines = 12
	// titleBudget bounds the session title derived from the first line of
	// the request.
	titleBudget = 80
)

// formatClarification renders the ambiguous/no-match resolution outcome.
// Ambiguity is surfaced to the requester, never resolved by guessing.
func formatClarification(cand *resolve.RepoCandidate) string {
	var b strings.Builder
	b.WriteString("I couldn't determine which repository this request targets.")
	if cand != nil && cand.Reasoning != "" {
		fmt.Fprintf(&b, " %s", cand.Reasoning)
	}
	if cand != nil && len(cand.Alternatives) > 0 {
		b.WriteString("\nCandidates:\n")
		for _, alt := range cand.Alternatives {
			fmt.Fprintf(&b, "• %s\n", alt)
		}
		b.WriteString("Reply naming one of them to continue.")
	} else {
		b.WriteString("\nPlease name the repository (owner/name) and try again.")
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatFailure renders a backend call failure as a short user-facing
// message. Details stay in the logs.
func formatFailure(op string) string {
	return fmt.Sprintf("Something went wrong while trying to %s. Please try again.", op)
}

// formatStarted confirms a newly created session.
func formatStarted(fullName, model string) string {
	return fmt.Sprintf("Working on it — started a session on %s (model %s). I'll report back here.", fullName, model)
}

// formatCompletion renders an aggregated completion summary. A failed run
// with output relays the truncated error text rather than a generic
// failure string.
func formatCompletion(summary *aggregate.Summary) string {
	if !summary.Success {
		if summary.Text != "" {
			return "The session hit a problem:\n" + truncateText(summary.Text, failureTextBudget)
		}
		return "The session finished without completing the task."
	}

	var b strings.Builder
	if summary.Text != "" {
		b.WriteString(truncateText(summary.Text, 3000))
	} else {
		b.WriteString("The session completed.")
	}

	if len(summary.Plan) > 0 {
		b.WriteString("\n\nPlan:")
		for _, step := range summary.Plan {
			fmt.Fprintf(&b, "\n%s %s", planMarker(step.Status), step.Title)
		}
	}

	if len(summary.ToolCalls) > 0 {
		b.WriteString("\n\nActivity:")
		lines := summary.ToolCalls
		rest := 0
		if len(lines) > maxToolLines {
			rest = len(lines) - maxToolLines
			lines = lines[:maxToolLines]
		}
		for _, line := range lines {
			fmt.Fprintf(&b, "\n• %s", line)
		}
		if rest > 0 {
			fmt.Fprintf(&b, "\n(+%d more)", rest)
		}
	}

	if len(summary.Artifacts) > 0 {
		b.WriteString("\n\nArtifacts:")
		for _, a := range summary.Artifacts {
			if a.URL != "" {
				fmt.Fprintf(&b, "\n• %s — %s", a.Name, a.URL)
			} else {
				fmt.Fprintf(&b, "\n• %s", a.Name)
			}
		}
	}

	return b.String()
}

// planMarker maps a plan step status to a compact marker.
func planMarker(status string) string {
	switch status {
	case "completed":
		return "[x]"
	case "in-progress":
		return "[~]"
	case "canceled":
		return "[-]"
	default:
		return "[ ]"
	}
}

// deriveTitle builds a session title from the first line of the request.
func deriveTitle(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		line = "Agent session"
	}
	return truncateText(line, titleBudget)
}

// truncateText cuts s to max characters with an ellipsis marker.
func truncateText(s string, max int) string {
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
