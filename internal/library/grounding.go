package library

import (
	"fmt"
	"strings"
)

// MaxGroundingChars is the upper bound on the grounding context handed to
// the chat and voice sessions. The transport does not enforce a bound, so
// callers must truncate before opening a session.
const MaxGroundingChars = 25_000

// Grounding renders papers into the grounding context string injected into
// a model's instructions. The result is already truncated to
// [MaxGroundingChars].
func Grounding(papers []Paper) string {
	if len(papers) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("You answer questions using only the following paper summaries.\n\n")
	for i, p := range papers {
		fmt.Fprintf(&b, "Paper %d: %s (%d)\n", i+1, p.Title, p.Year)
		if len(p.Authors) > 0 {
			fmt.Fprintf(&b, "Authors: %s\n", strings.Join(p.Authors, ", "))
		}
		if p.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", p.Summary)
		}
		for _, h := range p.Highlights {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		if p.Link != "" {
			fmt.Fprintf(&b, "Link: %s\n", p.Link)
		}
		b.WriteString("\n")
	}
	return Truncate(b.String(), MaxGroundingChars)
}

// Truncate bounds s to max characters. Truncation is by byte on purpose:
// the bound protects the session setup payload, not display text.
func Truncate(s string, max int) string {
	if max < 0 {
		max = 0
	}
	if len(s) <= max {
		return s
	}
	return s[:max]
}
