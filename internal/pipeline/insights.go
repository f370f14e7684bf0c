package pipeline

import (
	"context"
	"fmt"
	"strings"

	"escalens/internal/domain"
)

// Narrator turns a trend prompt into a short narrative. nil means no
// credential is configured.
type Narrator interface {
	GenerateNarrative(ctx context.Context, prompt string) (string, error)
}

// mockNarrative is returned when no credential is configured and the mock
// fallback is enabled. It is static on purpose: a placeholder digest shape,
// not an analysis of the actual groups.
const mockNarrative = `- Escalation volume concentrates in a handful of root causes; the top group carries most of the qualifying tickets.
- Product defects cluster around recent releases; diff the top group against the latest change log before triaging individually.
- User-error tickets repeat the same workflows, pointing at onboarding and in-product guidance gaps rather than one-off confusion.
- Documentation gaps inflate volume for otherwise known behavior; the cheapest wins are doc fixes for the recurring questions.
- Integration failures track third-party dependencies; check vendor status history before attributing them to the product.`

// noCredentialWarning is returned when no credential is configured and the
// mock fallback is disabled.
const noCredentialWarning = "⚠️ Insights unavailable: no model credential configured. Set an API key or enable mock_if_no_credential."

// ComposeInsights produces the narrative for the root-cause groups. With a
// narrator it delegates and embeds any failure detail in the returned text;
// without one it falls back to the canned narrative or the warning string
// depending on mockFallback. Never returns an error: a failed narrative call
// degrades into text.
func ComposeInsights(ctx context.Context, narrator Narrator, rootGroups []domain.GroupSummary, daysBack, threshold int, mockFallback bool) string {
	if narrator == nil {
		if mockFallback {
			return mockNarrative
		}
		return noCredentialWarning
	}
	text, err := narrator.GenerateNarrative(ctx, insightsPrompt(rootGroups, daysBack, threshold))
	if err != nil {
		return fmt.Sprintf("Insights generation failed: %v", err)
	}
	return strings.TrimSpace(text)
}

func insightsPrompt(rootGroups []domain.GroupSummary, daysBack, threshold int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Root cause distribution for support escalations from the last %d days (confidence threshold %d%%):\n", daysBack, threshold)
	if len(rootGroups) == 0 {
		b.WriteString("- no qualifying tickets\n")
	}
	for _, g := range rootGroups {
		fmt.Fprintf(&b, "- %s: %d tickets, avg confidence %.1f%%\n", g.Label, g.Count, g.AvgConfidence)
	}
	b.WriteString("\nWrite 3-5 concise bullets for a support engineering lead: the dominant root causes, any concentration worth flagging, and one concrete next action.")
	return b.String()
}
