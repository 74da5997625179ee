package consultant

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

// renderSingle formats a lone expert run as a markdown section with the
// exploration and token footers.
func renderSingle(role contractx.Role, res contractx.ExpertResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s Analysis\n\n", role.Display())

	body := strings.TrimSpace(res.Answer)
	if body == "" {
		body = strings.TrimSpace(res.Failure)
	}
	if body == "" {
		body = "No analysis was produced."
	}
	b.WriteString(body)

	fmt.Fprintf(&b, "\n\n*Explored codebase: %d tool calls across %d iterations*", res.ToolCalls, res.Iterations)
	fmt.Fprintf(&b, "\n*Tokens: %d prompt, %d completion*", res.Usage.PromptTokens, res.Usage.CompletionTokens)
	return b.String()
}

// renderCouncil wraps the council synthesis in the discussion envelope,
// surfacing unresolved conflicts and gaps as their own sections.
func renderCouncil(resp contractx.ConsultResponse, roles []contractx.Role) string {
	var b strings.Builder
	b.WriteString("## Expert Council Discussion\n\n")

	summary := strings.TrimSpace(resp.Summary)
	if summary == "" {
		summary = "The council recorded findings but produced no synthesis."
	}
	b.WriteString(summary)

	if len(resp.Conflicts) > 0 {
		b.WriteString("\n\n### Unresolved Conflicts\n")
		for _, group := range resp.Conflicts {
			fmt.Fprintf(&b, "\n- %s:", group.Topic)
			for _, f := range group.Findings {
				fmt.Fprintf(&b, "\n  - %s: %s", f.Role.Display(), f.Claim)
			}
		}
	}
	if len(resp.Gaps) > 0 {
		b.WriteString("\n\n### Gaps\n")
		for _, gap := range resp.Gaps {
			fmt.Fprintf(&b, "\n- %s", gap)
		}
	}

	keys := make([]string, len(roles))
	for i, role := range roles {
		keys[i] = string(role)
	}
	fmt.Fprintf(&b, "\n\n*Council: %d experts (%s), %d findings, %d round(s)*",
		len(roles), strings.Join(keys, ", "), len(resp.Findings), roundsSpanned(resp.Findings))
	return b.String()
}

// roundsSpanned reports how many council rounds the findings cover. Rounds
// are zero-indexed on findings, so an empty board still counts as one round.
func roundsSpanned(findings []contractx.Finding) int {
	max := 0
	for _, f := range findings {
		if f.Round > max {
			max = f.Round
		}
	}
	return max + 1
}

// fallbackOutcome pairs a role with the result of its independent consult
// during degraded fan-out.
type fallbackOutcome struct {
	role contractx.Role
	res  contractx.ExpertResult
	err  error
}

// renderFallback formats the degraded parallel-consultation output: one
// section per expert, failures labeled, findings left unreconciled.
func renderFallback(outcomes []fallbackOutcome) string {
	var b strings.Builder
	b.WriteString("Council coordination failed; each expert was consulted independently. Findings below are unreconciled.\n")

	succeeded, failed := 0, 0
	for _, o := range outcomes {
		if o.res.Status == contractx.StatusCompleted {
			succeeded++
			answer := strings.TrimSpace(o.res.Answer)
			if answer == "" {
				answer = "No analysis was produced."
			}
			fmt.Fprintf(&b, "\n## %s\n\n%s\n", o.role.Display(), answer)
			continue
		}
		failed++
		reason := strings.TrimSpace(o.res.Failure)
		if reason == "" && o.err != nil {
			reason = o.err.Error()
		}
		if reason == "" {
			reason = "no analysis produced"
		}
		fmt.Fprintf(&b, "\n## %s (Failed)\n\n%s\n", o.role.Display(), reason)
	}

	fmt.Fprintf(&b, "\n*Consulted %d experts: %d succeeded, %d failed*", len(outcomes), succeeded, failed)
	return b.String()
}
