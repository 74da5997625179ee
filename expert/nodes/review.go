package councilnode

import (
	"fmt"
	"sort"
	"strings"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	statex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/state"
)

// negatorPrefixes are the claim openers that flip a claim's direction. Order
// matters: longer prefixes first so "do not" is not consumed as bare "not".
var negatorPrefixes = []string{"do not ", "don't ", "never ", "avoid ", "not "}

// Review recomputes the verdict from the current board snapshot and appends
// it to the session history. It never fails; an empty board simply yields a
// verdict whose gaps name every planned role.
func Review(state *CouncilState) {
	verdict := ReviewFindings(state.Round, state.Plan, state.Board.Snapshot())
	state.Verdict = verdict
	state.Verdicts = append(state.Verdicts, verdict)
}

// ReviewFindings classifies a findings snapshot into consensus groups,
// conflict groups, and gaps. It is a pure function: the same snapshot always
// produces byte-identical output.
//
// Findings sharing a topic (case-insensitive) form a group. Groups backed by
// two or more roles are consensus when every finding sits in the same
// actionability band and no pair of claims directly negate each other;
// otherwise they are a conflict, and each finding copy in the conflict group
// carries the topic as its conflict tag. A topic raised by a single role is
// uncontested consensus. Plan assignments whose role contributed nothing at
// all become gaps.
//
// Group ordering: corroborating role count descending, then earliest role in
// enumeration order, then lexically smallest claim, then topic.
func ReviewFindings(round int, plan contractx.ConsultationPlan, snapshot []contractx.Finding) contractx.ReviewVerdict {
	byTopic := make(map[string][]contractx.Finding, len(snapshot))
	for _, f := range snapshot {
		topic := normalizeTopic(f.Topic)
		if topic == "" {
			continue
		}
		byTopic[topic] = append(byTopic[topic], f)
	}

	verdict := contractx.ReviewVerdict{Round: round}
	for topic, group := range byTopic {
		findings := statex.SortStable(group)
		roles := distinctRoles(findings)
		if len(roles) >= 2 && !agreeInSubstance(findings) {
			tagged := make([]contractx.Finding, len(findings))
			for i, f := range findings {
				f.ConflictTag = topic
				tagged[i] = f
			}
			verdict.Conflicts = append(verdict.Conflicts, contractx.ConflictGroup{
				Topic:    topic,
				Roles:    roles,
				Findings: tagged,
			})
			continue
		}
		verdict.Consensus = append(verdict.Consensus, contractx.ConsensusGroup{
			Topic:    topic,
			Roles:    roles,
			Findings: findings,
		})
	}

	sort.Slice(verdict.Consensus, func(i, j int) bool {
		a, b := verdict.Consensus[i], verdict.Consensus[j]
		return groupKeyOf(a.Topic, a.Roles, a.Findings).less(groupKeyOf(b.Topic, b.Roles, b.Findings))
	})
	sort.Slice(verdict.Conflicts, func(i, j int) bool {
		a, b := verdict.Conflicts[i], verdict.Conflicts[j]
		return groupKeyOf(a.Topic, a.Roles, a.Findings).less(groupKeyOf(b.Topic, b.Roles, b.Findings))
	})

	verdict.Gaps = planGaps(plan, snapshot)
	return verdict
}

// PrepareDelta advances the round counter and replaces the assignments with
// conflict-targeted follow-ups. Calling it without conflicts on the verdict
// is a coordinator bug, not a recoverable state.
func PrepareDelta(state *CouncilState) error {
	if len(state.Verdict.Conflicts) == 0 {
		return fmt.Errorf("%w: delta round prepared without conflicts", contractx.ErrCoordinatorInternal)
	}
	state.Round++
	state.Assignments = BuildDeltaAssignments(state.Verdict, state.Request.Problem)
	return nil
}

// BuildDeltaAssignments produces one follow-up assignment per role party to a
// conflict. A role appearing in several conflict groups is re-tasked against
// the highest-priority one only; the rest stay on the verdict for the next
// review. Each assignment attaches the claims made by the other roles in its
// group so the expert argues against something concrete.
func BuildDeltaAssignments(verdict contractx.ReviewVerdict, problem string) []contractx.TaskAssignment {
	assigned := make(map[contractx.Role]bool)
	var out []contractx.TaskAssignment
	for _, group := range verdict.Conflicts {
		for _, role := range group.Roles {
			if assigned[role] {
				continue
			}
			assigned[role] = true
			var opposing []contractx.Finding
			for _, f := range group.Findings {
				if f.Role != role {
					opposing = append(opposing, f)
				}
			}
			out = append(out, contractx.TaskAssignment{
				Role:           role,
				Task:           strings.TrimSpace(problem),
				ConflictTopic:  group.Topic,
				ConflictClaims: opposing,
			})
		}
	}
	return out
}

// UnresolvedConflictGaps renders conflicts that survived the last delta round
// as gap entries for the final verdict.
func UnresolvedConflictGaps(verdict contractx.ReviewVerdict, deltaRounds int) []string {
	out := make([]string, 0, len(verdict.Conflicts))
	for _, group := range verdict.Conflicts {
		out = append(out, fmt.Sprintf("conflict on %q remained unresolved after %d delta round(s)", group.Topic, deltaRounds))
	}
	return out
}

func normalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

// distinctRoles returns the unique roles behind a sorted finding group, in
// enumeration order.
func distinctRoles(findings []contractx.Finding) []contractx.Role {
	seen := make(map[contractx.Role]bool, len(findings))
	var out []contractx.Role
	for _, f := range findings {
		if !seen[f.Role] {
			seen[f.Role] = true
			out = append(out, f.Role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order() < out[j].Order() })
	return out
}

// agreeInSubstance reports whether a multi-role group reads as agreement:
// every finding in the same actionability band and no two claims that state
// direct opposites.
func agreeInSubstance(findings []contractx.Finding) bool {
	actionable := findings[0].Severity.Actionable()
	for _, f := range findings[1:] {
		if f.Severity.Actionable() != actionable {
			return false
		}
	}
	for i := 0; i < len(findings); i++ {
		for j := i + 1; j < len(findings); j++ {
			if findings[i].Role == findings[j].Role {
				continue
			}
			if claimsNegate(findings[i].Claim, findings[j].Claim) {
				return false
			}
		}
	}
	return true
}

// claimsNegate detects the "use X" vs "do not use X" pattern: both claims
// reduce to the same core statement but only one of them opens with a
// negator.
func claimsNegate(a, b string) bool {
	coreA, negA := stripNegator(a)
	coreB, negB := stripNegator(b)
	return coreA != "" && coreA == coreB && negA != negB
}

func stripNegator(claim string) (core string, negated bool) {
	s := strings.ToLower(strings.TrimSpace(claim))
	s = strings.TrimRight(s, ".!")
	for _, prefix := range negatorPrefixes {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			s = rest
			negated = true
			break
		}
	}
	return strings.Join(strings.Fields(s), " "), negated
}

// planGaps names every planned role that contributed no findings at all.
// Gaps follow plan order, which is request order after normalization.
func planGaps(plan contractx.ConsultationPlan, snapshot []contractx.Finding) []string {
	contributed := make(map[contractx.Role]bool, len(snapshot))
	for _, f := range snapshot {
		contributed[f.Role] = true
	}
	var out []string
	for _, a := range plan.Assignments {
		if !contributed[a.Role] {
			out = append(out, fmt.Sprintf("%s produced no findings for: %s", a.Role.Display(), a.Task))
		}
	}
	return out
}

type groupKey struct {
	roleCount int
	minOrder  int
	minClaim  string
	topic     string
}

func groupKeyOf(topic string, roles []contractx.Role, findings []contractx.Finding) groupKey {
	key := groupKey{roleCount: len(roles), minOrder: len(contractx.AllRoles()), topic: topic}
	if len(roles) > 0 {
		key.minOrder = roles[0].Order()
	}
	for i, f := range findings {
		if i == 0 || f.Claim < key.minClaim {
			key.minClaim = f.Claim
		}
	}
	return key
}

func (k groupKey) less(o groupKey) bool {
	if k.roleCount != o.roleCount {
		return k.roleCount > o.roleCount
	}
	if k.minOrder != o.minOrder {
		return k.minOrder < o.minOrder
	}
	if k.minClaim != o.minClaim {
		return k.minClaim < o.minClaim
	}
	return k.topic < o.topic
}
