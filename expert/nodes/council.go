// Package councilnode holds the node logic behind the council coordinator
// graph. Each function advances one CouncilState phase; agents/council wires
// them into the compiled graph. Review and delta preparation are pure
// functions of the board snapshot so rerunning them on the same snapshot
// yields byte-identical verdicts.
package councilnode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
	statex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/state"
)

// CouncilState is the mutable session carried through the council graph.
// Nodes own it exclusively while they run; the execute barrier guarantees no
// expert goroutine is still writing to the board when review reads it.
type CouncilState struct {
	SessionID string
	Request   contractx.ConsultRequest

	// Roles is the deduplicated requested role set, in request order.
	Roles []contractx.Role

	// Plan is the normalized round-zero plan. Delta rounds replace
	// Assignments but never the plan itself.
	Plan        contractx.ConsultationPlan
	Assignments []contractx.TaskAssignment

	Board *statex.Board

	// Round counts delta rounds: 0 for the initial execute, then 1 and 2.
	Round int

	Verdict  contractx.ReviewVerdict
	Verdicts []contractx.ReviewVerdict

	Transcripts []contractx.RoleTranscript
	Usage       contractx.TokenUsage

	// Summary is the synthesized decision document, set by the final node.
	Summary string
}

// ValidateRequest checks the council preconditions and resolves the working
// role set. A council needs a problem statement and at least two distinct
// roles; single-role requests belong to the single-expert path.
func ValidateRequest(state *CouncilState) error {
	if state == nil {
		return fmt.Errorf("%w: council state is nil", contractx.ErrValidation)
	}
	if strings.TrimSpace(state.Request.Problem) == "" {
		return fmt.Errorf("%w: problem statement is required", contractx.ErrValidation)
	}
	if state.Board == nil {
		return fmt.Errorf("%w: findings board is required", contractx.ErrValidation)
	}

	roles, err := dedupeRoles(state.Request.Roles)
	if err != nil {
		return err
	}
	if len(roles) < 2 {
		return fmt.Errorf("%w: a council needs at least two distinct roles, got %d", contractx.ErrValidation, len(roles))
	}
	state.Roles = roles
	return nil
}

// dedupeRoles validates each requested role and drops repeats while keeping
// request order.
func dedupeRoles(requested []contractx.Role) ([]contractx.Role, error) {
	seen := make(map[contractx.Role]bool, len(requested))
	out := make([]contractx.Role, 0, len(requested))
	for _, r := range requested {
		role, err := contractx.ParseRole(string(r))
		if err != nil {
			return nil, err
		}
		if seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out, nil
}
