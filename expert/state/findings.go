package state

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

const (
	defaultRoleFindingLimit  = 30
	defaultBoardFindingLimit = 200
)

// AddOutcome reports what the board did with a submitted finding.
type AddOutcome string

const (
	AddAccepted      AddOutcome = "accepted"
	AddRoleLimited   AddOutcome = "role_limited"
	AddBoardLimited  AddOutcome = "board_limited"
	AddRejectedEmpty AddOutcome = "rejected_empty"
)

// Board is the append-only findings store for one consultation. Experts from
// concurrent loops write to it; review reads a snapshot. Entries are never
// mutated or removed once accepted.
type Board struct {
	mu        sync.Mutex
	sessionID string
	seq       int
	perRole   map[contractx.Role]int
	items     []contractx.Finding

	roleLimit  int
	boardLimit int
}

type BoardOption func(*Board)

func WithRoleLimit(n int) BoardOption {
	return func(b *Board) {
		if n > 0 {
			b.roleLimit = n
		}
	}
}

func WithBoardLimit(n int) BoardOption {
	return func(b *Board) {
		if n > 0 {
			b.boardLimit = n
		}
	}
}

func NewBoard(sessionID string, opts ...BoardOption) *Board {
	b := &Board{
		sessionID:  sessionID,
		perRole:    make(map[contractx.Role]int, len(contractx.AllRoles())),
		roleLimit:  defaultRoleFindingLimit,
		boardLimit: defaultBoardFindingLimit,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add appends one finding. The board assigns the ID, stamps the session, and
// normalizes severity; topic and claim must be non-empty after trimming.
func (b *Board) Add(f contractx.Finding) (contractx.Finding, AddOutcome) {
	f.Topic = strings.TrimSpace(f.Topic)
	f.Claim = strings.TrimSpace(f.Claim)
	if f.Topic == "" || f.Claim == "" {
		return contractx.Finding{}, AddRejectedEmpty
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.boardLimit {
		return contractx.Finding{}, AddBoardLimited
	}
	if b.perRole[f.Role] >= b.roleLimit {
		return contractx.Finding{}, AddRoleLimited
	}

	b.seq++
	f.ID = fmt.Sprintf("f-%03d", b.seq)
	f.SessionID = b.sessionID
	f.Severity = contractx.ParseSeverity(string(f.Severity))

	b.items = append(b.items, f)
	b.perRole[f.Role]++
	return f, AddAccepted
}

// Snapshot returns a copy of every accepted finding in append order.
func (b *Board) Snapshot() []contractx.Finding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]contractx.Finding(nil), b.items...)
}

// ForRound returns the findings recorded during one round, in append order.
func (b *Board) ForRound(round int) []contractx.Finding {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []contractx.Finding
	for _, f := range b.items {
		if f.Round == round {
			out = append(out, f)
		}
	}
	return out
}

// ByRole returns one role's findings across all rounds, in append order.
func (b *Board) ByRole(role contractx.Role) []contractx.Finding {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []contractx.Finding
	for _, f := range b.items {
		if f.Role == role {
			out = append(out, f)
		}
	}
	return out
}

func (b *Board) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *Board) CountByRole(role contractx.Role) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.perRole[role]
}

// Roles returns the roles that contributed at least one finding, in
// enumeration order.
func (b *Board) Roles() []contractx.Role {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []contractx.Role
	for _, role := range contractx.AllRoles() {
		if b.perRole[role] > 0 {
			out = append(out, role)
		}
	}
	return out
}

// FormatForSynthesis renders the board as markdown grouped by topic for the
// synthesis prompt. Topics appear in first-seen order; findings within a
// topic keep append order so delta-round answers land after the claims they
// address.
func (b *Board) FormatForSynthesis() string {
	snapshot := b.Snapshot()
	if len(snapshot) == 0 {
		return "No findings were recorded."
	}

	order := make([]string, 0, 8)
	byTopic := make(map[string][]contractx.Finding, 8)
	for _, f := range snapshot {
		if _, seen := byTopic[f.Topic]; !seen {
			order = append(order, f.Topic)
		}
		byTopic[f.Topic] = append(byTopic[f.Topic], f)
	}

	var sb strings.Builder
	for i, topic := range order {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "### %s\n", topic)
		for _, f := range byTopic[topic] {
			fmt.Fprintf(&sb, "- [%s, %s] %s", f.Role.Display(), f.Severity, f.Claim)
			if f.Recommendation != "" {
				fmt.Fprintf(&sb, " (recommendation: %s)", f.Recommendation)
			}
			if len(f.Evidence) > 0 {
				fmt.Fprintf(&sb, " [evidence: %s]", strings.Join(f.Evidence, "; "))
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// SortStable orders findings by role enumeration order then claim text. Used
// where deterministic output matters more than append order.
func SortStable(findings []contractx.Finding) []contractx.Finding {
	out := append([]contractx.Finding(nil), findings...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Role.Order() != out[j].Role.Order() {
			return out[i].Role.Order() < out[j].Role.Order()
		}
		return out[i].Claim < out[j].Claim
	})
	return out
}
