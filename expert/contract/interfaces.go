package contract

import "context"

// Expert drives one role-bound agentic loop to a terminal state. The returned
// result is populated even when err is non-nil, so partial findings survive.
type Expert interface {
	Consult(ctx context.Context, task ExpertTask) (ExpertResult, error)
}

// ExpertRegistry resolves a loop runner per role. Resolution happens per call
// so stored provider overrides take effect without a restart.
type ExpertRegistry interface {
	Expert(ctx context.Context, role Role) (Expert, error)
	Roles() []Role
}

// Coordinator runs the multi-round council protocol for one request.
type Coordinator interface {
	Run(ctx context.Context, req ConsultRequest) (ConsultResponse, error)
}

// Intelligence is the code-and-memory collaborator behind the expert tools.
type Intelligence interface {
	SearchCode(ctx context.Context, query string, limit int) ([]CodeHit, error)
	FindCallers(ctx context.Context, symbol string) ([]CallEdge, error)
	FindCallees(ctx context.Context, symbol string) ([]CallEdge, error)
	RecallMemory(ctx context.Context, query string, limit int) ([]MemoryHit, error)
}

// HostBridge forwards mcp__<server>__<tool> calls to the host environment.
type HostBridge interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error)
}

// Publisher emits lifecycle events. Implementations absorb their own failures;
// consultations never fail because an event could not be delivered.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// LearningStore is the record sink for finalized consultations and outcomes.
type LearningStore interface {
	RecordConsultation(ctx context.Context, rec ConsultationRecord) error
	ArchiveFindings(ctx context.Context, findings []Finding) error
	RecordOutcome(ctx context.Context, rec OutcomeRecord) error
}

// RoleConfigStore persists per-role provider overrides (configure action).
type RoleConfigStore interface {
	RoleConfig(ctx context.Context, role Role) (RoleConfig, error)
	SaveRoleConfig(ctx context.Context, cfg RoleConfig) error
}
