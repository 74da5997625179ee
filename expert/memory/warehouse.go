package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

// WarehouseConfig configures the optional Postgres export sink. An empty DSN
// disables the warehouse entirely.
type WarehouseConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
}

// Warehouse mirrors consultation history into Postgres so fleet-wide analysis
// can run off the local machines. It is a best-effort sink behind
// MultiLearning; the local store stays authoritative.
type Warehouse struct {
	db      *bun.DB
	timeout time.Duration
	logger  zerolog.Logger
}

// NewWarehouse opens the Postgres connection. Returns (nil, nil) when no DSN
// is configured, which callers treat as "warehouse disabled".
func NewWarehouse(cfg WarehouseConfig, logger zerolog.Logger) (*Warehouse, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	db := bun.NewDB(sqldb, pgdialect.New())

	return &Warehouse{db: db, timeout: cfg.Timeout, logger: logger}, nil
}

// Ping verifies the warehouse is reachable and creates missing tables.
func (w *Warehouse) Ping(ctx context.Context) error {
	ctx, cancel := w.opContext(ctx)
	defer cancel()

	if err := w.db.PingContext(ctx); err != nil {
		return fmt.Errorf("warehouse: ping: %w", err)
	}

	models := []any{
		(*warehouseConsultation)(nil),
		(*warehouseFinding)(nil),
		(*warehouseOutcome)(nil),
	}
	for _, m := range models {
		if _, err := w.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("warehouse: create table: %w", err)
		}
	}
	w.logger.Info().Msg("warehouse schema ready")
	return nil
}

// Close releases the Postgres connection.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

func (w *Warehouse) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, w.timeout)
}

// ─── Models ──────────────────────────────────────────────────────────────────

type warehouseConsultation struct {
	bun.BaseModel `bun:"table:counsel_consultations,alias:wc"`

	ConsultationID string    `bun:"consultation_id,pk"`
	SessionID      string    `bun:"session_id,notnull"`
	Role           string    `bun:"role,notnull"`
	Mode           string    `bun:"mode,notnull"`
	ProblemHash    string    `bun:"problem_hash"`
	Category       string    `bun:"category"`
	Status         string    `bun:"status,notnull"`
	Iterations     int       `bun:"iterations,notnull,default:0"`
	ToolCalls      int       `bun:"tool_calls,notnull,default:0"`
	DurationMS     int64     `bun:"duration_ms,notnull,default:0"`
	Degraded       bool      `bun:"degraded,notnull,default:false"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type warehouseFinding struct {
	bun.BaseModel `bun:"table:counsel_findings,alias:wf"`

	ID             int64     `bun:"id,pk,autoincrement"`
	FindingID      string    `bun:"finding_id"`
	SessionID      string    `bun:"session_id,notnull"`
	Role           string    `bun:"role,notnull"`
	Round          int       `bun:"round,notnull,default:0"`
	Topic          string    `bun:"topic,notnull"`
	Claim          string    `bun:"claim,notnull"`
	Severity       string    `bun:"severity,notnull"`
	Confidence     float64   `bun:"confidence"`
	Evidence       string    `bun:"evidence"`
	Recommendation string    `bun:"recommendation"`
	ConflictTag    string    `bun:"conflict_tag"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type warehouseOutcome struct {
	bun.BaseModel `bun:"table:counsel_outcomes,alias:wo"`

	ID             int64     `bun:"id,pk,autoincrement"`
	ConsultationID string    `bun:"consultation_id,notnull"`
	Role           string    `bun:"role,notnull"`
	DurationMS     int64     `bun:"duration_ms,notnull,default:0"`
	Accepted       bool      `bun:"accepted,notnull,default:false"`
	Note           string    `bun:"note"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ─── Learning sink ───────────────────────────────────────────────────────────

// RecordConsultation mirrors one consultation row. Duplicate ids are ignored
// so local retries never double-count.
func (w *Warehouse) RecordConsultation(ctx context.Context, rec contractx.ConsultationRecord) error {
	ctx, cancel := w.opContext(ctx)
	defer cancel()

	row := &warehouseConsultation{
		ConsultationID: rec.ConsultationID,
		SessionID:      rec.SessionID,
		Role:           string(rec.Role),
		Mode:           string(rec.Mode),
		ProblemHash:    rec.ProblemHash,
		Category:       rec.Category,
		Status:         string(rec.Status),
		Iterations:     rec.Iterations,
		ToolCalls:      rec.ToolCalls,
		DurationMS:     rec.Duration.Milliseconds(),
		Degraded:       rec.Degraded,
	}
	_, err := w.db.NewInsert().
		Model(row).
		On("CONFLICT (consultation_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("warehouse: record consultation: %w", err)
	}
	return nil
}

// ArchiveFindings mirrors board findings in one bulk insert.
func (w *Warehouse) ArchiveFindings(ctx context.Context, findings []contractx.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	ctx, cancel := w.opContext(ctx)
	defer cancel()

	rows := make([]warehouseFinding, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, warehouseFinding{
			FindingID:      f.ID,
			SessionID:      f.SessionID,
			Role:           string(f.Role),
			Round:          f.Round,
			Topic:          f.Topic,
			Claim:          f.Claim,
			Severity:       string(f.Severity),
			Confidence:     f.Confidence,
			Evidence:       strings.Join(f.Evidence, "; "),
			Recommendation: f.Recommendation,
			ConflictTag:    f.ConflictTag,
		})
	}
	if _, err := w.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("warehouse: archive findings: %w", err)
	}
	return nil
}

// RecordOutcome mirrors one outcome row.
func (w *Warehouse) RecordOutcome(ctx context.Context, rec contractx.OutcomeRecord) error {
	ctx, cancel := w.opContext(ctx)
	defer cancel()

	row := &warehouseOutcome{
		ConsultationID: rec.ConsultationID,
		Role:           string(rec.Role),
		DurationMS:     rec.Duration.Milliseconds(),
		Accepted:       rec.Accepted,
		Note:           rec.Note,
	}
	if _, err := w.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("warehouse: record outcome: %w", err)
	}
	return nil
}

var _ contractx.LearningStore = (*Warehouse)(nil)
