package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

// ─── Consultation history ────────────────────────────────────────────────────

// RecordConsultation persists one finished consultation and bumps the
// recurring-problem counter for its hash. Re-recording the same id is a no-op.
func (s *Store) RecordConsultation(ctx context.Context, rec contractx.ConsultationRecord) error {
	if strings.TrimSpace(rec.ConsultationID) == "" {
		return fmt.Errorf("memory: record consultation: consultation id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consultations
			(consultation_id, session_id, role, mode, problem_hash, category,
			 status, iterations, tool_calls, duration_ms, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ConsultationID, rec.SessionID, string(rec.Role), string(rec.Mode),
		rec.ProblemHash, rec.Category, string(rec.Status),
		rec.Iterations, rec.ToolCalls, rec.Duration.Milliseconds(), boolToInt(rec.Degraded),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("memory: record consultation: %w", err)
	}

	if rec.ProblemHash == "" {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO problem_patterns (problem_hash, category, hits, last_role, last_status, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(problem_hash) DO UPDATE SET
			hits        = hits + 1,
			category    = COALESCE(NULLIF(excluded.category, ''), category),
			last_role   = excluded.last_role,
			last_status = excluded.last_status,
			updated_at  = excluded.updated_at`,
		rec.ProblemHash, rec.Category, string(rec.Role), string(rec.Status), Now(),
	)
	if err != nil {
		return fmt.Errorf("memory: record pattern: %w", err)
	}
	return nil
}

// ArchiveFindings copies board findings into the durable archive.
func (s *Store) ArchiveFindings(ctx context.Context, findings []contractx.Finding) error {
	for _, f := range findings {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO finding_archive
				(finding_id, session_id, role, round, topic, claim, severity,
				 confidence, evidence, recommendation, conflict_tag)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.SessionID, string(f.Role), f.Round, f.Topic, f.Claim,
			string(f.Severity), f.Confidence, strings.Join(f.Evidence, "; "),
			f.Recommendation, f.ConflictTag,
		)
		if err != nil {
			return fmt.Errorf("memory: archive finding: %w", err)
		}
	}
	return nil
}

// RecordOutcome stores caller feedback about a consultation. An accepted
// outcome also bumps the success counter on the matching problem pattern, so
// pattern rows accumulate an acceptance rate over time.
func (s *Store) RecordOutcome(ctx context.Context, rec contractx.OutcomeRecord) error {
	if strings.TrimSpace(rec.ConsultationID) == "" {
		return fmt.Errorf("memory: record outcome: consultation id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (consultation_id, role, duration_ms, accepted, note)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ConsultationID, string(rec.Role), rec.Duration.Milliseconds(),
		boolToInt(rec.Accepted), rec.Note,
	)
	if err != nil {
		return fmt.Errorf("memory: record outcome: %w", err)
	}

	if !rec.Accepted {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE problem_patterns
		SET successes = successes + 1, updated_at = ?
		WHERE problem_hash = (
			SELECT problem_hash FROM consultations
			WHERE consultation_id = ? LIMIT 1
		)`,
		Now(), rec.ConsultationID,
	)
	if err != nil {
		return fmt.Errorf("memory: record pattern success: %w", err)
	}
	return nil
}

// ─── Role configuration ──────────────────────────────────────────────────────

// RoleConfig returns the stored override for a role. A role with no stored
// override returns a zero config carrying only the role, not an error.
func (s *Store) RoleConfig(ctx context.Context, role contractx.Role) (contractx.RoleConfig, error) {
	cfg := contractx.RoleConfig{Role: role}

	var (
		model       sql.NullString
		temperature sql.NullFloat64
		tempSet     int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT model, temperature, temperature_set FROM role_configs WHERE role = ?`,
		string(role),
	).Scan(&model, &temperature, &tempSet)
	if err == sql.ErrNoRows {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("memory: role config: %w", err)
	}

	cfg.Model = model.String
	if tempSet != 0 {
		cfg.Temperature = float32(temperature.Float64)
		cfg.TemperatureSet = true
	}
	return cfg, nil
}

// SaveRoleConfig upserts a per-role provider override.
func (s *Store) SaveRoleConfig(ctx context.Context, cfg contractx.RoleConfig) error {
	if _, err := contractx.ParseRole(string(cfg.Role)); err != nil {
		return fmt.Errorf("memory: save role config: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_configs (role, model, temperature, temperature_set, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(role) DO UPDATE SET
			model           = excluded.model,
			temperature     = excluded.temperature,
			temperature_set = excluded.temperature_set,
			updated_at      = excluded.updated_at`,
		string(cfg.Role), cfg.Model, float64(cfg.Temperature), boolToInt(cfg.TemperatureSet), Now(),
	)
	if err != nil {
		return fmt.Errorf("memory: save role config: %w", err)
	}
	return nil
}

// ─── Fan-out ─────────────────────────────────────────────────────────────────

// MultiLearning fans learning records out to several sinks. Every sink sees
// every record; errors are joined so one slow sink cannot hide another's
// failure.
func MultiLearning(stores ...contractx.LearningStore) contractx.LearningStore {
	var active []contractx.LearningStore
	for _, st := range stores {
		if st != nil {
			active = append(active, st)
		}
	}
	return multiLearning(active)
}

type multiLearning []contractx.LearningStore

func (m multiLearning) RecordConsultation(ctx context.Context, rec contractx.ConsultationRecord) error {
	var errs []error
	for _, st := range m {
		if err := st.RecordConsultation(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiLearning) ArchiveFindings(ctx context.Context, findings []contractx.Finding) error {
	var errs []error
	for _, st := range m {
		if err := st.ArchiveFindings(ctx, findings); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiLearning) RecordOutcome(ctx context.Context, rec contractx.OutcomeRecord) error {
	var errs []error
	for _, st := range m {
		if err := st.RecordOutcome(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ contractx.LearningStore   = (*Store)(nil)
	_ contractx.RoleConfigStore = (*Store)(nil)
)
