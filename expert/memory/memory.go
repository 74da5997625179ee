package memory

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

// ─── Facts ───────────────────────────────────────────────────────────────────

// Remember stores a fact and returns its id. Kind defaults to "fact".
func (s *Store) Remember(ctx context.Context, kind, content, source string) (int64, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, fmt.Errorf("memory: remember: content is empty")
	}
	if strings.TrimSpace(kind) == "" {
		kind = "fact"
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (kind, content, source) VALUES (?, ?, ?)`,
		kind, content, source,
	)
	if err != nil {
		return 0, fmt.Errorf("memory: remember: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("memory: remember: %w", err)
	}
	return id, nil
}

// Recall searches stored facts by relevance. An empty query falls back to the
// most recent facts so "what do you remember" still answers something.
func (s *Store) Recall(ctx context.Context, query string, limit int) ([]contractx.MemoryHit, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > s.cfg.MaxRecallResults {
		limit = s.cfg.MaxRecallResults
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return s.recallRecent(ctx, limit)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.kind, f.content, -fts.rank
		FROM facts_fts fts
		JOIN facts f ON f.id = fts.rowid
		WHERE facts_fts MATCH ? AND f.deleted_at IS NULL
		ORDER BY fts.rank
		LIMIT ?`,
		sanitizeFTS(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: recall: %w", err)
	}
	defer rows.Close()

	var hits []contractx.MemoryHit
	for rows.Next() {
		var h contractx.MemoryHit
		if err := rows.Scan(&h.ID, &h.Kind, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("memory: recall scan: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: recall rows: %w", err)
	}
	return hits, nil
}

func (s *Store) recallRecent(ctx context.Context, limit int) ([]contractx.MemoryHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, content
		FROM facts
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: recall recent: %w", err)
	}
	defer rows.Close()

	var hits []contractx.MemoryHit
	for rows.Next() {
		var h contractx.MemoryHit
		if err := rows.Scan(&h.ID, &h.Kind, &h.Content); err != nil {
			return nil, fmt.Errorf("memory: recall recent scan: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: recall recent rows: %w", err)
	}
	return hits, nil
}

// RecallMemory satisfies the intelligence contract used by expert tools.
func (s *Store) RecallMemory(ctx context.Context, query string, limit int) ([]contractx.MemoryHit, error) {
	return s.Recall(ctx, query, limit)
}

// Forget soft-deletes a fact. The row stays for audit; recall stops seeing it.
func (s *Store) Forget(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE facts SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		Now(), Now(), id,
	)
	if err != nil {
		return fmt.Errorf("memory: forget: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("memory: forget: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("memory: forget: fact %d not found", id)
	}
	return nil
}
