package memory

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

// maxCallEdgeResults bounds caller/callee lookups so a hub symbol cannot
// flood an expert transcript.
const maxCallEdgeResults = 100

// ─── Symbols ─────────────────────────────────────────────────────────────────

// UpsertSymbol records one symbol occurrence for a file.
func (s *Store) UpsertSymbol(ctx context.Context, hit contractx.CodeHit) error {
	if strings.TrimSpace(hit.Path) == "" || strings.TrimSpace(hit.Symbol) == "" {
		return fmt.Errorf("memory: upsert symbol: path and symbol are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO code_symbols (path, symbol, kind, line, snippet, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		hit.Path, hit.Symbol, hit.Kind, hit.Line, hit.Snippet, Now(),
	)
	if err != nil {
		return fmt.Errorf("memory: upsert symbol: %w", err)
	}
	return nil
}

// DeleteFileSymbols drops all symbols and call edges recorded for a path.
// Called before re-indexing a file so stale entries never linger.
func (s *Store) DeleteFileSymbols(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM code_symbols WHERE path = ?`, path); err != nil {
		return fmt.Errorf("memory: delete symbols: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM call_edges WHERE path = ?`, path); err != nil {
		return fmt.Errorf("memory: delete call edges: %w", err)
	}
	return nil
}

// AddCallEdge records a caller -> callee relation. Duplicate edges are ignored.
func (s *Store) AddCallEdge(ctx context.Context, edge contractx.CallEdge) error {
	if strings.TrimSpace(edge.Caller) == "" || strings.TrimSpace(edge.Callee) == "" {
		return fmt.Errorf("memory: add call edge: caller and callee are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_edges (caller, callee, path, line) VALUES (?, ?, ?, ?)`,
		edge.Caller, edge.Callee, edge.Path, edge.Line,
	)
	if err != nil {
		return fmt.Errorf("memory: add call edge: %w", err)
	}
	return nil
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// SearchCode searches indexed symbols by relevance across name, path, and
// snippet text.
func (s *Store) SearchCode(ctx context.Context, query string, limit int) ([]contractx.CodeHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("memory: search code: query is empty")
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > s.cfg.MaxSearchResults {
		limit = s.cfg.MaxSearchResults
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.path, c.symbol, c.kind, c.line, c.snippet
		FROM code_fts fts
		JOIN code_symbols c ON c.id = fts.rowid
		WHERE code_fts MATCH ?
		ORDER BY fts.rank
		LIMIT ?`,
		sanitizeFTS(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: search code: %w", err)
	}
	defer rows.Close()

	var hits []contractx.CodeHit
	for rows.Next() {
		var h contractx.CodeHit
		if err := rows.Scan(&h.Path, &h.Symbol, &h.Kind, &h.Line, &h.Snippet); err != nil {
			return nil, fmt.Errorf("memory: search code scan: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: search code rows: %w", err)
	}
	return hits, nil
}

// FindCallers returns edges whose callee matches the symbol.
func (s *Store) FindCallers(ctx context.Context, symbol string) ([]contractx.CallEdge, error) {
	return s.queryEdges(ctx, `callee`, symbol)
}

// FindCallees returns edges whose caller matches the symbol.
func (s *Store) FindCallees(ctx context.Context, symbol string) ([]contractx.CallEdge, error) {
	return s.queryEdges(ctx, `caller`, symbol)
}

func (s *Store) queryEdges(ctx context.Context, column, symbol string) ([]contractx.CallEdge, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("memory: find call edges: symbol is empty")
	}

	// column is one of two trusted literals, never user input.
	q := fmt.Sprintf(`
		SELECT caller, callee, path, line
		FROM call_edges
		WHERE %s = ?
		ORDER BY path, line
		LIMIT ?`, column)

	rows, err := s.db.QueryContext(ctx, q, symbol, maxCallEdgeResults)
	if err != nil {
		return nil, fmt.Errorf("memory: query edges: %w", err)
	}
	defer rows.Close()

	var edges []contractx.CallEdge
	for rows.Next() {
		var e contractx.CallEdge
		if err := rows.Scan(&e.Caller, &e.Callee, &e.Path, &e.Line); err != nil {
			return nil, fmt.Errorf("memory: query edges scan: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: query edges rows: %w", err)
	}
	return edges, nil
}

var _ contractx.Intelligence = (*Store)(nil)
