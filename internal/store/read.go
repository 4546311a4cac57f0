package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cfelder/loopline/internal/schedule"
)

// ReadRun retrieves a single run record by token.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, token string) (Run, error) {
	var run Run
	var cfgJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT token, kernel_name, kernel_hash, config, outcome, detail, nodes_expanded, seq
		FROM runs
		WHERE token = ?
	`, token).Scan(
		&run.Token, &run.KernelName, &run.KernelHash, &cfgJSON,
		&run.Outcome, &run.Detail, &run.NodesExpanded, &run.Seq,
	)
	if err != nil {
		return Run{}, err
	}

	cfg, err := unmarshalConfig(cfgJSON)
	if err != nil {
		return Run{}, err
	}
	run.Config = cfg

	return run, nil
}

// ReadKernel retrieves a persisted kernel revision by content hash.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadKernel(ctx context.Context, hash string) (KernelRecord, error) {
	var rec KernelRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT hash, name, revision, parent_hash, body
		FROM kernels
		WHERE hash = ?
	`, hash).Scan(&rec.Hash, &rec.Name, &rec.Revision, &rec.ParentHash, &rec.Body)
	if err != nil {
		return KernelRecord{}, err
	}
	return rec, nil
}

// ReadRunSchedules returns every schedule of a run with items loaded.
// Results are ordered deterministically: schedules by ordinal ASC,
// items by position ASC.
//
// Returns an empty slice (not nil) if the run has no schedules.
func (s *Store) ReadRunSchedules(ctx context.Context, runToken string) ([]StoredSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_token, ordinal, kernel_hash
		FROM schedules
		WHERE run_token = ?
		ORDER BY ordinal ASC
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var scheds []StoredSchedule
	for rows.Next() {
		var sc StoredSchedule
		if err := rows.Scan(&sc.ID, &sc.RunToken, &sc.Ordinal, &sc.KernelHash); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		scheds = append(scheds, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}

	for i := range scheds {
		items, err := s.ReadScheduleItems(ctx, scheds[i].ID)
		if err != nil {
			return nil, err
		}
		scheds[i].Items = items
	}

	if scheds == nil {
		scheds = []StoredSchedule{}
	}

	return scheds, nil
}

// ReadScheduleItems returns the item sequence of one schedule, ordered
// by position ASC.
func (s *Store) ReadScheduleItems(ctx context.Context, scheduleID int64) ([]schedule.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, iname, insn, scope, sync_kind, conservative, comment
		FROM schedule_items
		WHERE schedule_id = ?
		ORDER BY position ASC
	`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("query schedule items: %w", err)
	}
	defer rows.Close()

	var items []schedule.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule items: %w", err)
	}

	if items == nil {
		items = []schedule.Item{}
	}

	return items, nil
}

// ListRunTokens returns all run tokens in the store, ordered by the seq
// logical clock with a binary-collation token tie-break.
func (s *Store) ListRunTokens(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token FROM runs
		ORDER BY seq ASC, token COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list run tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan run token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run tokens: %w", err)
	}

	if tokens == nil {
		tokens = []string{}
	}

	return tokens, nil
}

// GetLastSeq returns the highest seq number used in the store. Used to
// resume the logical clock from the correct position.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var maxSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM runs
	`).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return maxSeq, nil
}

// scanItem scans one schedule_items row.
func scanItem(rows *sql.Rows) (schedule.Item, error) {
	var it schedule.Item
	var kindText, scope string

	if err := rows.Scan(
		&kindText, &it.Iname, &it.Insn, &scope,
		&it.SyncKind, &it.Conservative, &it.Comment,
	); err != nil {
		return schedule.Item{}, fmt.Errorf("scan schedule item: %w", err)
	}

	kind, err := parseItemKind(kindText)
	if err != nil {
		return schedule.Item{}, err
	}
	it.Kind = kind

	sc, err := parseBarrierScope(scope)
	if err != nil {
		return schedule.Item{}, err
	}
	it.Scope = sc

	return it, nil
}
