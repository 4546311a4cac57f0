package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RunTrace is the complete persisted record of one linearization run:
// the run row, the kernel revision the schedules were produced for, and
// every schedule with its items. The kernel record may be absent when
// the run failed before a revision was persisted.
type RunTrace struct {
	Run       Run
	Kernel    *KernelRecord
	Schedules []StoredSchedule
}

// ReadRunTrace assembles the full trace of a run for audit and replay
// validation. Returns sql.ErrNoRows if the run token is unknown.
func (s *Store) ReadRunTrace(ctx context.Context, token string) (RunTrace, error) {
	run, err := s.ReadRun(ctx, token)
	if err != nil {
		return RunTrace{}, err
	}

	trace := RunTrace{Run: run}

	rec, err := s.ReadKernel(ctx, run.KernelHash)
	switch {
	case err == nil:
		trace.Kernel = &rec
	case errors.Is(err, sql.ErrNoRows):
		// Failed runs record the hash of the revision they started from
		// without persisting its body.
	default:
		return RunTrace{}, fmt.Errorf("read run trace: %w", err)
	}

	scheds, err := s.ReadRunSchedules(ctx, token)
	if err != nil {
		return RunTrace{}, fmt.Errorf("read run trace: %w", err)
	}
	trace.Schedules = scheds

	return trace, nil
}

// FindIncompleteRuns returns runs recorded as OK that have no schedule
// rows. These indicate a crash between the run write and the schedule
// writes; re-running SaveResult repairs them.
func (s *Store) FindIncompleteRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.token, r.kernel_name, r.kernel_hash, r.config,
		       r.outcome, r.detail, r.nodes_expanded, r.seq
		FROM runs r
		LEFT JOIN schedules sc ON r.token = sc.run_token
		WHERE r.outcome = ? AND sc.id IS NULL
		ORDER BY r.seq ASC, r.token COLLATE BINARY ASC
	`, OutcomeOK)
	if err != nil {
		return nil, fmt.Errorf("find incomplete runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var cfgJSON string
		if err := rows.Scan(
			&run.Token, &run.KernelName, &run.KernelHash, &cfgJSON,
			&run.Outcome, &run.Detail, &run.NodesExpanded, &run.Seq,
		); err != nil {
			return nil, fmt.Errorf("scan incomplete run: %w", err)
		}
		cfg, err := unmarshalConfig(cfgJSON)
		if err != nil {
			return nil, err
		}
		run.Config = cfg
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incomplete runs: %w", err)
	}

	if runs == nil {
		runs = []Run{}
	}

	return runs, nil
}

// KernelLineage walks parent hashes from the given revision back to
// revision zero, returning records newest-first. The walk stops at the
// first hash without a persisted record.
func (s *Store) KernelLineage(ctx context.Context, hash string) ([]KernelRecord, error) {
	var lineage []KernelRecord
	for hash != "" {
		rec, err := s.ReadKernel(ctx, hash)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("kernel lineage: %w", err)
		}
		lineage = append(lineage, rec)
		hash = rec.ParentHash
	}
	return lineage, nil
}
