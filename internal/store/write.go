package store

import (
	"context"
	"fmt"

	"github.com/cfelder/loopline/internal/kernel"
	"github.com/cfelder/loopline/internal/schedule"
)

// WriteKernel inserts a kernel revision record keyed by content hash.
// Uses ON CONFLICT(hash) DO NOTHING for idempotency - a revision that
// hashes identically is byte-identical, so duplicates are silently
// ignored.
func (s *Store) WriteKernel(ctx context.Context, k *kernel.Kernel) error {
	body, err := k.CanonicalBody()
	if err != nil {
		return fmt.Errorf("write kernel: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kernels
		(hash, name, revision, parent_hash, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`,
		k.Hash(),
		k.Name,
		k.Revision,
		k.ParentHash,
		string(body),
	)
	if err != nil {
		return fmt.Errorf("write kernel: %w", err)
	}

	return nil
}

// WriteRun inserts a run record. Uses ON CONFLICT(token) DO NOTHING for
// idempotency - run tokens are UUIDv7, so a duplicate token means the
// same run written twice.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	cfgJSON, err := marshalConfig(run.Config)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(token, kernel_name, kernel_hash, config, outcome, detail, nodes_expanded, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`,
		run.Token,
		run.KernelName,
		run.KernelHash,
		cfgJSON,
		run.Outcome,
		run.Detail,
		run.NodesExpanded,
		run.Seq,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	return nil
}

// WriteSchedule atomically inserts a schedule and its item rows in one
// transaction. Returns the schedule ID and whether a new record was
// inserted.
//
// Uses ON CONFLICT(run_token, ordinal) DO NOTHING for idempotency: the
// search is deterministic, so schedule N of a run is always the same
// item sequence. If the schedule already exists, the items are NOT
// rewritten and the existing ID is returned with inserted=false.
//
// Note: The run referenced by runToken must exist (foreign key
// constraint).
func (s *Store) WriteSchedule(
	ctx context.Context,
	runToken string,
	ordinal int,
	kernelHash string,
	items []schedule.Item,
) (id int64, inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("write schedule: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// Claim the (run, ordinal) slot atomically via the unique constraint.
	result, err := tx.ExecContext(ctx, `
		INSERT INTO schedules
		(run_token, ordinal, kernel_hash)
		VALUES (?, ?, ?)
		ON CONFLICT(run_token, ordinal) DO NOTHING
	`,
		runToken,
		ordinal,
		kernelHash,
	)
	if err != nil {
		return 0, false, fmt.Errorf("write schedule: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("write schedule: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Conflict - schedule already exists, fetch the existing ID.
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM schedules
			WHERE run_token = ? AND ordinal = ?
		`, runToken, ordinal).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("write schedule: select existing: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("write schedule: commit (existing): %w", err)
		}
		return id, false, nil
	}

	id, err = result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("write schedule: last insert id: %w", err)
	}

	for pos, it := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO schedule_items
			(schedule_id, position, kind, iname, insn, scope, sync_kind, conservative, comment)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			id,
			pos,
			it.Kind.String(),
			it.Iname,
			it.Insn,
			scopeText(it),
			it.SyncKind,
			it.Conservative,
			it.Comment,
		)
		if err != nil {
			return 0, false, fmt.Errorf("write schedule: item %d: %w", pos, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("write schedule: commit: %w", err)
	}

	return id, true, nil
}

// SaveResult persists a successful linearization: the final kernel
// revision, the run record, and every accepted schedule. Each step is
// individually idempotent, so a crash between steps is repaired by
// saving again.
func (s *Store) SaveResult(ctx context.Context, run Run, res *schedule.Result) error {
	if err := s.WriteKernel(ctx, res.Kernel); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if err := s.WriteRun(ctx, run); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	hash := res.Kernel.Hash()
	for i, sched := range res.Schedules {
		if _, _, err := s.WriteSchedule(ctx, run.Token, i, hash, sched.Items); err != nil {
			return fmt.Errorf("save result: schedule %d: %w", i, err)
		}
	}
	return nil
}
