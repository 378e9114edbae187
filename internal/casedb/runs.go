package casedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

const runColumns = `id, case_id, version, model, prompt_hash, status, error, created_at, finished_at`

// CreateRun allocates the next version for the case and inserts a pending
// run. It fails with a Conflict error while another run of the case is
// pending or running. The check and the insert share one transaction.
func (s *Store) CreateRun(ctx context.Context, caseID, model string) (*models.ExtractionRun, error) {
	const op = "casedb.CreateRun"
	var run *models.ExtractionRun
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			activeID      string
			activeVersion int
			activeStatus  string
		)
		err := tx.QueryRowContext(ctx,
			`SELECT id, version, status FROM extraction_runs
			 WHERE case_id = ? AND status IN (?, ?) ORDER BY version DESC LIMIT 1`,
			caseID, string(models.RunPending), string(models.RunRunning)).Scan(&activeID, &activeVersion, &activeStatus)
		switch {
		case err == nil:
			return models.E(models.KindConflict, op,
				"extraction run %s (version %d) is still %s", activeID, activeVersion, activeStatus)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("casedb: check active runs: %w", err)
		}

		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM extraction_runs WHERE case_id = ?`, caseID).Scan(&next); err != nil {
			return fmt.Errorf("casedb: next version: %w", err)
		}

		run = &models.ExtractionRun{
			ID:        uuid.New().String(),
			CaseID:    caseID,
			Version:   next,
			Model:     model,
			Status:    models.RunPending,
			CreatedAt: s.now(),
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO extraction_runs (`+runColumns+`) VALUES (?, ?, ?, ?, NULL, ?, NULL, ?, NULL)`,
			run.ID, run.CaseID, run.Version, run.Model, string(run.Status), run.CreatedAt); err != nil {
			return fmt.Errorf("casedb: insert run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRun returns a run or a NotFound error.
func (s *Store) GetRun(ctx context.Context, id string) (*models.ExtractionRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM extraction_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("casedb.GetRun", "extraction run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("casedb: get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the case's run with the highest version.
func (s *Store) LatestRun(ctx context.Context, caseID string) (*models.ExtractionRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM extraction_runs WHERE case_id = ? ORDER BY version DESC LIMIT 1`, caseID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.E(models.KindNotFound, "casedb.LatestRun", "case %s has no extraction run", caseID)
	}
	if err != nil {
		return nil, fmt.Errorf("casedb: latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns a case's runs by ascending version.
func (s *Store) ListRuns(ctx context.Context, caseID string) ([]*models.ExtractionRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM extraction_runs WHERE case_id = ? ORDER BY version`, caseID)
	if err != nil {
		return nil, fmt.Errorf("casedb: list runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.ExtractionRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("casedb: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkRunRunning moves a pending run to running. Runs in any other state
// are left alone and false is returned.
func (s *Store) MarkRunRunning(ctx context.Context, id string) (bool, error) {
	var moved bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE extraction_runs SET status = ? WHERE id = ? AND status = ?`,
			string(models.RunRunning), id, string(models.RunPending))
		if err != nil {
			return fmt.Errorf("casedb: mark run running: %w", err)
		}
		n, _ := res.RowsAffected()
		moved = n > 0
		return nil
	})
	return moved, err
}

// CompleteRun stores the requirements and evidence of a run and marks it
// completed in the same transaction.
func (s *Store) CompleteRun(ctx context.Context, id, model, promptHash string, req *models.Requirements) error {
	data, err := marshalJSON(req.Data)
	if err != nil {
		return fmt.Errorf("casedb: encode requirements: %w", err)
	}
	conf, err := marshalJSON(req.Confidence)
	if err != nil {
		return fmt.Errorf("casedb: encode confidence: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx,
			`UPDATE extraction_runs SET status = ?, model = ?, prompt_hash = ?, finished_at = ?
			 WHERE id = ? AND status IN (?, ?)`,
			string(models.RunCompleted), model, promptHash, now, id,
			string(models.RunPending), string(models.RunRunning))
		if err != nil {
			return fmt.Errorf("casedb: complete run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.E(models.KindConflict, "casedb.CompleteRun", "run %s is not active", id)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO requirements (run_id, jsonb_data, confidence, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			id, data, conf, now, now); err != nil {
			return fmt.Errorf("casedb: insert requirements: %w", err)
		}
		for i, ev := range req.Evidence {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO evidence (run_id, position, field_path, segment_idx, snippet, start_char, end_char)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, i, ev.FieldPath, nullInt(ev.SegmentIdx), ev.Snippet, nullInt(ev.StartChar), nullInt(ev.EndChar)); err != nil {
				return fmt.Errorf("casedb: insert evidence: %w", err)
			}
		}
		return nil
	})
}

// FailRun marks an active run failed with the backend's message.
func (s *Store) FailRun(ctx context.Context, id, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE extraction_runs SET status = ?, error = ?, finished_at = ?
			 WHERE id = ? AND status IN (?, ?)`,
			string(models.RunFailed), reason, s.now(), id,
			string(models.RunPending), string(models.RunRunning))
		if err != nil {
			return fmt.Errorf("casedb: fail run: %w", err)
		}
		return nil
	})
}

// FailActiveRuns marks every pending or running run failed. Used at startup
// to release runs orphaned by a previous process.
func (s *Store) FailActiveRuns(ctx context.Context, reason string) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE extraction_runs SET status = ?, error = ?, finished_at = ? WHERE status IN (?, ?)`,
			string(models.RunFailed), reason, s.now(), string(models.RunPending), string(models.RunRunning))
		if err != nil {
			return fmt.Errorf("casedb: fail active runs: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// GetRequirements returns the requirements and evidence of a run.
func (s *Store) GetRequirements(ctx context.Context, runID string) (*models.Requirements, error) {
	var (
		req        models.Requirements
		data, conf string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, jsonb_data, confidence, created_at, updated_at FROM requirements WHERE run_id = ?`, runID).
		Scan(&req.RunID, &data, &conf, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.E(models.KindNotFound, "casedb.GetRequirements", "no requirements for run %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("casedb: get requirements: %w", err)
	}
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	if err := json.Unmarshal([]byte(data), &req.Data); err != nil {
		return nil, fmt.Errorf("casedb: decode requirements: %w", err)
	}
	if err := json.Unmarshal([]byte(conf), &req.Confidence); err != nil {
		return nil, fmt.Errorf("casedb: decode confidence: %w", err)
	}
	if req.Data == nil {
		req.Data = map[string]interface{}{}
	}
	if req.Confidence == nil {
		req.Confidence = map[string]float64{}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT field_path, segment_idx, snippet, start_char, end_char FROM evidence WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("casedb: list evidence: %w", err)
	}
	defer rows.Close()

	req.Evidence = []models.Evidence{}
	for rows.Next() {
		var (
			ev                models.Evidence
			seg, start, endCh sql.NullInt64
		)
		if err := rows.Scan(&ev.FieldPath, &seg, &ev.Snippet, &start, &endCh); err != nil {
			return nil, fmt.Errorf("casedb: scan evidence: %w", err)
		}
		ev.SegmentIdx = intPtr(seg)
		ev.StartChar = intPtr(start)
		ev.EndChar = intPtr(endCh)
		req.Evidence = append(req.Evidence, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &req, nil
}

// ReplaceRequirementsData overwrites jsonb_data of a run. Evidence is untouched.
func (s *Store) ReplaceRequirementsData(ctx context.Context, runID string, data map[string]interface{}) error {
	encoded, err := marshalJSON(data)
	if err != nil {
		return fmt.Errorf("casedb: encode requirements: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE requirements SET jsonb_data = ?, updated_at = ? WHERE run_id = ?`, encoded, s.now(), runID)
		if err != nil {
			return fmt.Errorf("casedb: update requirements: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.E(models.KindNotFound, "casedb.ReplaceRequirementsData", "no requirements for run %s", runID)
		}
		return nil
	})
}

func scanRun(r rowScanner) (*models.ExtractionRun, error) {
	var (
		run        models.ExtractionRun
		promptHash sql.NullString
		status     string
		errMsg     sql.NullString
		finished   sql.NullTime
	)
	if err := r.Scan(&run.ID, &run.CaseID, &run.Version, &run.Model, &promptHash, &status, &errMsg, &run.CreatedAt, &finished); err != nil {
		return nil, err
	}
	run.PromptHash = promptHash.String
	run.Status = models.RunStatus(status)
	run.Error = errMsg.String
	run.CreatedAt = run.CreatedAt.UTC()
	run.FinishedAt = timePtr(finished)
	return &run, nil
}
