package casedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

const caseColumns = `id, owner, title, industry, status, created_at, updated_at`

// CreateCase inserts a new case.
func (s *Store) CreateCase(ctx context.Context, c *models.Case) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cases (`+caseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Owner, c.Title, nullString(c.Industry), string(c.Status), c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("casedb: create case: %w", err)
		}
		return nil
	})
}

// GetCase returns a case or a NotFound error.
func (s *Store) GetCase(ctx context.Context, id string) (*models.Case, error) {
	return getCase(ctx, s.db, id)
}

func getCase(ctx context.Context, q queryer, id string) (*models.Case, error) {
	row := q.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("casedb.GetCase", "case", id)
	}
	if err != nil {
		return nil, fmt.Errorf("casedb: get case: %w", err)
	}
	return c, nil
}

// ListCases returns cases newest first. An empty owner lists every case.
func (s *Store) ListCases(ctx context.Context, owner string) ([]*models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases`
	var args []interface{}
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC, seq DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("casedb: list cases: %w", err)
	}
	defer rows.Close()

	cases := []*models.Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("casedb: scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// AdvanceCaseStatus moves a case one step forward to next. It is a no-op
// when the case is already at or past next. Moving to quoted requires a
// completed run and at least one plan.
func (s *Store) AdvanceCaseStatus(ctx context.Context, id string, next models.CaseStatus) (*models.Case, error) {
	const op = "casedb.AdvanceCaseStatus"
	var out *models.Case
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCase(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.Status == models.CaseArchived {
			return models.E(models.KindPrecondition, op, "case %s is archived", id)
		}
		if next != models.CaseArchived && c.Status.Rank() >= next.Rank() {
			out = c
			return nil
		}
		if !c.Status.CanAdvanceTo(next) {
			return models.E(models.KindPrecondition, op, "case %s cannot move from %s to %s", id, c.Status, next)
		}
		if next == models.CaseQuoted {
			if err := checkQuotable(ctx, tx, id); err != nil {
				return err
			}
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE cases SET status = ?, updated_at = ? WHERE id = ?`, string(next), now, id); err != nil {
			return fmt.Errorf("casedb: update case status: %w", err)
		}
		c.Status = next
		c.UpdatedAt = now
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func checkQuotable(ctx context.Context, tx *sql.Tx, caseID string) error {
	var runs, plans int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM extraction_runs WHERE case_id = ? AND status = ?`,
		caseID, string(models.RunCompleted)).Scan(&runs); err != nil {
		return fmt.Errorf("casedb: count completed runs: %w", err)
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM plans WHERE case_id = ?`, caseID).Scan(&plans); err != nil {
		return fmt.Errorf("casedb: count plans: %w", err)
	}
	if runs == 0 || plans == 0 {
		return models.E(models.KindPrecondition, "casedb.AdvanceCaseStatus",
			"case %s needs a completed extraction run and plans before it can be quoted", caseID)
	}
	return nil
}

// ArchiveCase moves a case to archived from any state.
func (s *Store) ArchiveCase(ctx context.Context, id string) (*models.Case, error) {
	var out *models.Case
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getCase(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.Status != models.CaseArchived {
			now := s.now()
			if _, err := tx.ExecContext(ctx,
				`UPDATE cases SET status = ?, updated_at = ? WHERE id = ?`,
				string(models.CaseArchived), now, id); err != nil {
				return fmt.Errorf("casedb: archive case: %w", err)
			}
			c.Status = models.CaseArchived
			c.UpdatedAt = now
		}
		out = c
		return nil
	})
	return out, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(r rowScanner) (*models.Case, error) {
	var (
		c        models.Case
		industry sql.NullString
		status   string
	)
	if err := r.Scan(&c.ID, &c.Owner, &c.Title, &industry, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Industry = strPtr(industry)
	c.Status = models.CaseStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}
