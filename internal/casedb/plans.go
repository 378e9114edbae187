package casedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

const (
	planColumns = `id, case_id, run_id, plan_code, name, assumptions, created_at, updated_at`
	itemColumns = `id, plan_id, position, category, item_name, spec, qty, unit,
		unit_price_low, unit_price_high, subtotal_low, subtotal_high`
)

// CreatePlanSet inserts a batch of plans generated from one run. If plans
// already exist for the (case, run) pair they are returned instead and
// created is false.
func (s *Store) CreatePlanSet(ctx context.Context, caseID, runID string, plans []*models.Plan) ([]*models.Plan, bool, error) {
	var (
		out     []*models.Plan
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := listPlans(ctx, tx, caseID, runID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			out = existing
			return nil
		}
		for _, p := range plans {
			if err := insertPlan(ctx, tx, p); err != nil {
				return err
			}
		}
		out = plans
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func insertPlan(ctx context.Context, tx *sql.Tx, p *models.Plan) error {
	assumptions, err := marshalJSON(p.Assumptions)
	if err != nil {
		return fmt.Errorf("casedb: encode assumptions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CaseID, nullString(p.RunID), string(p.Code), p.Name, assumptions, p.CreatedAt, p.UpdatedAt); err != nil {
		return fmt.Errorf("casedb: insert plan %s: %w", p.Code, err)
	}
	for _, it := range p.Items {
		if err := insertItem(ctx, tx, &it); err != nil {
			return err
		}
	}
	return nil
}

func insertItem(ctx context.Context, tx *sql.Tx, it *models.QuoteItem) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO quote_items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.PlanID, it.Position, it.Category, it.ItemName, nullString(it.Spec), it.Qty, it.Unit,
		it.UnitPriceLow, it.UnitPriceHigh, nullFloat(it.SubtotalLow), nullFloat(it.SubtotalHigh))
	if err != nil {
		return fmt.Errorf("casedb: insert quote item: %w", err)
	}
	return nil
}

// ListPlans returns the plans of a case generated from runID, ordered by
// plan code.
func (s *Store) ListPlans(ctx context.Context, caseID, runID string) ([]*models.Plan, error) {
	return listPlans(ctx, s.db, caseID, runID)
}

func listPlans(ctx context.Context, q queryer, caseID, runID string) ([]*models.Plan, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE case_id = ? AND run_id = ? ORDER BY plan_code, created_at`, caseID, runID)
	if err != nil {
		return nil, fmt.Errorf("casedb: list plans: %w", err)
	}
	plans := []*models.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("casedb: scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range plans {
		if p.Items, err = listItems(ctx, q, p.ID); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

// LatestPlanRunID returns the id of the highest-version run that has plans.
func (s *Store) LatestPlanRunID(ctx context.Context, caseID string) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`SELECT p.run_id FROM plans p JOIN extraction_runs r ON r.id = p.run_id
		 WHERE p.case_id = ? ORDER BY r.version DESC LIMIT 1`, caseID).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.E(models.KindNotFound, "casedb.LatestPlanRunID", "case %s has no plans", caseID)
	}
	if err != nil {
		return "", fmt.Errorf("casedb: latest plan run: %w", err)
	}
	return runID, nil
}

// GetPlan returns a plan with its items.
func (s *Store) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	return getPlan(ctx, s.db, id)
}

func getPlan(ctx context.Context, q queryer, id string) (*models.Plan, error) {
	p, err := scanPlan(q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFound("casedb.GetPlan", "plan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("casedb: get plan: %w", err)
	}
	if p.Items, err = listItems(ctx, q, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// SavePlan writes an edited plan back: plan fields are updated, items are
// updated in place by id, new items are inserted and items no longer
// present are deleted.
func (s *Store) SavePlan(ctx context.Context, p *models.Plan) error {
	assumptions, err := marshalJSON(p.Assumptions)
	if err != nil {
		return fmt.Errorf("casedb: encode assumptions: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE plans SET name = ?, assumptions = ?, updated_at = ? WHERE id = ?`,
			p.Name, assumptions, p.UpdatedAt, p.ID)
		if err != nil {
			return fmt.Errorf("casedb: update plan: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.NotFound("casedb.SavePlan", "plan", p.ID)
		}

		current, err := listItems(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		stale := make(map[string]bool, len(current))
		for _, it := range current {
			stale[it.ID] = true
		}

		for i := range p.Items {
			it := &p.Items[i]
			if !stale[it.ID] {
				if err := insertItem(ctx, tx, it); err != nil {
					return err
				}
				continue
			}
			delete(stale, it.ID)
			if _, err := tx.ExecContext(ctx,
				`UPDATE quote_items SET position = ?, category = ?, item_name = ?, spec = ?, qty = ?, unit = ?,
				 unit_price_low = ?, unit_price_high = ?, subtotal_low = ?, subtotal_high = ?
				 WHERE id = ?`,
				it.Position, it.Category, it.ItemName, nullString(it.Spec), it.Qty, it.Unit,
				it.UnitPriceLow, it.UnitPriceHigh, nullFloat(it.SubtotalLow), nullFloat(it.SubtotalHigh), it.ID); err != nil {
				return fmt.Errorf("casedb: update quote item: %w", err)
			}
		}
		for id := range stale {
			if _, err := tx.ExecContext(ctx, `DELETE FROM quote_items WHERE id = ?`, id); err != nil {
				return fmt.Errorf("casedb: delete quote item: %w", err)
			}
		}
		return nil
	})
}

// CountPlans returns how many plans a case has across all runs.
func (s *Store) CountPlans(ctx context.Context, caseID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plans WHERE case_id = ?`, caseID).Scan(&n); err != nil {
		return 0, fmt.Errorf("casedb: count plans: %w", err)
	}
	return n, nil
}

func listItems(ctx context.Context, q queryer, planID string) ([]models.QuoteItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM quote_items WHERE plan_id = ? ORDER BY position`, planID)
	if err != nil {
		return nil, fmt.Errorf("casedb: list quote items: %w", err)
	}
	defer rows.Close()

	items := []models.QuoteItem{}
	for rows.Next() {
		var (
			it        models.QuoteItem
			spec      sql.NullString
			low, high sql.NullFloat64
		)
		if err := rows.Scan(&it.ID, &it.PlanID, &it.Position, &it.Category, &it.ItemName, &spec, &it.Qty, &it.Unit,
			&it.UnitPriceLow, &it.UnitPriceHigh, &low, &high); err != nil {
			return nil, fmt.Errorf("casedb: scan quote item: %w", err)
		}
		it.Spec = strPtr(spec)
		it.SubtotalLow = floatPtr(low)
		it.SubtotalHigh = floatPtr(high)
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanPlan(r rowScanner) (*models.Plan, error) {
	var (
		p           models.Plan
		runID       sql.NullString
		code        string
		assumptions string
	)
	if err := r.Scan(&p.ID, &p.CaseID, &runID, &code, &p.Name, &assumptions, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.RunID = strPtr(runID)
	p.Code = models.PlanCode(code)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if err := json.Unmarshal([]byte(assumptions), &p.Assumptions); err != nil {
		return nil, fmt.Errorf("decode assumptions: %w", err)
	}
	if p.Assumptions == nil {
		p.Assumptions = map[string]interface{}{}
	}
	return &p, nil
}
