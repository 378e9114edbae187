// engine_test.go - Tests for plan generation and editing
package pricing

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kiwi1009/interview-to-quote/internal/casedb"
	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

// storeSource resolves requirements straight from the case store.
type storeSource struct{ db *casedb.Store }

func (s storeSource) ResolveRunID(ctx context.Context, caseID, runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	run, err := s.db.LatestRun(ctx, caseID)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func (s storeSource) GetRequirements(ctx context.Context, caseID, runID string) (*models.Requirements, error) {
	return s.db.GetRequirements(ctx, runID)
}

func setup(t *testing.T) (*Engine, *casedb.Store, string) {
	t.Helper()
	db, err := casedb.Open(filepath.Join(t.TempDir(), "cases.duckdb"), casedb.Options{Threads: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Now().UTC()
	c := &models.Case{ID: uuid.New().String(), Owner: "alice", Title: "ACME", Status: models.CaseDraft, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateCase(context.Background(), c))
	return NewEngine(db, storeSource{db}, nil, nil), db, c.ID
}

func completeRun(t *testing.T, db *casedb.Store, caseID string, data map[string]interface{}) string {
	t.Helper()
	ctx := context.Background()
	run, err := db.CreateRun(ctx, caseID, "m")
	require.NoError(t, err)
	require.NoError(t, db.CompleteRun(ctx, run.ID, "m", "h", &models.Requirements{Data: data}))
	return run.ID
}

func byCode(plans []*models.Plan) map[models.PlanCode]*models.Plan {
	out := make(map[models.PlanCode]*models.Plan, len(plans))
	for _, p := range plans {
		out[p.Code] = p
	}
	return out
}

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	assert.Len(t, c.Items, 9)
	it, ok := c.Item("robot_articulated_6dof")
	require.True(t, ok)
	assert.Equal(t, "六軸關節式機器人", it.Name)
	assert.Equal(t, 800000.0, it.Low)
	assert.Equal(t, 1200000.0, it.High)
}

func TestParseCatalog_Invalid(t *testing.T) {
	_, err := ParseCatalog(strings.NewReader("items:\n  - item_key: a\n    low: 10\n    high: 5\n"))
	assert.Error(t, err)
	_, err = ParseCatalog(strings.NewReader("items:\n  - item_key: a\n  - item_key: a\n"))
	assert.Error(t, err)
	_, err = ParseCatalog(strings.NewReader("items: [oops"))
	assert.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, c.Items, 9)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEngine_GeneratePlans(t *testing.T) {
	e, db, caseID := setup(t)
	ctx := context.Background()
	runID := completeRun(t, db, caseID, map[string]interface{}{})

	plans, err := e.GeneratePlans(ctx, caseID, "")
	require.NoError(t, err)
	require.Len(t, plans, 3)

	got := byCode(plans)
	p1, p2, p3 := got[models.PlanP1], got[models.PlanP2], got[models.PlanP3]
	require.NotNil(t, p1)
	require.NotNil(t, p2)
	require.NotNil(t, p3)
	assert.Equal(t, runID, *p1.RunID)

	assert.Len(t, p1.Items, 7)
	assert.Len(t, p2.Items, 6)
	assert.Len(t, p3.Items, 6)

	for _, p := range plans {
		for _, it := range p.Items {
			require.NotNil(t, it.SubtotalLow)
			require.NotNil(t, it.SubtotalHigh)
			assert.Equal(t, models.Round2(it.Qty*it.UnitPriceLow), *it.SubtotalLow)
			assert.Equal(t, models.Round2(it.Qty*it.UnitPriceHigh), *it.SubtotalHigh)
		}
	}

	t1 := Totals(p1)
	assert.Equal(t, 2700000.0, t1.SubtotalLow)
	assert.Equal(t, 4110000.0, t1.SubtotalHigh)
	assert.Equal(t, 270000.0, t1.Contingency)
	assert.Equal(t, 2970000.0, t1.TotalLow)
	assert.Equal(t, 4380000.0, t1.TotalHigh)

	assert.Equal(t, 1850000.0, Totals(p2).SubtotalLow)
	assert.Equal(t, 2500000.0, Totals(p3).SubtotalLow)
	assert.Equal(t, 3780000.0, Totals(p3).SubtotalHigh)

	again, err := e.GeneratePlans(ctx, caseID, runID)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, byCode(again)[models.PlanP1].ID, "plans are reused for the same run")
	n, err := db.CountPlans(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEngine_RequirementsShapePlans(t *testing.T) {
	e, db, caseID := setup(t)
	completeRun(t, db, caseID, map[string]interface{}{
		"options": map[string]interface{}{"robot_count": float64(3)},
		"process": map[string]interface{}{"needs_flip": false},
	})

	plans, err := e.GeneratePlans(context.Background(), caseID, "")
	require.NoError(t, err)
	got := byCode(plans)

	p1 := got[models.PlanP1]
	robots := 0
	for _, it := range p1.Items {
		assert.NotEqual(t, CategoryWorkstation, it.Category, "no flip station")
		if it.Category == CategoryMainEquipment {
			robots++
		}
		if it.Category == CategoryEOAT {
			assert.Equal(t, 3.0, it.Qty)
		}
	}
	assert.Equal(t, 3, robots)
	assert.Equal(t, float64(3), p1.Assumptions["robots"])
	assert.Len(t, got[models.PlanP2].Items, 5)
}

func TestEngine_GeneratePlansPreconditions(t *testing.T) {
	e, db, caseID := setup(t)
	ctx := context.Background()

	_, err := e.GeneratePlans(ctx, caseID, "")
	assert.True(t, errors.Is(err, models.ErrPrecondition), "no run")

	run, err := db.CreateRun(ctx, caseID, "m")
	require.NoError(t, err)
	_, err = e.GeneratePlans(ctx, caseID, "")
	assert.True(t, errors.Is(err, models.ErrPrecondition), "run without requirements")
	require.NoError(t, db.FailRun(ctx, run.ID, "boom"))

	_, err = e.GeneratePlans(ctx, "missing", "")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	list, err := e.ListPlans(ctx, caseID, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEngine_UpdatePlan(t *testing.T) {
	e, db, caseID := setup(t)
	ctx := context.Background()
	completeRun(t, db, caseID, map[string]interface{}{})
	plans, err := e.GeneratePlans(ctx, caseID, "")
	require.NoError(t, err)
	p2 := byCode(plans)[models.PlanP2]

	robot := p2.Items[0]
	install := p2.Items[len(p2.Items)-1]
	qty := 2.0
	high := 1300000.0
	name := "方案二（修訂）"
	spec := "客製夾治具"

	updated, err := e.UpdatePlan(ctx, p2.ID, PlanPatch{
		Name:        &name,
		Assumptions: map[string]interface{}{"note": "客戶要求雙機"},
		Items:       []ItemPatch{{ID: robot.ID, Qty: &qty, UnitPriceHigh: &high}},
		RemoveItems: []string{install.ID},
		AddItems: []NewItem{{Category: CategoryEOAT, ItemName: "治具", Spec: &spec, Qty: 1, Unit: "組",
			UnitPriceLow: 30000, UnitPriceHigh: 45000}},
	})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, map[string]interface{}{"note": "客戶要求雙機"}, updated.Assumptions)
	require.Len(t, updated.Items, 6)

	assert.Equal(t, robot.ID, updated.Items[0].ID)
	assert.Equal(t, 1600000.0, *updated.Items[0].SubtotalLow)
	assert.Equal(t, 2600000.0, *updated.Items[0].SubtotalHigh)
	last := updated.Items[5]
	assert.Equal(t, "治具", last.ItemName)
	assert.Equal(t, 5, last.Position)
	assert.Equal(t, 30000.0, *last.SubtotalLow)

	// 1.6M + 200k + 50k + 100k + 500k + 30k
	assert.Equal(t, 2480000.0, Totals(updated).SubtotalLow)

	fetched, err := e.GetPlan(ctx, p2.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Items, fetched.Items)
}

func TestEngine_UpdatePlanValidation(t *testing.T) {
	e, db, caseID := setup(t)
	ctx := context.Background()
	completeRun(t, db, caseID, map[string]interface{}{})
	plans, err := e.GeneratePlans(ctx, caseID, "")
	require.NoError(t, err)
	p := plans[0]
	itemID := p.Items[0].ID

	neg := -1.0
	low := 5000000.0
	blank := " "
	tests := []struct {
		name  string
		patch PlanPatch
	}{
		{"negative qty", PlanPatch{Items: []ItemPatch{{ID: itemID, Qty: &neg}}}},
		{"low above high", PlanPatch{Items: []ItemPatch{{ID: itemID, UnitPriceLow: &low}}}},
		{"unknown item", PlanPatch{Items: []ItemPatch{{ID: "nope"}}}},
		{"unknown removal", PlanPatch{RemoveItems: []string{"nope"}}},
		{"blank name", PlanPatch{Name: &blank}},
		{"new item without name", PlanPatch{AddItems: []NewItem{{Qty: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.UpdatePlan(ctx, p.ID, tt.patch)
			assert.True(t, errors.Is(err, models.ErrValidation), "got %v", err)
		})
	}

	unchanged, err := e.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Items[0].Qty, unchanged.Items[0].Qty)

	_, err = e.UpdatePlan(ctx, "missing", PlanPatch{})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestPrice(t *testing.T) {
	low, high := 1000.0, 2000.0
	p := &models.Plan{Items: []models.QuoteItem{{SubtotalLow: &low, SubtotalHigh: &high}}}
	priced := Price(p)
	assert.Equal(t, 100.0, priced.Totals.Contingency)
	assert.Equal(t, 1100.0, priced.Totals.TotalLow)
	assert.Equal(t, 2100.0, priced.Totals.TotalHigh)
}
