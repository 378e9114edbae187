// Package pricing builds the three priced plans of a case from its
// requirements and applies manual edits to them.
package pricing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Kiwi1009/interview-to-quote/internal/casedb"
	"github.com/Kiwi1009/interview-to-quote/internal/logger"
	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

// RequirementsSource resolves runs and their requirements.
type RequirementsSource interface {
	ResolveRunID(ctx context.Context, caseID, runID string) (string, error)
	GetRequirements(ctx context.Context, caseID, runID string) (*models.Requirements, error)
}

// PricedPlan is a plan with its derived totals.
type PricedPlan struct {
	models.Plan
	Totals models.Totals `json:"totals"`
}

// Price attaches totals to a plan.
func Price(p *models.Plan) PricedPlan {
	return PricedPlan{Plan: *p, Totals: Totals(p)}
}

// PriceAll attaches totals to every plan.
func PriceAll(plans []*models.Plan) []PricedPlan {
	out := make([]PricedPlan, 0, len(plans))
	for _, p := range plans {
		out = append(out, Price(p))
	}
	return out
}

type Engine struct {
	db      *casedb.Store
	reqs    RequirementsSource
	catalog *Catalog
	log     *logger.Logger
}

func NewEngine(db *casedb.Store, reqs RequirementsSource, catalog *Catalog, log *logger.Logger) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{db: db, reqs: reqs, catalog: catalog, log: log}
}

// GeneratePlans builds P1, P2 and P3 from the requirements of runID (the
// latest run when empty). Plans already generated for that run are
// returned unchanged.
func (e *Engine) GeneratePlans(ctx context.Context, caseID, runID string) ([]*models.Plan, error) {
	const op = "pricing.GeneratePlans"

	c, err := e.db.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == models.CaseArchived {
		return nil, models.E(models.KindPrecondition, op, "case %s is archived", caseID)
	}

	id, err := e.reqs.ResolveRunID(ctx, caseID, runID)
	if err != nil {
		if runID == "" && errors.Is(err, models.ErrNotFound) {
			return nil, models.E(models.KindPrecondition, op, "case %s has no extraction run", caseID)
		}
		return nil, err
	}
	req, err := e.reqs.GetRequirements(ctx, caseID, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.E(models.KindPrecondition, op, "run %s has no requirements", id)
		}
		return nil, err
	}

	now := time.Now().UTC()
	plans := make([]*models.Plan, 0, len(tiers))
	for _, t := range tiers {
		plans = append(plans, t.applyRequirements(req.Data).buildPlan(e.catalog, caseID, id, now))
	}

	stored, created, err := e.db.CreatePlanSet(ctx, caseID, id, plans)
	if err != nil {
		return nil, err
	}
	if !created {
		e.log.Debug("plans already exist for run", "case_id", caseID, "run_id", id)
		return stored, nil
	}
	e.log.Info("plans generated", "case_id", caseID, "run_id", id, "plans", len(stored))
	return e.db.ListPlans(ctx, caseID, id)
}

// ListPlans returns the plans generated from runID, or from the most recent
// run that has plans when runID is empty.
func (e *Engine) ListPlans(ctx context.Context, caseID, runID string) ([]*models.Plan, error) {
	if _, err := e.db.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	if runID == "" {
		id, err := e.db.LatestPlanRunID(ctx, caseID)
		if errors.Is(err, models.ErrNotFound) {
			return []*models.Plan{}, nil
		}
		if err != nil {
			return nil, err
		}
		runID = id
	}
	return e.db.ListPlans(ctx, caseID, runID)
}

func (e *Engine) GetPlan(ctx context.Context, planID string) (*models.Plan, error) {
	return e.db.GetPlan(ctx, planID)
}

// ItemPatch changes fields of an existing quote item. Nil fields are kept.
type ItemPatch struct {
	ID            string   `json:"id"`
	Category      *string  `json:"category,omitempty"`
	ItemName      *string  `json:"item_name,omitempty"`
	Spec          *string  `json:"spec,omitempty"`
	Qty           *float64 `json:"qty,omitempty"`
	Unit          *string  `json:"unit,omitempty"`
	UnitPriceLow  *float64 `json:"unit_price_low,omitempty"`
	UnitPriceHigh *float64 `json:"unit_price_high,omitempty"`
}

// NewItem is a quote item added by hand.
type NewItem struct {
	Category      string  `json:"category"`
	ItemName      string  `json:"item_name"`
	Spec          *string `json:"spec,omitempty"`
	Qty           float64 `json:"qty"`
	Unit          string  `json:"unit"`
	UnitPriceLow  float64 `json:"unit_price_low"`
	UnitPriceHigh float64 `json:"unit_price_high"`
}

// PlanPatch is a manual edit of a plan. Assumptions, when given, replace
// the stored ones.
type PlanPatch struct {
	Name        *string                `json:"name,omitempty"`
	Assumptions map[string]interface{} `json:"assumptions,omitempty"`
	Items       []ItemPatch            `json:"items,omitempty"`
	AddItems    []NewItem              `json:"add_items,omitempty"`
	RemoveItems []string               `json:"remove_items,omitempty"`
}

// UpdatePlan applies patch and recomputes every subtotal.
func (e *Engine) UpdatePlan(ctx context.Context, planID string, patch PlanPatch) (*models.Plan, error) {
	const op = "pricing.UpdatePlan"

	p, err := e.db.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, models.E(models.KindValidation, op, "plan name must not be empty")
		}
		p.Name = name
	}
	if patch.Assumptions != nil {
		p.Assumptions = patch.Assumptions
	}

	index := make(map[string]int, len(p.Items))
	for i, it := range p.Items {
		index[it.ID] = i
	}
	for _, ip := range patch.Items {
		i, ok := index[ip.ID]
		if !ok {
			return nil, models.E(models.KindValidation, op, "quote item %s is not part of plan %s", ip.ID, planID)
		}
		applyItemPatch(&p.Items[i], ip)
	}

	remove := make(map[string]bool, len(patch.RemoveItems))
	for _, id := range patch.RemoveItems {
		if _, ok := index[id]; !ok {
			return nil, models.E(models.KindValidation, op, "quote item %s is not part of plan %s", id, planID)
		}
		remove[id] = true
	}
	items := p.Items[:0]
	for _, it := range p.Items {
		if !remove[it.ID] {
			items = append(items, it)
		}
	}
	for _, n := range patch.AddItems {
		items = append(items, models.QuoteItem{
			ID:            uuid.New().String(),
			PlanID:        p.ID,
			Category:      n.Category,
			ItemName:      n.ItemName,
			Spec:          n.Spec,
			Qty:           n.Qty,
			Unit:          n.Unit,
			UnitPriceLow:  n.UnitPriceLow,
			UnitPriceHigh: n.UnitPriceHigh,
		})
	}

	for i := range items {
		it := &items[i]
		if err := validateItem(op, it); err != nil {
			return nil, err
		}
		it.Position = i
		it.Recompute()
	}
	p.Items = items
	p.UpdatedAt = time.Now().UTC()

	if err := e.db.SavePlan(ctx, p); err != nil {
		return nil, err
	}
	totals := Totals(p)
	e.log.Info("plan updated", "plan_id", p.ID, "items", len(p.Items),
		"total_low", totals.TotalLow, "total_high", totals.TotalHigh)
	return e.db.GetPlan(ctx, p.ID)
}

func applyItemPatch(it *models.QuoteItem, ip ItemPatch) {
	if ip.Category != nil {
		it.Category = *ip.Category
	}
	if ip.ItemName != nil {
		it.ItemName = *ip.ItemName
	}
	if ip.Spec != nil {
		spec := *ip.Spec
		it.Spec = &spec
	}
	if ip.Qty != nil {
		it.Qty = *ip.Qty
	}
	if ip.Unit != nil {
		it.Unit = *ip.Unit
	}
	if ip.UnitPriceLow != nil {
		it.UnitPriceLow = *ip.UnitPriceLow
	}
	if ip.UnitPriceHigh != nil {
		it.UnitPriceHigh = *ip.UnitPriceHigh
	}
}

func validateItem(op string, it *models.QuoteItem) error {
	switch {
	case strings.TrimSpace(it.ItemName) == "":
		return models.E(models.KindValidation, op, "quote item name must not be empty")
	case it.Qty < 0:
		return models.E(models.KindValidation, op, "quote item %q: qty must not be negative", it.ItemName)
	case it.UnitPriceLow < 0:
		return models.E(models.KindValidation, op, "quote item %q: unit price must not be negative", it.ItemName)
	case it.UnitPriceLow > it.UnitPriceHigh:
		return models.E(models.KindValidation, op, "quote item %q: unit_price_low %.2f exceeds unit_price_high %.2f",
			it.ItemName, it.UnitPriceLow, it.UnitPriceHigh)
	}
	return nil
}

// Totals returns the derived cost summary of a plan.
func Totals(p *models.Plan) models.Totals {
	return models.ComputeTotals(p.Items)
}
