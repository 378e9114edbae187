package models

import (
	"math"
	"time"
)

// PlanCode tags the three pricing tiers, economy to premium.
type PlanCode string

const (
	PlanP1 PlanCode = "P1"
	PlanP2 PlanCode = "P2"
	PlanP3 PlanCode = "P3"
)

var PlanCodes = []PlanCode{PlanP1, PlanP2, PlanP3}

// ContingencyRate is applied to the low subtotal of every plan.
const ContingencyRate = 0.10

// Plan is one priced proposal tier.
type Plan struct {
	ID          string                 `json:"id"`
	CaseID      string                 `json:"case_id"`
	RunID       *string                `json:"run_id,omitempty"`
	Code        PlanCode               `json:"plan_code"`
	Name        string                 `json:"name"`
	Assumptions map[string]interface{} `json:"assumptions"`
	Items       []QuoteItem            `json:"items"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// QuoteItem is one priced line of a plan.
type QuoteItem struct {
	ID            string   `json:"id"`
	PlanID        string   `json:"plan_id"`
	Position      int      `json:"position"`
	Category      string   `json:"category"`
	ItemName      string   `json:"item_name"`
	Spec          *string  `json:"spec,omitempty"`
	Qty           float64  `json:"qty"`
	Unit          string   `json:"unit"`
	UnitPriceLow  float64  `json:"unit_price_low"`
	UnitPriceHigh float64  `json:"unit_price_high"`
	SubtotalLow   *float64 `json:"subtotal_low"`
	SubtotalHigh  *float64 `json:"subtotal_high"`
}

// Recompute sets both subtotals from qty and unit prices.
func (q *QuoteItem) Recompute() {
	low := Round2(q.Qty * q.UnitPriceLow)
	high := Round2(q.Qty * q.UnitPriceHigh)
	q.SubtotalLow = &low
	q.SubtotalHigh = &high
}

// Totals is the derived cost summary of a plan. It is never stored.
type Totals struct {
	SubtotalLow  float64 `json:"subtotal_low"`
	SubtotalHigh float64 `json:"subtotal_high"`
	Contingency  float64 `json:"contingency"`
	TotalLow     float64 `json:"total_low"`
	TotalHigh    float64 `json:"total_high"`
}

// ComputeTotals aggregates item subtotals. Contingency is charged on the
// low subtotal and added to both bounds.
func ComputeTotals(items []QuoteItem) Totals {
	var t Totals
	for _, it := range items {
		if it.SubtotalLow != nil {
			t.SubtotalLow += *it.SubtotalLow
		}
		if it.SubtotalHigh != nil {
			t.SubtotalHigh += *it.SubtotalHigh
		}
	}
	return TotalsFromSubtotals(t.SubtotalLow, t.SubtotalHigh)
}

// TotalsFromSubtotals applies the contingency rule to precomputed subtotals.
func TotalsFromSubtotals(low, high float64) Totals {
	low, high = Round2(low), Round2(high)
	cont := Round2(low * ContingencyRate)
	return Totals{
		SubtotalLow:  low,
		SubtotalHigh: high,
		Contingency:  cont,
		TotalLow:     Round2(low + cont),
		TotalHigh:    Round2(high + cont),
	}
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
