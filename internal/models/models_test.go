package models

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaseStatus_CanAdvanceTo(t *testing.T) {
	all := []CaseStatus{CaseDraft, CaseExtracting, CaseReviewing, CaseQuoted, CaseArchived}
	allowed := map[[2]CaseStatus]bool{
		{CaseDraft, CaseExtracting}:    true,
		{CaseExtracting, CaseReviewing}: true,
		{CaseReviewing, CaseQuoted}:    true,
		{CaseDraft, CaseArchived}:      true,
		{CaseExtracting, CaseArchived}: true,
		{CaseReviewing, CaseArchived}:  true,
		{CaseQuoted, CaseArchived}:     true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]CaseStatus{from, to}]
			assert.Equal(t, want, from.CanAdvanceTo(to), "%s -> %s", from, to)
		}
	}
}

// Random walks over the transition function never leave the forward chain
// and always end once archived.
func TestCaseStatus_RandomWalk(t *testing.T) {
	all := []CaseStatus{CaseDraft, CaseExtracting, CaseReviewing, CaseQuoted, CaseArchived, "bogus"}
	rng := rand.New(rand.NewSource(42))
	for walk := 0; walk < 200; walk++ {
		cur := CaseDraft
		for step := 0; step < 20; step++ {
			next := all[rng.Intn(len(all))]
			if !cur.CanAdvanceTo(next) {
				continue
			}
			if next != CaseArchived {
				require.Equal(t, cur.Rank()+1, next.Rank())
			}
			cur = next
		}
		if cur == CaseArchived {
			for _, s := range all {
				assert.False(t, cur.CanAdvanceTo(s))
			}
		}
	}
}

func TestComputeTotals_WorkedExample(t *testing.T) {
	tot := TotalsFromSubtotals(1000, 1500)
	assert.Equal(t, 100.0, tot.Contingency)
	assert.Equal(t, 1100.0, tot.TotalLow)
	assert.Equal(t, 1600.0, tot.TotalHigh)
}

func TestComputeTotals_FromItems(t *testing.T) {
	items := []QuoteItem{
		{Qty: 2, UnitPriceLow: 300, UnitPriceHigh: 500},
		{Qty: 1, UnitPriceLow: 400, UnitPriceHigh: 500},
		{Qty: 3, UnitPriceLow: 10, UnitPriceHigh: 20}, // subtotals never computed
	}
	items[0].Recompute()
	items[1].Recompute()

	tot := ComputeTotals(items)
	assert.Equal(t, 1000.0, tot.SubtotalLow)
	assert.Equal(t, 1500.0, tot.SubtotalHigh)
	assert.Equal(t, 100.0, tot.Contingency)
}

func TestQuoteItem_RecomputeRounds(t *testing.T) {
	it := QuoteItem{Qty: 3, UnitPriceLow: 0.3333, UnitPriceHigh: 1.1}
	it.Recompute()
	require.NotNil(t, it.SubtotalLow)
	assert.InDelta(t, 1.0, *it.SubtotalLow, 1e-9)
	assert.InDelta(t, 3.3, *it.SubtotalHigh, 1e-9)
}

func TestError_KindMatching(t *testing.T) {
	base := E(KindConflict, "extraction.Start", "run %s active", "r1")
	wrapped := fmt.Errorf("workflow: %w", base)

	assert.True(t, errors.Is(wrapped, ErrConflict))
	assert.False(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, "run r1 active", MessageOf(wrapped))
	assert.Contains(t, wrapped.Error(), "extraction.Start")

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.True(t, errors.Is(NotFound("op", "case", "x"), ErrNotFound))
}

func TestLookup(t *testing.T) {
	data := map[string]interface{}{
		"workpiece": map[string]interface{}{"weight_range": "5-10kg"},
		"process":   map[string]interface{}{"needs_flip": false},
	}
	v, ok := Lookup(data, "workpiece.weight_range")
	assert.True(t, ok)
	assert.Equal(t, "5-10kg", v)

	v, ok = Lookup(data, "process.needs_flip")
	assert.True(t, ok)
	assert.Equal(t, false, v)

	_, ok = Lookup(data, "workpiece.weight_range.min")
	assert.False(t, ok)
	_, ok = Lookup(data, "machines.count")
	assert.False(t, ok)
}

func TestDocument_Filename(t *testing.T) {
	d := Document{ID: "abc", DocType: DocQuote, Format: FormatPDF}
	assert.Equal(t, "quote_abc.pdf", d.Filename())
	assert.Equal(t, "application/pdf", d.Format.ContentType())
}
