package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tier1Plan() []Phase {
	return []Phase{
		{PriceID: "price_discount_5000", Amount: 5000, DiscountPercent: 50, Iterations: 12, Trial: true},
		{PriceID: "price_discount_5000", Amount: 5000, DiscountPercent: 50, Iterations: 12},
		{PriceID: "price_base_10000", Amount: 10000},
	}
}

func TestCursorMetadataRoundTrip(t *testing.T) {
	c := NewCursor(tier1Plan())
	c.Iterations = 4
	c.PeriodEnd = date(2026, time.May, 1).Unix()

	got, err := ParseCursor(c.Metadata())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c, *got)
}

func TestParseCursor(t *testing.T) {
	got, err := ParseCursor(map[string]string{"attorneyId": "att_1"})
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseCursor(map[string]string{metaScheduledPhases: "{not json"})
	assert.Error(t, err)

	_, err = ParseCursor(map[string]string{metaScheduledPhases: "[]", metaCurrentIterations: "three"})
	assert.Error(t, err)
}

func TestCursorAdvanceTransitionsAtBound(t *testing.T) {
	c := NewCursor(tier1Plan())
	periodEnd := date(2026, time.February, 1)

	for i := 1; i < 12; i++ {
		var moved bool
		c, moved = c.Advance(periodEnd)
		assert.False(t, moved, "cycle %d", i)
		assert.Equal(t, i, c.Iterations)
		periodEnd = AddCalendarMonths(periodEnd, 1)
	}

	c, moved := c.Advance(periodEnd)
	assert.True(t, moved)
	assert.Equal(t, 1, c.PhaseIndex)
	assert.Equal(t, 0, c.Iterations)
	assert.Equal(t, int64(5000), c.Live.Amount)
	assert.False(t, c.Live.Trial)
	require.Len(t, c.Scheduled, 1)
	assert.Equal(t, periodEnd.Unix(), c.PeriodEnd)
}

func TestCursorAdvanceOpenEndedNeverTransitions(t *testing.T) {
	c := NewCursor([]Phase{{PriceID: "price_base_10000", Amount: 10000}})
	for i := 0; i < 30; i++ {
		var moved bool
		c, moved = c.Advance(date(2026, time.January, 1))
		assert.False(t, moved)
	}
	assert.Equal(t, 0, c.PhaseIndex)
}

func TestCursorAdvanceDoesNotMutateReceiver(t *testing.T) {
	c := NewCursor(tier1Plan())
	c.Iterations = 11
	_, moved := c.Advance(date(2026, time.January, 1))
	require.True(t, moved)
	assert.Len(t, c.Scheduled, 2)
	assert.Equal(t, 11, c.Iterations)
}

func TestCursorProjection(t *testing.T) {
	periodEnd := date(2027, time.March, 1)

	c := NewCursor(tier1Plan()[1:])
	p := c.Project(periodEnd)
	assert.Equal(t, int64(5000), p.CurrentPrice)
	assert.Equal(t, int64(10000), p.NextPrice)
	assert.Equal(t, 50, p.DiscountPercent)
	assert.Equal(t, 12, p.RemainingDiscountMonths)
	require.NotNil(t, p.NextPriceChangeAt)
	assert.Equal(t, date(2028, time.March, 1), *p.NextPriceChangeAt)

	c.Iterations = 11
	p = c.Project(periodEnd)
	assert.Equal(t, 1, p.RemainingDiscountMonths)
	assert.Equal(t, date(2027, time.April, 1), *p.NextPriceChangeAt)

	terminal := NewCursor(tier1Plan()[2:])
	p = terminal.Project(periodEnd)
	assert.Equal(t, int64(10000), p.CurrentPrice)
	assert.Equal(t, int64(10000), p.NextPrice)
	assert.Zero(t, p.DiscountPercent)
	assert.Zero(t, p.RemainingDiscountMonths)
	assert.Nil(t, p.NextPriceChangeAt)
}

func TestBuildPlan(t *testing.T) {
	sub := &Subscription{ID: "sub_1", PriceID: "price_discount_5000", Amount: 5000}

	tests := []struct {
		name    string
		tier    *DiscountTier
		amounts []int64
		bounds  []int
	}{
		{name: "no tier", tier: nil, amounts: []int64{10000}, bounds: []int{0}},
		{name: "tier one", tier: &Tier1, amounts: []int64{5000, 5000, 10000}, bounds: []int{12, 12, 0}},
		{name: "tier two", tier: &Tier2, amounts: []int64{5000, 7500, 10000}, bounds: []int{12, 12, 0}},
		{name: "tier three", tier: &Tier3, amounts: []int64{5000, 5000, 10000}, bounds: []int{6, 6, 0}},
		{name: "trial only", tier: &DiscountTier{TrialMonths: 2}, amounts: []int64{5000, 10000}, bounds: []int{2, 0}},
		{name: "discount without trial", tier: &DiscountTier{SecondYearDiscountPercent: 10}, amounts: []int64{9000, 10000}, bounds: []int{12, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewPhaseScheduler(NewPriceCatalog(newFakePlatform()), nil)
			plan, err := s.BuildPlan(context.Background(), sub, 10000, tt.tier)
			require.NoError(t, err)
			require.Len(t, plan, len(tt.amounts))
			for i, p := range plan {
				assert.Equal(t, tt.amounts[i], p.Amount, "phase %d", i)
				assert.Equal(t, tt.bounds[i], p.Iterations, "phase %d", i)
				assert.NotEmpty(t, p.PriceID, "phase %d", i)
			}
			last := plan[len(plan)-1]
			assert.False(t, last.Bounded())
			assert.Equal(t, int64(10000), last.Amount)
		})
	}
}

func TestBuildPlanReusesCatalogPrices(t *testing.T) {
	fp := newFakePlatform()
	s := NewPhaseScheduler(NewPriceCatalog(fp), fp)
	sub := &Subscription{ID: "sub_1", PriceID: "price_discount_5000", Amount: 5000}

	_, err := s.BuildPlan(context.Background(), sub, 10000, &Tier1)
	require.NoError(t, err)
	_, err = s.BuildPlan(context.Background(), sub, 10000, &Tier1)
	require.NoError(t, err)

	assert.Equal(t, 2, fp.priceCreates)
	assert.Contains(t, fp.prices, "discount_5000")
	assert.Contains(t, fp.prices, "base_10000")
}

func TestInitialLedgerEntry(t *testing.T) {
	trialEnd := date(2026, time.January, 15)
	plan := &AppliedPlan{
		Phases: tier1Plan(),
		Subscription: &Subscription{
			ID:               "sub_1",
			Status:           "trialing",
			CurrentPeriodEnd: trialEnd,
		},
		TrialEnd: &trialEnd,
	}

	entry := InitialLedgerEntry("att_1", 10000, plan)
	assert.Equal(t, "att_1", entry.AttorneyID)
	assert.EqualValues(t, "trialing", entry.Status)
	assert.Equal(t, int64(10000), entry.BasePrice)
	assert.Equal(t, int64(10000), entry.OriginalBasePrice)
	assert.Zero(t, entry.CurrentPrice)
	require.NotNil(t, entry.NextPrice)
	assert.Equal(t, int64(5000), *entry.NextPrice)
	assert.Equal(t, 50, entry.DiscountPercent)
	assert.Equal(t, 12, entry.RemainingDiscountMonths)
	assert.Equal(t, &trialEnd, entry.TrialEndsAt)
	assert.Equal(t, &trialEnd, entry.NextPriceChangeAt)
	assert.True(t, entry.SamePeriodEnd(trialEnd))
}

func TestInitialLedgerEntryWithoutTier(t *testing.T) {
	plan := &AppliedPlan{
		Phases:       []Phase{{PriceID: "price_base_10000", Amount: 10000}},
		Subscription: &Subscription{ID: "sub_2", Status: "active"},
	}

	entry := InitialLedgerEntry("att_2", 10000, plan)
	assert.Equal(t, int64(10000), entry.CurrentPrice)
	assert.Equal(t, int64(10000), *entry.NextPrice)
	assert.Zero(t, entry.DiscountPercent)
	assert.Zero(t, entry.RemainingDiscountMonths)
	assert.Nil(t, entry.TrialEndsAt)
	assert.Nil(t, entry.CurrentPeriodEnd)
}
