package billing

import (
	"cmp"
	"slices"
)

// AdditionalDiscount is a percent off applied for a fixed number of months.
type AdditionalDiscount struct {
	Percent int `json:"percent" validate:"gte=0,lte=100"`
	Months  int `json:"months" validate:"gte=0"`
}

// DiscountTier describes the early-signup benefits granted to a waitlist
// position band. A nil MaxPosition marks the catch-all tier.
type DiscountTier struct {
	Name                      string              `json:"name,omitempty"`
	MaxPosition               *int                `json:"maxPosition,omitempty"`
	TrialMonths               int                 `json:"trialMonths" validate:"gte=0"`
	SecondYearDiscountPercent int                 `json:"secondYearDiscount" validate:"gte=0,lte=100"`
	AdditionalDiscount        *AdditionalDiscount `json:"additionalDiscount,omitempty"`
}

const secondYearMonths = 12

// InitialDiscountPercent is the percent taken off the first price the
// subscriber is charged.
func (t *DiscountTier) InitialDiscountPercent() int {
	if t == nil {
		return 0
	}
	if t.SecondYearDiscountPercent > 0 {
		return t.SecondYearDiscountPercent
	}
	if t.AdditionalDiscount != nil {
		return t.AdditionalDiscount.Percent
	}
	return 0
}

// PercentMonths totals the benefit of a tier: trial months count as fully
// free months, discounted months count proportionally.
func (t *DiscountTier) PercentMonths() int {
	if t == nil {
		return 0
	}
	total := t.TrialMonths * 100
	if t.SecondYearDiscountPercent > 0 {
		total += t.SecondYearDiscountPercent * secondYearMonths
	} else if t.AdditionalDiscount != nil {
		total += t.AdditionalDiscount.Percent * t.AdditionalDiscount.Months
	}
	return total
}

func intPtr(v int) *int { return &v }

var (
	Tier1 = DiscountTier{
		Name:                      "tier1",
		MaxPosition:               intPtr(1000),
		TrialMonths:               12,
		SecondYearDiscountPercent: 50,
	}
	Tier2 = DiscountTier{
		Name:                      "tier2",
		MaxPosition:               intPtr(2500),
		TrialMonths:               12,
		SecondYearDiscountPercent: 25,
	}
	Tier3 = DiscountTier{
		Name:                      "tier3",
		TrialMonths:               6,
		SecondYearDiscountPercent: 0,
		AdditionalDiscount:        &AdditionalDiscount{Percent: 50, Months: 6},
	}
)

// Tiers lists the static tier table, bounded tiers first by ascending
// MaxPosition and the catch-all last.
var Tiers = orderTiers([]DiscountTier{Tier1, Tier2, Tier3})

func orderTiers(tiers []DiscountTier) []DiscountTier {
	ordered := slices.Clone(tiers)
	slices.SortStableFunc(ordered, func(a, b DiscountTier) int {
		switch {
		case a.MaxPosition == nil && b.MaxPosition == nil:
			return 0
		case a.MaxPosition == nil:
			return 1
		case b.MaxPosition == nil:
			return -1
		}
		return cmp.Compare(*a.MaxPosition, *b.MaxPosition)
	})
	return ordered
}

// TierForPosition returns the first tier whose bound covers position.
func TierForPosition(position int) *DiscountTier {
	for i := range Tiers {
		t := Tiers[i]
		if t.MaxPosition == nil || position <= *t.MaxPosition {
			return &t
		}
	}
	return nil
}
