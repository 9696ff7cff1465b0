package billing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lexreach/tierbilling/internal/metrics"
	"github.com/lexreach/tierbilling/internal/models"
	"golang.org/x/sync/errgroup"
)

// PhaseScheduler builds a subscription's phase plan and walks it forward
// as billing cycles complete.
type PhaseScheduler struct {
	catalog  *PriceCatalog
	platform Platform
}

func NewPhaseScheduler(catalog *PriceCatalog, platform Platform) *PhaseScheduler {
	return &PhaseScheduler{catalog: catalog, platform: platform}
}

// AppliedPlan is a plan as installed on a subscription.
type AppliedPlan struct {
	Phases       []Phase
	Subscription *Subscription
	TrialEnd     *time.Time
}

type pendingPhase struct {
	kind       PriceKind
	amount     int64
	discount   int
	iterations int
}

// BuildPlan derives the phase list for a subscription. The first trial
// phase reuses the price the subscription was checked out with.
func (s *PhaseScheduler) BuildPlan(ctx context.Context, sub *Subscription, originalBasePrice int64, tier *DiscountTier) ([]Phase, error) {
	var phases []Phase
	if tier != nil && tier.TrialMonths > 0 {
		trial := Phase{
			PriceID:    sub.PriceID,
			Amount:     sub.Amount,
			Iterations: tier.TrialMonths,
			Trial:      true,
		}
		if sub.Amount < originalBasePrice {
			trial.DiscountPercent = tier.InitialDiscountPercent()
		}
		phases = append(phases, trial)
	}

	pending := pendingPhases(tier, originalBasePrice)
	resolved := make([]Phase, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pending {
		g.Go(func() error {
			price, err := s.catalog.GetOrCreatePrice(gctx, p.amount, p.kind)
			if err != nil {
				return err
			}
			resolved[i] = Phase{
				PriceID:         price.ID,
				Amount:          p.amount,
				DiscountPercent: p.discount,
				Iterations:      p.iterations,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to resolve phase prices: %w", err)
	}
	return append(phases, resolved...), nil
}

func pendingPhases(tier *DiscountTier, base int64) []pendingPhase {
	var pending []pendingPhase
	switch {
	case tier == nil:
	case tier.SecondYearDiscountPercent > 0:
		pending = append(pending, pendingPhase{
			kind:       PriceKindDiscount,
			amount:     ApplyPercentOff(base, tier.SecondYearDiscountPercent),
			discount:   tier.SecondYearDiscountPercent,
			iterations: secondYearMonths,
		})
	case tier.AdditionalDiscount != nil && tier.AdditionalDiscount.Percent > 0 && tier.AdditionalDiscount.Months > 0:
		pending = append(pending, pendingPhase{
			kind:       PriceKindDiscount,
			amount:     ApplyPercentOff(base, tier.AdditionalDiscount.Percent),
			discount:   tier.AdditionalDiscount.Percent,
			iterations: tier.AdditionalDiscount.Months,
		})
	}
	return append(pending, pendingPhase{kind: PriceKindBase, amount: base})
}

// BuildAndApply installs the plan on the subscription: the live item moves
// to the first phase's price and the remaining phases are recorded in
// metadata. Plans with a single phase carry no cursor.
func (s *PhaseScheduler) BuildAndApply(ctx context.Context, sub *Subscription, originalBasePrice int64, tier *DiscountTier) (*AppliedPlan, error) {
	phases, err := s.BuildPlan(ctx, sub, originalBasePrice, tier)
	if err != nil {
		return nil, err
	}

	update := SubscriptionUpdate{ItemID: sub.ItemID, PriceID: phases[0].PriceID}
	trialEnd := planTrialEnd(sub, phases)
	if trialEnd != nil {
		update.TrialEnd = trialEnd
	}
	if len(phases) > 1 {
		update.Metadata = NewCursor(phases).Metadata()
	}

	updated, err := s.platform.UpdateSubscription(ctx, sub.ID, update)
	if err != nil {
		return nil, fmt.Errorf("failed to apply phase plan to subscription %s: %w", sub.ID, err)
	}
	return &AppliedPlan{Phases: phases, Subscription: updated, TrialEnd: trialEnd}, nil
}

// Rebuild recomputes the plan for a subscription that already carries it,
// without touching the platform.
func (s *PhaseScheduler) Rebuild(ctx context.Context, sub *Subscription, originalBasePrice int64, tier *DiscountTier) (*AppliedPlan, error) {
	phases, err := s.BuildPlan(ctx, sub, originalBasePrice, tier)
	if err != nil {
		return nil, err
	}
	return &AppliedPlan{Phases: phases, Subscription: sub, TrialEnd: planTrialEnd(sub, phases)}, nil
}

func planTrialEnd(sub *Subscription, phases []Phase) *time.Time {
	if !phases[0].Trial {
		return nil
	}
	if sub.TrialEnd != nil {
		end := *sub.TrialEnd
		return &end
	}
	end := AddCalendarMonths(sub.StartedAt, phases[0].Iterations)
	return &end
}

// InitialLedgerEntry is the ledger row written when checkout completes.
func InitialLedgerEntry(attorneyID string, originalBasePrice int64, plan *AppliedPlan) *models.SubscriptionLedger {
	sub := plan.Subscription
	phases := plan.Phases

	entry := &models.SubscriptionLedger{
		AttorneyID:             attorneyID,
		ExternalSubscriptionID: sub.ID,
		Status:                 sub.Status,
		BasePrice:              originalBasePrice,
		OriginalBasePrice:      originalBasePrice,
		CurrentPrice:           phases[0].Amount,
		NextPriceChangeAt:      plan.TrialEnd,
		TrialEndsAt:            plan.TrialEnd,
	}
	if sub.Status == models.SubscriptionStatusTrialing {
		entry.CurrentPrice = 0
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		periodEnd := sub.CurrentPeriodEnd
		entry.CurrentPeriodEnd = &periodEnd
	}

	start := 0
	if phases[0].Trial {
		start = 1
	}
	next := originalBasePrice
	if start < len(phases) {
		next = phases[start].Amount
	}
	for _, p := range phases[start:] {
		if p.Discounted() {
			next = p.Amount
			entry.DiscountPercent = p.DiscountPercent
			entry.RemainingDiscountMonths = p.Iterations
			break
		}
	}
	entry.NextPrice = &next
	return entry
}

type SyncOutcome string

const (
	SyncStatusOnly   SyncOutcome = "status_only"
	SyncDuplicate    SyncOutcome = "duplicate"
	SyncReconciled   SyncOutcome = "reconciled"
	SyncAdvanced     SyncOutcome = "advanced"
	SyncTransitioned SyncOutcome = "transitioned"
)

type SyncResult struct {
	Outcome SyncOutcome
	Cursor  *Cursor
}

// Sync brings entry in line with a freshly retrieved subscription and moves
// the phase cursor forward when a new active billing period has started.
// The caller persists entry and must hold the subscription lock.
func (s *PhaseScheduler) Sync(ctx context.Context, entry *models.SubscriptionLedger, sub *Subscription) (*SyncResult, error) {
	cursor, err := ParseCursor(sub.Metadata)
	if err != nil {
		return nil, permanent(fmt.Errorf("subscription %s: %w", sub.ID, err))
	}

	periodEnd := sub.CurrentPeriodEnd
	if cursor == nil {
		syncPeriod(entry, sub)
		return &SyncResult{Outcome: SyncStatusOnly}, nil
	}

	if entry.SamePeriodEnd(periodEnd) {
		entry.Status = sub.Status
		return &SyncResult{Outcome: SyncDuplicate, Cursor: cursor}, nil
	}

	// The platform already counted this period but the ledger write was lost.
	if cursor.PeriodEnd == periodEnd.Unix() {
		applyProjection(entry, cursor.Project(periodEnd))
		syncPeriod(entry, sub)
		return &SyncResult{Outcome: SyncReconciled, Cursor: cursor}, nil
	}

	if sub.Status != models.SubscriptionStatusActive || !cursor.Live.Bounded() {
		syncPeriod(entry, sub)
		return &SyncResult{Outcome: SyncStatusOnly, Cursor: cursor}, nil
	}

	next, transitioned := cursor.Advance(periodEnd)
	update := SubscriptionUpdate{Metadata: next.Metadata()}
	if transitioned {
		update.ItemID = sub.ItemID
		update.PriceID = next.Live.PriceID
	}
	if _, err := s.platform.UpdateSubscription(ctx, sub.ID, update); err != nil {
		return nil, fmt.Errorf("failed to advance phase cursor for subscription %s: %w", sub.ID, err)
	}

	applyProjection(entry, next.Project(periodEnd))
	syncPeriod(entry, sub)

	outcome := SyncAdvanced
	if transitioned {
		outcome = SyncTransitioned
		metrics.PhaseTransitionsTotal.WithLabelValues(strconv.Itoa(next.PhaseIndex)).Inc()
	}
	return &SyncResult{Outcome: outcome, Cursor: &next}, nil
}

func syncPeriod(entry *models.SubscriptionLedger, sub *Subscription) {
	entry.Status = sub.Status
	if !sub.CurrentPeriodEnd.IsZero() {
		periodEnd := sub.CurrentPeriodEnd
		entry.CurrentPeriodEnd = &periodEnd
	}
}

func applyProjection(entry *models.SubscriptionLedger, p LedgerProjection) {
	entry.CurrentPrice = p.CurrentPrice
	next := p.NextPrice
	entry.NextPrice = &next
	entry.DiscountPercent = p.DiscountPercent
	entry.RemainingDiscountMonths = p.RemainingDiscountMonths
	entry.NextPriceChangeAt = p.NextPriceChangeAt
}
