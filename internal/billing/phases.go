package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Phase is one step of a subscription's price schedule. Iterations is the
// number of active billing cycles the phase lasts; zero means open-ended.
type Phase struct {
	PriceID         string `json:"price"`
	Amount          int64  `json:"amount"`
	DiscountPercent int    `json:"discount,omitempty"`
	Iterations      int    `json:"iterations,omitempty"`
	Trial           bool   `json:"trial,omitempty"`
}

func (p Phase) Bounded() bool { return p.Iterations > 0 }

func (p Phase) Discounted() bool { return p.DiscountPercent > 0 }

// Subscription metadata keys holding the phase cursor.
const (
	metaScheduledPhases   = "scheduled_phases"
	metaCurrentPhase      = "current_phase"
	metaCurrentIterations = "current_iterations"
	metaLivePhase         = "live_phase"
	metaCursorPeriodEnd   = "cursor_period_end"
)

// Cursor tracks where a subscription is in its phase plan. It lives in the
// platform subscription's metadata so a transition and its bookkeeping are
// written in the same update.
type Cursor struct {
	PhaseIndex int
	Iterations int
	Live       Phase
	Scheduled  []Phase
	// PeriodEnd is the unix time of the last billing period counted.
	PeriodEnd int64
}

func NewCursor(plan []Phase) Cursor {
	c := Cursor{Live: plan[0]}
	if len(plan) > 1 {
		c.Scheduled = append([]Phase(nil), plan[1:]...)
	}
	return c
}

func (c Cursor) Metadata() map[string]string {
	scheduled := c.Scheduled
	if scheduled == nil {
		scheduled = []Phase{}
	}
	pending, _ := json.Marshal(scheduled)
	live, _ := json.Marshal(c.Live)
	return map[string]string{
		metaScheduledPhases:   string(pending),
		metaCurrentPhase:      strconv.Itoa(c.PhaseIndex),
		metaCurrentIterations: strconv.Itoa(c.Iterations),
		metaLivePhase:         string(live),
		metaCursorPeriodEnd:   strconv.FormatInt(c.PeriodEnd, 10),
	}
}

// ParseCursor reads the cursor from subscription metadata. It returns nil
// without error when the subscription carries no phase schedule.
func ParseCursor(md map[string]string) (*Cursor, error) {
	raw, ok := md[metaScheduledPhases]
	if !ok || raw == "" {
		return nil, nil
	}

	var c Cursor
	if err := json.Unmarshal([]byte(raw), &c.Scheduled); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", metaScheduledPhases, err)
	}
	if live := md[metaLivePhase]; live != "" {
		if err := json.Unmarshal([]byte(live), &c.Live); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", metaLivePhase, err)
		}
	}

	var err error
	if c.PhaseIndex, err = metaInt(md, metaCurrentPhase); err != nil {
		return nil, err
	}
	if c.Iterations, err = metaInt(md, metaCurrentIterations); err != nil {
		return nil, err
	}
	if v := md[metaCursorPeriodEnd]; v != "" {
		if c.PeriodEnd, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("malformed %s: %w", metaCursorPeriodEnd, err)
		}
	}
	return &c, nil
}

func metaInt(md map[string]string, key string) (int, error) {
	v := md[key]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("malformed %s: %w", key, err)
	}
	return n, nil
}

// Advance counts one active billing cycle ending at periodEnd. When the
// live phase reaches its bound the next scheduled phase becomes live with
// its iteration count reset.
func (c Cursor) Advance(periodEnd time.Time) (Cursor, bool) {
	next := c
	next.Scheduled = append([]Phase(nil), c.Scheduled...)
	next.PeriodEnd = periodEnd.Unix()
	next.Iterations++

	if !c.Live.Bounded() || next.Iterations < c.Live.Iterations || len(next.Scheduled) == 0 {
		return next, false
	}

	next.Live = next.Scheduled[0]
	next.Scheduled = next.Scheduled[1:]
	next.PhaseIndex++
	next.Iterations = 0
	return next, true
}

// LedgerProjection is the ledger view of a cursor.
type LedgerProjection struct {
	CurrentPrice            int64
	NextPrice               int64
	DiscountPercent         int
	RemainingDiscountMonths int
	NextPriceChangeAt       *time.Time
}

func (c Cursor) Project(periodEnd time.Time) LedgerProjection {
	p := LedgerProjection{
		CurrentPrice: c.Live.Amount,
		NextPrice:    c.Live.Amount,
	}
	if len(c.Scheduled) > 0 {
		p.NextPrice = c.Scheduled[0].Amount
	}
	if !c.Live.Bounded() {
		return p
	}

	left := max(c.Live.Iterations-c.Iterations, 0)
	if c.Live.Discounted() && left > 0 {
		p.DiscountPercent = c.Live.DiscountPercent
		p.RemainingDiscountMonths = left
	}
	if len(c.Scheduled) > 0 {
		at := AddCalendarMonths(periodEnd, left)
		p.NextPriceChangeAt = &at
	}
	return p
}
