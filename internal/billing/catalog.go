package billing

import (
	"context"
	"fmt"

	"github.com/lexreach/tierbilling/internal/metrics"
)

type PriceKind string

const (
	PriceKindBase     PriceKind = "base"
	PriceKindDiscount PriceKind = "discount"
)

func LookupKey(kind PriceKind, amount int64) string {
	return fmt.Sprintf("%s_%d", kind, amount)
}

// PriceCatalog maps (kind, amount) pairs to reusable recurring prices.
// Every call goes to the platform; two concurrent misses for the same key
// may both create a price, and either one is usable.
type PriceCatalog struct {
	platform Platform
}

func NewPriceCatalog(platform Platform) *PriceCatalog {
	return &PriceCatalog{platform: platform}
}

func (c *PriceCatalog) GetOrCreatePrice(ctx context.Context, amount int64, kind PriceKind) (*Price, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: price amount must be positive, got %d", ErrInvalidInput, amount)
	}
	key := LookupKey(kind, amount)

	price, err := c.platform.FindActivePrice(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up price %s: %w", key, err)
	}
	if price != nil {
		metrics.PriceLookupsTotal.WithLabelValues("found").Inc()
		return price, nil
	}

	price, err = c.platform.CreatePrice(ctx, key, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to create price %s: %w", key, err)
	}
	metrics.PriceLookupsTotal.WithLabelValues("created").Inc()
	return price, nil
}
