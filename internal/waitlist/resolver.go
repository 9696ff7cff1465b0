package waitlist

import (
	"context"
	"errors"
	"slices"

	"github.com/lexreach/tierbilling/internal/billing"
)

// Resolver decides which discount tier, if any, a signup is entitled to.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveTier returns nil when the email is not on the waitlist or none of
// the submitted licenses match the ones given at waitlist signup.
func (r *Resolver) ResolveTier(ctx context.Context, email string, licenses []string) (*billing.DiscountTier, error) {
	entry, err := r.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !slices.ContainsFunc(licenses, func(l string) bool {
		return slices.Contains(entry.Licenses, l)
	}) {
		return nil, nil
	}
	return billing.TierForPosition(entry.Position), nil
}
