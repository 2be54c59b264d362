package split

import (
	"fmt"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Rates is the fixed tier-rate table applied to what remains after the
// affiliate share. Both rates are fractions in [0, 1].
type Rates struct {
	PlatformFee decimal.Decimal
	TierA       decimal.Decimal
	// Scale is the number of decimal places every share is rounded to.
	Scale int32
}

// RatesFromConfig builds a Rates table from the loaded split configuration.
func RatesFromConfig(cfg models.SplitConfig) Rates {
	return Rates{PlatformFee: cfg.PlatformFeeRate, TierA: cfg.TierARate, Scale: cfg.Scale}
}

// Validate rejects rate tables that cannot produce a well-formed split.
func (r Rates) Validate() error {
	if r.PlatformFee.IsNegative() || r.PlatformFee.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: platform fee rate %s outside [0,1]", store.ErrConfiguration, r.PlatformFee)
	}
	if r.TierA.IsNegative() || r.TierA.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: tier A rate %s outside [0,1]", store.ErrConfiguration, r.TierA)
	}
	if r.Scale < 0 {
		return fmt.Errorf("%w: negative scale %d", store.ErrConfiguration, r.Scale)
	}
	return nil
}

// Result is the four-way division of one sale.
type Result struct {
	AffiliateShare decimal.Decimal `json:"affiliate_share"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	TierAShare     decimal.Decimal `json:"tier_a_share"`
	TierBShare     decimal.Decimal `json:"tier_b_share"`
}

// Total is the sum of all shares.
func (r Result) Total() decimal.Decimal {
	return r.AffiliateShare.Add(r.PlatformFee).Add(r.TierAShare).Add(r.TierBShare)
}

// Verify checks that the shares add back up to amount exactly.
func (r Result) Verify(amount decimal.Decimal) error {
	if !r.Total().Equal(amount) {
		return fmt.Errorf("%w: split total %s != amount %s", store.ErrInvariantViolation, r.Total(), amount)
	}
	return nil
}

// ValidateCommission rejects commission snapshots that cannot be applied.
func ValidateCommission(c models.CommissionConfig) error {
	switch c.Type {
	case models.CommissionPercentage:
		if c.Rate.IsNegative() || c.Rate.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage rate %s outside [0,100]", store.ErrConfiguration, c.Rate)
		}
	case models.CommissionFlat:
		if c.Rate.IsNegative() {
			return fmt.Errorf("%w: negative flat rate %s", store.ErrConfiguration, c.Rate)
		}
	default:
		return fmt.Errorf("%w: unknown commission type %q", store.ErrConfiguration, c.Type)
	}
	return nil
}

// Calculate divides amount between the affiliate, the platform and the two
// ownership tiers. Each multiplied share is rounded half-up to rates.Scale
// before it is subtracted, and tier B takes whatever is left, so the four
// shares always sum to amount exactly.
func Calculate(amount decimal.Decimal, commission models.CommissionConfig, hasAffiliate bool, rates Rates) (Result, error) {
	if amount.IsNegative() {
		return Result{}, fmt.Errorf("%w: negative amount %s", store.ErrConfiguration, amount)
	}
	if err := rates.Validate(); err != nil {
		return Result{}, err
	}

	affiliateShare := decimal.Zero
	if hasAffiliate {
		if err := ValidateCommission(commission); err != nil {
			return Result{}, err
		}
		switch commission.Type {
		case models.CommissionPercentage:
			affiliateShare = amount.Mul(commission.Rate).Div(hundred).Round(rates.Scale)
		case models.CommissionFlat:
			affiliateShare = decimal.Min(commission.Rate, amount)
		}
		// rounding must never push a share above what it is taken from
		if affiliateShare.GreaterThan(amount) {
			affiliateShare = amount
		}
	}

	remainder := amount.Sub(affiliateShare)
	platformFee := remainder.Mul(rates.PlatformFee).Round(rates.Scale)
	if platformFee.GreaterThan(remainder) {
		platformFee = remainder
	}
	pool := remainder.Sub(platformFee)
	tierA := pool.Mul(rates.TierA).Round(rates.Scale)
	if tierA.GreaterThan(pool) {
		tierA = pool
	}
	tierB := pool.Sub(tierA)

	return Result{
		AffiliateShare: affiliateShare,
		PlatformFee:    platformFee,
		TierAShare:     tierA,
		TierBShare:     tierB,
	}, nil
}
