package split

import (
	"errors"
	"testing"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

func testRates() Rates {
	return Rates{
		PlatformFee: decimal.RequireFromString("0.15"),
		TierA:       decimal.RequireFromString("0.60"),
		Scale:       2,
	}
}

func pct(rate string) models.CommissionConfig {
	return models.CommissionConfig{Rate: decimal.RequireFromString(rate), Type: models.CommissionPercentage}
}

func flat(rate string) models.CommissionConfig {
	return models.CommissionConfig{Rate: decimal.RequireFromString(rate), Type: models.CommissionFlat}
}

func TestCalculate_PercentageWorkedExample(t *testing.T) {
	amount := decimal.NewFromInt(1_000_000)

	result, err := Calculate(amount, pct("20"), true, testRates())
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	expected := Result{
		AffiliateShare: decimal.NewFromInt(200_000),
		PlatformFee:    decimal.NewFromInt(120_000),
		TierAShare:     decimal.NewFromInt(408_000),
		TierBShare:     decimal.NewFromInt(272_000),
	}
	if !result.AffiliateShare.Equal(expected.AffiliateShare) {
		t.Errorf("Expected affiliate share %s, got %s", expected.AffiliateShare, result.AffiliateShare)
	}
	if !result.PlatformFee.Equal(expected.PlatformFee) {
		t.Errorf("Expected platform fee %s, got %s", expected.PlatformFee, result.PlatformFee)
	}
	if !result.TierAShare.Equal(expected.TierAShare) {
		t.Errorf("Expected tier A share %s, got %s", expected.TierAShare, result.TierAShare)
	}
	if !result.TierBShare.Equal(expected.TierBShare) {
		t.Errorf("Expected tier B share %s, got %s", expected.TierBShare, result.TierBShare)
	}
	if err := result.Verify(amount); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestCalculate_FlatCappedAtAmount(t *testing.T) {
	amount := decimal.NewFromInt(1_000_000)

	result, err := Calculate(amount, flat("2000000"), true, testRates())
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	if !result.AffiliateShare.Equal(amount) {
		t.Errorf("Expected affiliate share capped at %s, got %s", amount, result.AffiliateShare)
	}
	for name, share := range map[string]decimal.Decimal{
		"platform": result.PlatformFee,
		"tier A":   result.TierAShare,
		"tier B":   result.TierBShare,
	} {
		if !share.IsZero() {
			t.Errorf("Expected %s share 0, got %s", name, share)
		}
	}
}

func TestCalculate_NoAffiliate(t *testing.T) {
	amount := decimal.NewFromInt(500)

	result, err := Calculate(amount, pct("50"), false, testRates())
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if !result.AffiliateShare.IsZero() {
		t.Errorf("Expected no affiliate share, got %s", result.AffiliateShare)
	}
	if !result.PlatformFee.Equal(decimal.NewFromInt(75)) {
		t.Errorf("Expected platform fee 75, got %s", result.PlatformFee)
	}
	if err := result.Verify(amount); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestCalculate_NoAffiliateIgnoresBadCommission(t *testing.T) {
	_, err := Calculate(decimal.NewFromInt(100), pct("250"), false, testRates())
	if err != nil {
		t.Fatalf("commission snapshot should not matter without an affiliate: %v", err)
	}
}

func TestCalculate_RoundingAbsorbedByTierB(t *testing.T) {
	tests := []struct {
		amount string
		rate   models.CommissionConfig
	}{
		{"0.01", pct("33.3333")},
		{"10.03", pct("12.5")},
		{"99999.99", pct("7")},
		{"1", pct("100")},
		{"0.005", pct("100")},
		{"17.77", flat("3.333")},
		{"123456.789", pct("0.01")},
		{"3", pct("66.6667")},
	}
	for _, tt := range tests {
		amount := decimal.RequireFromString(tt.amount)
		result, err := Calculate(amount, tt.rate, true, testRates())
		if err != nil {
			t.Errorf("Calculate(%s) failed: %v", tt.amount, err)
			continue
		}
		if !result.Total().Equal(amount) {
			t.Errorf("Calculate(%s): shares sum to %s", tt.amount, result.Total())
		}
		for _, share := range []decimal.Decimal{result.AffiliateShare, result.PlatformFee, result.TierAShare, result.TierBShare} {
			if share.IsNegative() {
				t.Errorf("Calculate(%s): negative share %s", tt.amount, share)
			}
		}
	}
}

func TestCalculate_ExactSumAcrossManyAmounts(t *testing.T) {
	rates := Rates{
		PlatformFee: decimal.RequireFromString("0.1337"),
		TierA:       decimal.RequireFromString("0.4242"),
		Scale:       0,
	}
	for cents := int64(0); cents < 5000; cents += 7 {
		amount := decimal.New(cents, -2)
		result, err := Calculate(amount, pct("13.13"), cents%2 == 0, rates)
		if err != nil {
			t.Fatalf("Calculate(%s) failed: %v", amount, err)
		}
		if err := result.Verify(amount); err != nil {
			t.Fatalf("Calculate(%s): %v", amount, err)
		}
	}
}

func TestCalculate_RejectsBadConfiguration(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		commission models.CommissionConfig
		rates      Rates
	}{
		{"negative percentage", "100", pct("-1"), testRates()},
		{"percentage over 100", "100", pct("100.01"), testRates()},
		{"negative flat", "100", flat("-5"), testRates()},
		{"unknown type", "100", models.CommissionConfig{Rate: decimal.NewFromInt(1), Type: "BOGUS"}, testRates()},
		{"negative amount", "-1", pct("10"), testRates()},
		{"platform rate over 1", "100", pct("10"), Rates{PlatformFee: decimal.NewFromInt(2), TierA: decimal.Zero}},
		{"negative tier rate", "100", pct("10"), Rates{PlatformFee: decimal.Zero, TierA: decimal.NewFromInt(-1)}},
	}
	for _, tt := range tests {
		_, err := Calculate(decimal.RequireFromString(tt.amount), tt.commission, true, tt.rates)
		if !errors.Is(err, store.ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", tt.name, err)
		}
	}
}

func TestResultVerify_DetectsMismatch(t *testing.T) {
	result := Result{
		AffiliateShare: decimal.NewFromInt(1),
		PlatformFee:    decimal.NewFromInt(1),
		TierAShare:     decimal.NewFromInt(1),
		TierBShare:     decimal.NewFromInt(1),
	}
	if err := result.Verify(decimal.NewFromInt(5)); !errors.Is(err, store.ErrInvariantViolation) {
		t.Errorf("Expected ErrInvariantViolation, got %v", err)
	}
}
