package config

import (
	"testing"

	"github.com/shopspring/decimal"
)

func decimalFromString(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", raw, err)
	}
	return parsed
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadLoyaltyDefaults(t *testing.T) {
	t.Setenv("LOYALTY_EARN_THRESHOLD", "")
	t.Setenv("LOYALTY_EARN_RATE", "")
	t.Setenv("LOYALTY_POINT_VALUE", "")

	cfg := Load()
	loyalty := cfg.Loyalty()
	if !loyalty.EarnThreshold.Equal(decimalFromString(t, "100000")) {
		t.Fatalf("unexpected earn threshold %s", loyalty.EarnThreshold)
	}
	if loyalty.EarnRate != 1 {
		t.Fatalf("unexpected earn rate %d", loyalty.EarnRate)
	}
	if !loyalty.PointValue.Equal(decimalFromString(t, "1000")) {
		t.Fatalf("unexpected point value %s", loyalty.PointValue)
	}
}

func TestLoadLoyaltyOverrides(t *testing.T) {
	t.Setenv("LOYALTY_EARN_THRESHOLD", "50000")
	t.Setenv("LOYALTY_EARN_RATE", "2")
	t.Setenv("LOYALTY_POINT_VALUE", "500")

	loyalty := Load().Loyalty()
	if !loyalty.EarnThreshold.Equal(decimalFromString(t, "50000")) {
		t.Fatalf("unexpected earn threshold %s", loyalty.EarnThreshold)
	}
	if loyalty.EarnRate != 2 {
		t.Fatalf("unexpected earn rate %d", loyalty.EarnRate)
	}
	if !loyalty.PointValue.Equal(decimalFromString(t, "500")) {
		t.Fatalf("unexpected point value %s", loyalty.PointValue)
	}
}
