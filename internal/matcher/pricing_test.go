package matcher

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestTierQuota(t *testing.T) {
	tests := []struct {
		level       int
		wantQuota   int
		wantMetered bool
	}{
		{1, 1500, true},
		{2, 3000, true},
		{3, 7000, true},
		{4, 0, false},
		{0, 0, true},
		{99, 0, true},
	}

	for _, tt := range tests {
		quota, metered := TierQuota(tt.level)
		if quota != tt.wantQuota || metered != tt.wantMetered {
			t.Errorf("TierQuota(%d) = (%d, %v), want (%d, %v)",
				tt.level, quota, metered, tt.wantQuota, tt.wantMetered)
		}
	}
}

func TestTierOveragePolicy(t *testing.T) {
	policy := TierOveragePolicy{Rate: DefaultRate}

	tests := []struct {
		name         string
		level        int
		count        int
		wantRequired bool
		wantAmount   string
	}{
		{"under quota", 2, 2999, false, "0"},
		{"exactly at quota", 2, 3000, false, "0"},
		{"one sentence over", 2, 3001, true, "0.0520"},
		{"many over", 1, 1600, true, "5.2000"},
		{"level four never pays", 4, 1000000, false, "0"},
		{"unknown level pays from the first sentence", 0, 10, true, "0.5200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			required, amount := policy.Evaluate(tt.level, tt.count)
			if required != tt.wantRequired {
				t.Fatalf("Evaluate(%d, %d) required = %v, want %v", tt.level, tt.count, required, tt.wantRequired)
			}
			want := decimal.RequireFromString(tt.wantAmount)
			if !amount.Equal(want) {
				t.Errorf("Evaluate(%d, %d) amount = %s, want %s", tt.level, tt.count, amount, want)
			}
		})
	}
}

func TestPerSentencePolicy(t *testing.T) {
	policy := PerSentencePolicy{Rate: DefaultRate}

	tests := []struct {
		name         string
		level        int
		count        int
		wantRequired bool
		wantAmount   string
	}{
		{"under quota is free", 3, 7000, false, "0"},
		{"over quota charges the whole count", 3, 7001, true, "364.0520"},
		{"level four never pays", 4, 50000, false, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			required, amount := policy.Evaluate(tt.level, tt.count)
			if required != tt.wantRequired {
				t.Fatalf("Evaluate(%d, %d) required = %v, want %v", tt.level, tt.count, required, tt.wantRequired)
			}
			want := decimal.RequireFromString(tt.wantAmount)
			if !amount.Equal(want) {
				t.Errorf("Evaluate(%d, %d) amount = %s, want %s", tt.level, tt.count, amount, want)
			}
		})
	}
}

func TestQuoteRounding(t *testing.T) {
	// 1 * 0.05155 sits exactly on the half-up boundary at four digits and
	// must round to 0.0516, not truncate to 0.0515.
	policy := TierOveragePolicy{Rate: decimal.RequireFromString("0.05155")}
	_, amount := policy.Evaluate(0, 1)
	if got := amount.String(); got != "0.0516" {
		t.Errorf("rounded amount = %s, want 0.0516", got)
	}
}
