package matcher

import "github.com/shopspring/decimal"

// DefaultRate is the per-sentence price applied beyond quota and by the flat
// per-sentence policy.
var DefaultRate = decimal.RequireFromString("0.052")

// quoteScale is the number of fractional digits used for quoted amounts.
// Quotes round half up (shopspring rounds half away from zero, which is the
// same thing for non-negative amounts).
const quoteScale = 4

// levelQuotas maps a user level to the sentence count included in the plan.
// Level 4 is unmetered; levels outside the table get no allowance.
var levelQuotas = map[int]int{
	1: 1500,
	2: 3000,
	3: 7000,
}

const unmeteredLevel = 4

// TierQuota returns the sentence allowance for a level and whether the level
// is metered at all.
func TierQuota(level int) (quota int, metered bool) {
	if level == unmeteredLevel {
		return 0, false
	}
	return levelQuotas[level], true
}

// PricingPolicy decides whether a sentence count requires payment and what
// the charge is. Two policies exist with no common formula; callers pick one
// explicitly.
type PricingPolicy interface {
	Evaluate(level, count int) (required bool, amount decimal.Decimal)
	Name() string
}

// TierOveragePolicy charges only for sentences above the level's quota.
type TierOveragePolicy struct {
	Rate decimal.Decimal
}

func (p TierOveragePolicy) Name() string { return "tier_overage" }

func (p TierOveragePolicy) Evaluate(level, count int) (bool, decimal.Decimal) {
	quota, metered := TierQuota(level)
	if !metered || count <= quota {
		return false, decimal.Zero
	}
	extra := decimal.NewFromInt(int64(count - quota))
	return true, extra.Mul(p.Rate).Round(quoteScale)
}

// PerSentencePolicy charges a flat rate for every sentence whenever payment
// is required, ignoring the quota's partial allowance.
type PerSentencePolicy struct {
	Rate decimal.Decimal
}

func (p PerSentencePolicy) Name() string { return "per_sentence" }

func (p PerSentencePolicy) Evaluate(level, count int) (bool, decimal.Decimal) {
	quota, metered := TierQuota(level)
	if !metered || count <= quota {
		return false, decimal.Zero
	}
	return true, decimal.NewFromInt(int64(count)).Mul(p.Rate).Round(quoteScale)
}
