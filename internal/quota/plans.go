package quota

import "strings"

// Daily word allowances per plan tier.
const (
	FreeDailyLimit    int64 = 1000
	PremiumDailyLimit int64 = 10000
)

// Plan describes a subscription tier exposed through the plans catalogue.
type Plan struct {
	Name       string   `json:"name"`
	DailyLimit int64    `json:"daily_limit"`
	PriceUSD   float64  `json:"price"`
	Features   []string `json:"features"`
}

// Plans returns the catalogue in display order.
func Plans() []Plan {
	return []Plan{
		{
			Name:       "free",
			DailyLimit: FreeDailyLimit,
			PriceUSD:   0,
			Features:   []string{"AI Detection", "Paraphrasing", "1,000 words/day"},
		},
		{
			Name:       "premium",
			DailyLimit: PremiumDailyLimit,
			PriceUSD:   9.99,
			Features:   []string{"AI Detection", "Paraphrasing", "10,000 words/day", "Priority Support"},
		},
	}
}

// LimitFor resolves the daily word limit for a tier, honouring a per-user
// override when one is set. Unknown tiers fall back to the free allowance.
func LimitFor(tier string, override int64) int64 {
	if override > 0 {
		return override
	}
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "premium":
		return PremiumDailyLimit
	default:
		return FreeDailyLimit
	}
}
