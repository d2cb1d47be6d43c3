package settlement

import (
	"github.com/candy-clash/internal/domain"
)

// Rake computes the house cut for a gross pot under the config's rake
// policy. The result is intentionally not floored here; flooring happens
// once, at final payout computation, to avoid compounding rounding error.
//
// A fixed rake larger than the gross pot is not clamped: the caller treats a
// negative net pot as insufficient participation rather than producing a
// negative distributable amount.
func Rake(grossPot float64, cfg *domain.DistributionConfig) float64 {
	switch cfg.RakeType {
	case domain.RakeFixed:
		return cfg.Rake
	case domain.RakeProgressive:
		for _, tier := range cfg.RakeTiers {
			if grossPot < tier.Min {
				continue
			}
			if tier.Max == nil || grossPot <= *tier.Max {
				return grossPot * tier.Rate / 100
			}
		}
		// No tier matched: fall back to the flat rake as a percentage.
		return grossPot * cfg.Rake / 100
	default:
		return grossPot * cfg.Rake / 100
	}
}
