package settlement

import (
	"math"
	"sort"

	"github.com/candy-clash/internal/domain"
)

// ResolvePayouts maps a ranked leaderboard and a validated distribution
// config onto concrete per-player payout amounts. It is a pure function: no
// I/O, fully deterministic given its inputs.
//
// The leaderboard must be de-duplicated (one entry per user) and sorted by
// ascending time; rank is the 1-based index into the slice. Rules are
// processed in declaration order: earlier rules claim ranks first, and a
// later rule targeting an already-claimed rank silently skips it.
//
// An invalid config is refused with the aggregated validation error rather
// than guessed at.
func ResolvePayouts(leaderboard []domain.LeaderboardEntry, cfg *domain.DistributionConfig, grossPot float64, entryFee int64) (*domain.SettlementResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Refund gate 1: not enough players showed up.
	if cfg.MinimumPlayers > 0 && len(leaderboard) < cfg.MinimumPlayers && cfg.RefundOnInsufficient {
		return refundAll(leaderboard, grossPot, entryFee), nil
	}

	rake := Rake(grossPot, cfg)
	netPot := grossPot - rake

	// Refund gate 2: the distributable pot is too small. A fixed rake
	// exceeding the gross pot lands here as well rather than producing a
	// negative net pot.
	if cfg.RefundOnInsufficient && (netPot < 0 || (cfg.MinimumPot > 0 && netPot < cfg.MinimumPot)) {
		return refundAll(leaderboard, grossPot, entryFee), nil
	}
	if netPot < 0 {
		rake = grossPot
		netPot = 0
	}

	n := len(leaderboard)
	processed := make(map[int]bool, n)
	var payouts []domain.Payout

	for _, rule := range cfg.Rules {
		switch rule.Target.Kind() {
		case domain.TargetPosition:
			pos := rule.Target.Position()
			if pos > n || processed[pos] {
				continue
			}
			amount, pct := ruleAmount(cfg, rule, netPot, 1)
			payouts = append(payouts, payoutFor(leaderboard[pos-1], pos, amount, pct))
			processed[pos] = true

		case domain.TargetRange:
			start, end := rule.Target.Range()
			ranks := collectRanks(start, min(end, n), processed)
			if len(ranks) == 0 {
				continue
			}
			splitCount := 1
			if rule.Split {
				splitCount = len(ranks)
			}
			amount, pct := ruleAmount(cfg, rule, netPot, splitCount)
			for _, pos := range ranks {
				payouts = append(payouts, payoutFor(leaderboard[pos-1], pos, amount, pct))
				processed[pos] = true
			}

		case domain.TargetTopPercent:
			topCount := int(math.Floor(float64(n) * rule.Target.TopPercent() / 100))
			if topCount < 1 {
				topCount = 1
			}
			ranks := collectRanks(1, min(topCount, n), processed)
			if len(ranks) == 0 {
				continue
			}
			// Top-percent amounts are always divided across the set.
			amount, pct := ruleAmount(cfg, rule, netPot, len(ranks))
			for _, pos := range ranks {
				payouts = append(payouts, payoutFor(leaderboard[pos-1], pos, amount, pct))
				processed[pos] = true
			}
		}
	}

	// The cap is applied post-hoc per payout; capped surplus is retained by
	// the house, not redistributed.
	if cfg.MaximumPayout > 0 {
		for i := range payouts {
			if payouts[i].Amount > cfg.MaximumPayout {
				payouts[i].Amount = cfg.MaximumPayout
			}
		}
	}

	sort.Slice(payouts, func(i, j int) bool { return payouts[i].Position < payouts[j].Position })

	return &domain.SettlementResult{
		Payouts: payouts,
		Rake:    rake,
		NetPot:  netPot,
	}, nil
}

// ruleAmount computes the floored per-recipient amount for a rule.
func ruleAmount(cfg *domain.DistributionConfig, rule domain.DistributionRule, netPot float64, splitCount int) (int64, float64) {
	var base, pct float64
	if cfg.RuleType(rule) == domain.AmountPercentage {
		base = netPot * rule.Amount / 100
		pct = rule.Amount / float64(splitCount)
	} else {
		// Fixed prizes are backed by the sponsor fund.
		base = math.Min(rule.Amount, cfg.SponsorFund)
	}

	if rule.Bonus != 0 {
		if rule.BonusType == domain.AmountPercentage {
			base += netPot * rule.Bonus / 100
		} else {
			base += rule.Bonus
		}
	}

	amount := int64(math.Floor(base / float64(splitCount)))
	if amount < 0 {
		amount = 0
	}
	return amount, pct
}

// collectRanks returns the unprocessed ranks in [start, end] in ascending
// order.
func collectRanks(start, end int, processed map[int]bool) []int {
	var ranks []int
	for pos := start; pos <= end; pos++ {
		if !processed[pos] {
			ranks = append(ranks, pos)
		}
	}
	return ranks
}

func payoutFor(entry domain.LeaderboardEntry, position int, amount int64, pct float64) domain.Payout {
	return domain.Payout{
		UserID:      entry.UserID,
		DisplayName: entry.DisplayName,
		Position:    position,
		Amount:      amount,
		Percentage:  pct,
	}
}

// refundAll returns one entry-fee refund per participant regardless of rank.
func refundAll(leaderboard []domain.LeaderboardEntry, grossPot float64, entryFee int64) *domain.SettlementResult {
	payouts := make([]domain.Payout, len(leaderboard))
	for i, entry := range leaderboard {
		payouts[i] = domain.Payout{
			UserID:      entry.UserID,
			DisplayName: entry.DisplayName,
			Position:    i + 1,
			Amount:      entryFee,
		}
	}
	return &domain.SettlementResult{
		Payouts: payouts,
		Rake:    0,
		NetPot:  grossPot,
		Refund:  true,
	}
}
