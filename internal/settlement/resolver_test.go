package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candy-clash/internal/domain"
)

func board(n int) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, n)
	for i := range entries {
		entries[i] = domain.LeaderboardEntry{
			UserID:      userID(i),
			DisplayName: userID(i),
			TimeMs:      int64(30000 + i*1000),
		}
	}
	return entries
}

func userID(i int) string {
	return string(rune('a'+i)) + "-player"
}

func standardConfig(t *testing.T) *domain.DistributionConfig {
	t.Helper()
	cfg, err := domain.Template(domain.TemplateStandard)
	require.NoError(t, err)
	return cfg
}

func TestResolveStandardDistribution(t *testing.T) {
	cfg := standardConfig(t)
	cfg.Rake = 5

	result, err := ResolvePayouts(board(5), cfg, 100, 10)
	require.NoError(t, err)

	assert.Equal(t, 5.0, result.Rake)
	assert.Equal(t, 95.0, result.NetPot)
	assert.False(t, result.Refund)
	require.Len(t, result.Payouts, 3)

	assert.Equal(t, int64(38), result.Payouts[0].Amount)
	assert.Equal(t, int64(23), result.Payouts[1].Amount)
	assert.Equal(t, int64(14), result.Payouts[2].Amount)

	for i, p := range result.Payouts {
		assert.Equal(t, i+1, p.Position)
		assert.Equal(t, userID(i), p.UserID)
	}
}

func TestResolveRejectsInvalidConfig(t *testing.T) {
	cfg := &domain.DistributionConfig{Type: "bogus"}

	_, err := ResolvePayouts(board(3), cfg, 100, 10)
	require.Error(t, err)

	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestResolveRefundOnTooFewPlayers(t *testing.T) {
	cfg := standardConfig(t)
	cfg.MinimumPlayers = 3

	result, err := ResolvePayouts(board(2), cfg, 20, 10)
	require.NoError(t, err)

	assert.True(t, result.Refund)
	assert.Equal(t, 0.0, result.Rake)
	require.Len(t, result.Payouts, 2)
	for _, p := range result.Payouts {
		assert.Equal(t, int64(10), p.Amount)
	}
}

func TestResolveNoRefundWhenDisabled(t *testing.T) {
	cfg := standardConfig(t)
	cfg.MinimumPlayers = 3
	cfg.RefundOnInsufficient = false

	result, err := ResolvePayouts(board(2), cfg, 20, 10)
	require.NoError(t, err)

	// Refund disabled: the pot is distributed to whoever ranked.
	assert.False(t, result.Refund)
	require.Len(t, result.Payouts, 2)
	assert.Equal(t, int64(8), result.Payouts[0].Amount)
	assert.Equal(t, int64(5), result.Payouts[1].Amount)
}

func TestResolveRefundOnSmallNetPot(t *testing.T) {
	cfg := standardConfig(t)
	cfg.Rake = 10
	cfg.MinimumPot = 95

	// Gross 100, rake 10, net 90 < minimum 95.
	result, err := ResolvePayouts(board(5), cfg, 100, 10)
	require.NoError(t, err)
	assert.True(t, result.Refund)
	assert.Equal(t, 0.0, result.Rake)
	assert.Len(t, result.Payouts, 5)
}

func TestResolveFixedRakeExceedingPot(t *testing.T) {
	cfg := standardConfig(t)
	cfg.Rake = 50
	cfg.RakeType = domain.RakeFixed

	result, err := ResolvePayouts(board(3), cfg, 30, 10)
	require.NoError(t, err)
	assert.True(t, result.Refund)

	// With refunds disabled, the house takes the whole pot instead of
	// producing negative payouts.
	cfg.RefundOnInsufficient = false
	result, err = ResolvePayouts(board(3), cfg, 30, 10)
	require.NoError(t, err)
	assert.False(t, result.Refund)
	assert.Equal(t, 30.0, result.Rake)
	assert.Equal(t, 0.0, result.NetPot)
	for _, p := range result.Payouts {
		assert.Equal(t, int64(0), p.Amount)
	}
}

func TestResolveProgressiveRake(t *testing.T) {
	maxOf := func(v float64) *float64 { return &v }
	cfg := standardConfig(t)
	cfg.RakeType = domain.RakeProgressive
	cfg.RakeTiers = []domain.RakeTier{
		{Min: 0, Max: maxOf(100), Rate: 5},
		{Min: 100, Max: nil, Rate: 10},
	}

	result, err := ResolvePayouts(board(5), cfg, 150, 10)
	require.NoError(t, err)
	assert.Equal(t, 15.0, result.Rake)
	assert.Equal(t, 135.0, result.NetPot)
}

func TestResolveSplitRange(t *testing.T) {
	rng, err := domain.RangeTarget(4, 6)
	require.NoError(t, err)
	cfg := &domain.DistributionConfig{
		Type:     domain.DistributionPercentage,
		RakeType: domain.RakePercentage,
		Rules: []domain.DistributionRule{
			{Target: rng, Amount: 30, Type: domain.AmountPercentage, Split: true},
		},
	}

	// Only 5 entries: the range truncates to ranks 4 and 5 and the pool
	// splits across the two who exist.
	result, err := ResolvePayouts(board(5), cfg, 100, 10)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 2)

	assert.Equal(t, 4, result.Payouts[0].Position)
	assert.Equal(t, 5, result.Payouts[1].Position)
	assert.Equal(t, int64(15), result.Payouts[0].Amount)
	assert.Equal(t, int64(15), result.Payouts[1].Amount)
}

func TestResolveUnsplitRange(t *testing.T) {
	rng, err := domain.RangeTarget(1, 3)
	require.NoError(t, err)
	cfg := &domain.DistributionConfig{
		Type:     domain.DistributionPercentage,
		RakeType: domain.RakePercentage,
		Rules: []domain.DistributionRule{
			{Target: rng, Amount: 10, Type: domain.AmountPercentage},
		},
	}

	// Without split every rank in the range gets the full amount.
	result, err := ResolvePayouts(board(5), cfg, 100, 10)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 3)
	for _, p := range result.Payouts {
		assert.Equal(t, int64(10), p.Amount)
	}
}

func TestResolveRejectsPotOverdraw(t *testing.T) {
	rng, err := domain.RangeTarget(1, 10)
	require.NoError(t, err)
	cfg := &domain.DistributionConfig{
		Type:     domain.DistributionPercentage,
		RakeType: domain.RakePercentage,
		Rules: []domain.DistributionRule{
			{Target: rng, Amount: 15, Type: domain.AmountPercentage},
		},
	}

	// 15% paid at each of ten ranks would hand out 150% of the pot;
	// resolution refuses the config instead of overdrawing.
	_, err = ResolvePayouts(board(10), cfg, 100, 10)
	require.Error(t, err)

	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestResolveTopPercent(t *testing.T) {
	top, err := domain.TopPercentTarget(50)
	require.NoError(t, err)
	cfg := &domain.DistributionConfig{
		Type:     domain.DistributionPercentage,
		RakeType: domain.RakePercentage,
		Rules: []domain.DistributionRule{
			{Target: top, Amount: 60, Type: domain.AmountPercentage, Split: true},
		},
	}

	// 10 players, top 50% -> ranks 1-5 split 60 of the pot.
	result, err := ResolvePayouts(board(10), cfg, 100, 10)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 5)
	for i, p := range result.Payouts {
		assert.Equal(t, i+1, p.Position)
		assert.Equal(t, int64(12), p.Amount)
	}
}

func TestResolveTopPercentAtLeastOne(t *testing.T) {
	top, err := domain.TopPercentTarget(10)
	require.NoError(t, err)
	cfg := &domain.DistributionConfig{
		Type:     domain.DistributionPercentage,
		RakeType: domain.RakePercentage,
		Rules: []domain.DistributionRule{
			{Target: top, Amount: 50, Type: domain.AmountPercentage, Split: true},
		},
	}

	// 10% of 3 players floors to zero; the rule still pays at least rank 1.
	result, err := ResolvePayouts(board(3), cfg, 100, 10)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 1)
	assert.Equal(t, 1, result.Payouts[0].Position)
	assert.Equal(t, int64(50), result.Payouts[0].Amount)
}

func TestResolveEarlierRulesClaimFirst(t *testing.T) {
	top, err := domain.TopPercentTarget(100)
	require.NoError(t, err)
	cfg := &domain.DistributionConfig{
		Type:     domain.DistributionPercentage,
		RakeType: domain.RakePercentage,
		Rules: []domain.DistributionRule{
			{Target: mustPositionTarget(t, 1), Amount: 40, Type: domain.AmountPercentage},
			{Target: top, Amount: 30, Type: domain.AmountPercentage, Split: true},
		},
	}

	result, err := ResolvePayouts(board(4), cfg, 100, 10)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 4)

	// Rank 1 was claimed by the position rule; the top-percent pool is
	// split across the remaining three only.
	assert.Equal(t, int64(40), result.Payouts[0].Amount)
	for _, p := range result.Payouts[1:] {
		assert.Equal(t, int64(10), p.Amount)
	}

	// No rank appears twice.
	seen := make(map[int]bool)
	for _, p := range result.Payouts {
		assert.False(t, seen[p.Position])
		seen[p.Position] = true
	}
}

func TestResolvePositionBeyondLeaderboard(t *testing.T) {
	cfg := standardConfig(t)

	result, err := ResolvePayouts(board(2), cfg, 100, 10)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 2)
	assert.Equal(t, int64(40), result.Payouts[0].Amount)
	assert.Equal(t, int64(25), result.Payouts[1].Amount)
}

func TestResolveMaximumPayoutClamp(t *testing.T) {
	cfg := standardConfig(t)
	cfg.MaximumPayout = 30

	result, err := ResolvePayouts(board(5), cfg, 100, 10)
	require.NoError(t, err)

	// The surplus over the cap stays with the house.
	assert.Equal(t, int64(30), result.Payouts[0].Amount)
	assert.Equal(t, int64(25), result.Payouts[1].Amount)
	assert.Equal(t, int64(15), result.Payouts[2].Amount)
}

func TestResolveBonus(t *testing.T) {
	cfg := &domain.DistributionConfig{
		Type:     domain.DistributionPercentage,
		RakeType: domain.RakePercentage,
		Rules: []domain.DistributionRule{
			{
				Target:    mustPositionTarget(t, 1),
				Amount:    40,
				Type:      domain.AmountPercentage,
				Bonus:     10,
				BonusType: domain.AmountFixed,
			},
			{
				Target:    mustPositionTarget(t, 2),
				Amount:    20,
				Type:      domain.AmountPercentage,
				Bonus:     5,
				BonusType: domain.AmountPercentage,
			},
		},
	}

	result, err := ResolvePayouts(board(3), cfg, 100, 10)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 2)
	assert.Equal(t, int64(50), result.Payouts[0].Amount)
	assert.Equal(t, int64(25), result.Payouts[1].Amount)
}

func TestResolveFixedPrizesBackedBySponsorFund(t *testing.T) {
	rng, err := domain.RangeTarget(1, 2)
	require.NoError(t, err)
	cfg := &domain.DistributionConfig{
		Type:        domain.DistributionFixed,
		RakeType:    domain.RakeFixed,
		SponsorFund: 50,
		Rules: []domain.DistributionRule{
			{Target: rng, Amount: 80, Type: domain.AmountFixed, Split: true},
		},
	}

	// The split pool is capped at what the sponsor fund can back.
	result, err := ResolvePayouts(board(3), cfg, 100, 10)
	require.NoError(t, err)
	require.Len(t, result.Payouts, 2)
	assert.Equal(t, int64(25), result.Payouts[0].Amount)
	assert.Equal(t, int64(25), result.Payouts[1].Amount)
}

func TestResolveConservation(t *testing.T) {
	cfg := standardConfig(t)
	cfg.Rake = 7

	for _, players := range []int{1, 2, 3, 5, 10, 25} {
		for _, pot := range []float64{10, 99, 100, 1234} {
			result, err := ResolvePayouts(board(players), cfg, pot, 10)
			require.NoError(t, err)

			var paid int64
			for _, p := range result.Payouts {
				paid += p.Amount
			}
			assert.LessOrEqual(t, float64(paid)+result.Rake, pot,
				"players=%d pot=%v", players, pot)
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	cfg, err := domain.Template(domain.TemplateParticipation)
	require.NoError(t, err)

	entries := board(12)
	first, err := ResolvePayouts(entries, cfg, 500, 10)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := ResolvePayouts(entries, cfg, 500, 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	cfg := standardConfig(t)
	before := cfg.Clone()
	entries := board(5)

	_, err := ResolvePayouts(entries, cfg, 100, 10)
	require.NoError(t, err)

	assert.Equal(t, before, cfg)
	assert.Equal(t, board(5), entries)
}

func mustPositionTarget(t *testing.T, pos int) domain.RuleTarget {
	t.Helper()
	target, err := domain.PositionTarget(pos)
	require.NoError(t, err)
	return target
}
