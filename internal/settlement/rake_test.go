package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/candy-clash/internal/domain"
)

func TestRakePercentage(t *testing.T) {
	cfg := &domain.DistributionConfig{Rake: 5, RakeType: domain.RakePercentage}

	assert.Equal(t, 5.0, Rake(100, cfg))
	assert.Equal(t, 0.0, Rake(0, cfg))

	// Not floored here; flooring happens once at payout time.
	assert.InDelta(t, 5.05, Rake(101, cfg), 1e-9)
}

func TestRakeFixed(t *testing.T) {
	cfg := &domain.DistributionConfig{Rake: 20, RakeType: domain.RakeFixed}

	assert.Equal(t, 20.0, Rake(100, cfg))

	// A fixed rake above the pot is returned as-is; the resolver treats
	// the resulting negative net pot.
	assert.Equal(t, 20.0, Rake(10, cfg))
}

func TestRakeProgressive(t *testing.T) {
	maxOf := func(v float64) *float64 { return &v }
	cfg := &domain.DistributionConfig{
		RakeType: domain.RakeProgressive,
		RakeTiers: []domain.RakeTier{
			{Min: 0, Max: maxOf(100), Rate: 5},
			{Min: 100, Max: nil, Rate: 10},
		},
	}

	// Pot 150 lands in the open-ended 10% tier.
	assert.Equal(t, 15.0, Rake(150, cfg))
	assert.Equal(t, 2.5, Rake(50, cfg))

	// Boundary pots match the first tier in declaration order.
	assert.Equal(t, 5.0, Rake(100, cfg))
}

func TestRakeProgressiveFallback(t *testing.T) {
	cfg := &domain.DistributionConfig{
		Rake:     3,
		RakeType: domain.RakeProgressive,
		RakeTiers: []domain.RakeTier{
			{Min: 1000, Max: nil, Rate: 10},
		},
	}

	// Below every tier: flat percentage fallback.
	assert.Equal(t, 3.0, Rake(100, cfg))
	assert.Equal(t, 15.0, Rake(500, cfg))
}

func TestRakeDefaultsToPercentage(t *testing.T) {
	cfg := &domain.DistributionConfig{Rake: 10}
	assert.Equal(t, 10.0, Rake(100, cfg))
}
