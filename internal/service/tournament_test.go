package service

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candy-clash/internal/config"
	"github.com/candy-clash/internal/domain"
)

func testService(t *testing.T) *TournamentService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.TournamentConfig{
		EntryFee:         10,
		DefaultTemplate:  domain.TemplateTopHeavy,
		LeaderboardLimit: 100,
	}
	return NewTournamentService(nil, nil, cfg, logger)
}

func TestPeriodDistributionDefaultsToConfiguredTemplate(t *testing.T) {
	svc := testService(t)

	cfg, err := svc.periodDistribution(domain.CreatePeriodRequest{ID: "daily-1"})
	require.NoError(t, err)

	want, err := domain.Template(domain.TemplateTopHeavy)
	require.NoError(t, err)
	assert.Equal(t, want, cfg)
}

func TestPeriodDistributionExpandsRequestedTemplate(t *testing.T) {
	svc := testService(t)

	cfg, err := svc.periodDistribution(domain.CreatePeriodRequest{
		ID:       "daily-1",
		Template: domain.TemplateWinnerTakesAll,
	})
	require.NoError(t, err)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, 100.0, cfg.Rules[0].Amount)

	_, err = svc.periodDistribution(domain.CreatePeriodRequest{
		ID:       "daily-1",
		Template: "no_such_template",
	})
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestPeriodDistributionValidatesExplicitConfig(t *testing.T) {
	svc := testService(t)

	_, err := svc.periodDistribution(domain.CreatePeriodRequest{
		ID:           "daily-1",
		Distribution: &domain.DistributionConfig{Type: "bogus"},
	})
	require.Error(t, err)

	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	valid, err := domain.Template(domain.TemplateStandard)
	require.NoError(t, err)
	cfg, err := svc.periodDistribution(domain.CreatePeriodRequest{
		ID:           "daily-1",
		Distribution: valid,
	})
	require.NoError(t, err)
	assert.Equal(t, valid, cfg)
}
