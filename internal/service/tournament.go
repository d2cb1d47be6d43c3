package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/candy-clash/internal/config"
	"github.com/candy-clash/internal/domain"
	"github.com/candy-clash/internal/postgres"
	"github.com/candy-clash/internal/redis"
	"github.com/candy-clash/internal/settlement"
)

// TournamentService provides business logic for the daily match-3
// tournament: attempt submission, leaderboard reads, period lifecycle and
// settlement.
type TournamentService struct {
	repo    *postgres.Repository
	cache   *redis.Leaderboard
	settler *settlement.Settler
	config  *config.TournamentConfig
	logger  *slog.Logger
}

// NewTournamentService creates a new tournament service
func NewTournamentService(
	repo *postgres.Repository,
	cache *redis.Leaderboard,
	cfg *config.TournamentConfig,
	logger *slog.Logger,
) *TournamentService {
	return &TournamentService{
		repo:    repo,
		cache:   cache,
		settler: settlement.NewSettler(repo, logger),
		config:  cfg,
		logger:  logger,
	}
}

// SubmitAttempt records one finished match-3 run: the entry fee is debited,
// the pot grows, the attempt is logged, and the live ranking keeps the
// player's best time. The durable write is transactional; the cache update
// is best effort.
func (s *TournamentService) SubmitAttempt(ctx context.Context, sub domain.AttemptSubmission) error {
	period, err := s.repo.GetPeriod(ctx, sub.PeriodID)
	if err != nil {
		return err
	}
	if period.Status != domain.PeriodStatusActive {
		return domain.ErrPeriodNotActive
	}
	if sub.TimeMs <= 0 {
		return domain.ErrInvalidRequest
	}

	if sub.AttemptID == "" {
		sub.AttemptID = uuid.NewString()
	}
	if sub.CompletedAt.IsZero() {
		sub.CompletedAt = time.Now().UTC()
	}

	feeTx := domain.Transaction{
		ID:       uuid.NewString(),
		UserID:   sub.UserID,
		PeriodID: sub.PeriodID,
		Type:     domain.TransactionEntryFee,
		Amount:   -period.EntryFee,
		Meta: map[string]interface{}{
			"attempt_id": sub.AttemptID,
			"time_ms":    sub.TimeMs,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.RecordAttempt(ctx, sub, period.EntryFee, feeTx); err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}

	// Cache updates must not fail the submission.
	if _, err := s.cache.RecordTime(ctx, sub.PeriodID, sub.UserID, sub.TimeMs); err != nil {
		s.logger.Warn("failed to update live ranking", "period_id", sub.PeriodID, "user_id", sub.UserID, "error", err)
	}
	if sub.DisplayName != "" {
		if err := s.cache.CacheDisplayName(ctx, sub.UserID, sub.DisplayName, s.config.NameCacheTTL); err != nil {
			s.logger.Warn("failed to cache display name", "user_id", sub.UserID, "error", err)
		}
	}

	return nil
}

// Leaderboard returns the ranked entries for a period, fastest first. Live
// reads come from Redis; an empty or failed cache read falls back to the
// durable ranking in Postgres.
func (s *TournamentService) Leaderboard(ctx context.Context, periodID string, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 || limit > s.config.LeaderboardLimit {
		limit = s.config.LeaderboardLimit
	}

	entries, err := s.cache.TopN(ctx, periodID, limit)
	if err != nil {
		s.logger.Warn("live ranking unavailable, falling back to database", "period_id", periodID, "error", err)
	}
	if len(entries) > 0 {
		return entries, nil
	}

	entries, err = s.repo.Leaderboard(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard: %w", err)
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// CreatePeriod opens a new tournament period. A provided distribution
// config is validated up front and refused with the full list of problems;
// a template name is expanded to a fresh copy of that template, and the
// configured default template fills the gap when neither is given.
func (s *TournamentService) CreatePeriod(ctx context.Context, req domain.CreatePeriodRequest) (*domain.Period, error) {
	if req.ID == "" {
		return nil, domain.ErrInvalidRequest
	}

	distribution, err := s.periodDistribution(req)
	if err != nil {
		return nil, err
	}

	period := domain.Period{
		ID:           req.ID,
		Status:       domain.PeriodStatusActive,
		EntryFee:     req.EntryFee,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
		Distribution: distribution,
	}
	if period.EntryFee == 0 {
		period.EntryFee = s.config.EntryFee
	}
	if period.StartsAt.IsZero() {
		period.StartsAt = time.Now().UTC()
	}
	if period.EndsAt.IsZero() {
		period.EndsAt = period.StartsAt.Add(24 * time.Hour)
	}

	if err := s.repo.CreatePeriod(ctx, period); err != nil {
		return nil, err
	}
	return &period, nil
}

// periodDistribution resolves the settlement policy for a new period
func (s *TournamentService) periodDistribution(req domain.CreatePeriodRequest) (*domain.DistributionConfig, error) {
	if req.Distribution != nil {
		if err := req.Distribution.Validate(); err != nil {
			return nil, err
		}
		return req.Distribution, nil
	}

	name := req.Template
	if name == "" {
		name = s.config.DefaultTemplate
	}
	return domain.Template(name)
}

// GetPeriod returns a period with its settlement snapshot if closed
func (s *TournamentService) GetPeriod(ctx context.Context, periodID string) (*domain.Period, error) {
	return s.repo.GetPeriod(ctx, periodID)
}

// ListPeriods returns periods, optionally filtered by status
func (s *TournamentService) ListPeriods(ctx context.Context, status domain.PeriodStatus) ([]domain.Period, error) {
	return s.repo.ListPeriods(ctx, status)
}

// Settle closes a period and applies payouts exactly once. Safe to call
// repeatedly and concurrently with the scheduled sweep.
func (s *TournamentService) Settle(ctx context.Context, periodID string) (*settlement.Outcome, error) {
	outcome, err := s.settler.Settle(ctx, periodID)
	if err != nil {
		return nil, err
	}

	// The live ranking for a settled period is no longer needed.
	if err := s.cache.DropPeriod(ctx, periodID); err != nil {
		s.logger.Warn("failed to drop live ranking", "period_id", periodID, "error", err)
	}
	return outcome, nil
}

// PeriodPayouts returns the audit snapshot of a settled period
func (s *TournamentService) PeriodPayouts(ctx context.Context, periodID string) (*domain.PeriodSnapshot, error) {
	snapshot, err := s.repo.PeriodSnapshot(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, domain.ErrPeriodNotSettled
	}
	return snapshot, nil
}

// CreatePlayer registers a player account with a starting balance
func (s *TournamentService) CreatePlayer(ctx context.Context, id, displayName string, startingBalance int64) (*domain.Player, error) {
	if id == "" || displayName == "" {
		return nil, domain.ErrInvalidRequest
	}

	player := domain.Player{
		ID:          id,
		DisplayName: displayName,
		Balance:     startingBalance,
	}
	var seedTx *domain.Transaction
	if startingBalance > 0 {
		seedTx = &domain.Transaction{
			ID:        uuid.NewString(),
			UserID:    id,
			Type:      domain.TransactionSeed,
			Amount:    startingBalance,
			CreatedAt: time.Now().UTC(),
		}
	}
	if err := s.repo.CreatePlayer(ctx, player, seedTx); err != nil {
		return nil, err
	}
	return &player, nil
}

// GetPlayer returns a player's account state
func (s *TournamentService) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	return s.repo.GetPlayer(ctx, playerID)
}

// AdjustBalance applies a signed admin adjustment to a player's balance
func (s *TournamentService) AdjustBalance(ctx context.Context, playerID string, amount int64, reason string) error {
	if amount == 0 {
		return domain.ErrInvalidRequest
	}
	return s.repo.AdjustBalance(ctx, domain.Transaction{
		ID:     uuid.NewString(),
		UserID: playerID,
		Type:   domain.TransactionAdminAdjust,
		Amount: amount,
		Meta: map[string]interface{}{
			"reason": reason,
		},
		CreatedAt: time.Now().UTC(),
	})
}

// PlayerTransactions returns a player's recent ledger records
func (s *TournamentService) PlayerTransactions(ctx context.Context, playerID string, limit int) ([]domain.Transaction, error) {
	return s.repo.PlayerTransactions(ctx, playerID, limit)
}
