package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/candy-clash/internal/domain"
)

// Ledger is the persistence collaborator the orchestrator settles against.
// Production (Postgres) and test (in-memory) implementations satisfy the
// same contract.
//
// ApplyPayout must perform the balance credit, cumulative stat update and
// transaction append as one atomic unit, and must enforce uniqueness of the
// transaction's idempotency key, returning domain.ErrDuplicateTransaction
// for a key it has already recorded.
//
// MarkPeriodClosed is the compare-and-swap closure guard: it transitions the
// period from active to closed, persisting the audit snapshot, and returns
// false without writing when the period is not active anymore.
type Ledger interface {
	Leaderboard(ctx context.Context, periodID string) ([]domain.LeaderboardEntry, error)
	Pot(ctx context.Context, periodID string) (int64, error)
	EntryFee(ctx context.Context, periodID string) (int64, error)
	DistributionConfig(ctx context.Context, periodID string) (*domain.DistributionConfig, error)
	ApplyPayout(ctx context.Context, tx domain.Transaction) error
	MarkPeriodClosed(ctx context.Context, periodID string, snapshot domain.PeriodSnapshot) (bool, error)
	PeriodSnapshot(ctx context.Context, periodID string) (*domain.PeriodSnapshot, error)
}

// Outcome is the result of settling one period
type Outcome struct {
	Closed   bool            `json:"closed"`
	Refund   bool            `json:"refund"`
	Payouts  []domain.Payout `json:"payouts"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Settler idempotently closes tournament periods, applying resolved payouts
// against the ledger exactly once.
type Settler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewSettler creates a new settlement orchestrator
func NewSettler(ledger Ledger, logger *slog.Logger) *Settler {
	return &Settler{
		ledger: ledger,
		logger: logger,
	}
}

// Settle closes one period end to end: it reads the leaderboard snapshot and
// pot, resolves the payout plan, transitions the period to closed via the
// CAS guard, then credits each recipient. Re-invocation on an already-closed
// period is a successful no-op returning the prior snapshot; concurrent
// invocations are serialized by the guard so only one caller applies
// payouts.
//
// Per-payout application failures are contained: a missing recipient is
// logged, reported in the outcome's warnings and skipped, and never blocks
// settlement of everyone else.
func (s *Settler) Settle(ctx context.Context, periodID string) (*Outcome, error) {
	snapshot, err := s.ledger.PeriodSnapshot(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("loading period snapshot: %w", err)
	}
	if snapshot != nil {
		s.logger.Info("period already settled", "period_id", periodID)
		return &Outcome{Closed: true, Refund: snapshot.Refund, Payouts: snapshot.Payouts}, nil
	}

	leaderboard, err := s.ledger.Leaderboard(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("loading leaderboard: %w", err)
	}
	pot, err := s.ledger.Pot(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("loading pot: %w", err)
	}

	// Nobody played or nothing was collected: close with no payouts.
	if len(leaderboard) == 0 || pot <= 0 {
		return s.closeEmpty(ctx, periodID, pot)
	}

	entryFee, err := s.ledger.EntryFee(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("loading entry fee: %w", err)
	}

	cfg, err := s.ledger.DistributionConfig(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("loading distribution config: %w", err)
	}
	if cfg == nil {
		cfg, _ = domain.Template(domain.TemplateStandard)
	}

	result, err := ResolvePayouts(leaderboard, cfg, float64(pot), entryFee)
	if err != nil {
		return nil, fmt.Errorf("resolving payouts: %w", err)
	}

	closed, err := s.ledger.MarkPeriodClosed(ctx, periodID, domain.PeriodSnapshot{
		FinalPot:      float64(pot),
		RakeCollected: result.Rake,
		Payouts:       result.Payouts,
		Refund:        result.Refund,
		SettledAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("closing period: %w", err)
	}
	if !closed {
		// Lost the race to a concurrent settle; the winner applies payouts.
		s.logger.Info("period closed by concurrent settle", "period_id", periodID)
		prior, err := s.ledger.PeriodSnapshot(ctx, periodID)
		if err != nil || prior == nil {
			return &Outcome{Closed: true}, err
		}
		return &Outcome{Closed: true, Refund: prior.Refund, Payouts: prior.Payouts}, nil
	}

	outcome := &Outcome{Closed: true, Refund: result.Refund, Payouts: result.Payouts}
	for _, payout := range result.Payouts {
		if payout.Amount <= 0 {
			continue
		}
		if err := s.applyPayout(ctx, periodID, pot, result, payout); err != nil {
			if errors.Is(err, domain.ErrDuplicateTransaction) {
				s.logger.Info("payout already applied",
					"period_id", periodID,
					"user_id", payout.UserID,
					"position", payout.Position,
				)
				continue
			}
			warning := fmt.Sprintf("payout to %s (position %d) failed: %v", payout.UserID, payout.Position, err)
			outcome.Warnings = append(outcome.Warnings, warning)
			s.logger.Warn("skipping payout",
				"period_id", periodID,
				"user_id", payout.UserID,
				"position", payout.Position,
				"error", err,
			)
		}
	}

	s.logger.Info("period settled",
		"period_id", periodID,
		"pot", pot,
		"rake", result.Rake,
		"refund", result.Refund,
		"payouts", len(result.Payouts),
		"warnings", len(outcome.Warnings),
	)
	return outcome, nil
}

func (s *Settler) applyPayout(ctx context.Context, periodID string, pot int64, result *domain.SettlementResult, payout domain.Payout) error {
	txType := domain.TransactionPayout
	if result.Refund {
		txType = domain.TransactionRefund
	}
	return s.ledger.ApplyPayout(ctx, domain.Transaction{
		ID:             uuid.NewString(),
		UserID:         payout.UserID,
		PeriodID:       periodID,
		Type:           txType,
		Amount:         payout.Amount,
		IdempotencyKey: domain.PayoutIdempotencyKey(periodID, payout.UserID, payout.Position),
		Meta: map[string]interface{}{
			"position": payout.Position,
			"period":   periodID,
			"pot":      pot,
			"rake":     result.Rake,
			"refund":   result.Refund,
		},
		CreatedAt: time.Now().UTC(),
	})
}

func (s *Settler) closeEmpty(ctx context.Context, periodID string, pot int64) (*Outcome, error) {
	closed, err := s.ledger.MarkPeriodClosed(ctx, periodID, domain.PeriodSnapshot{
		FinalPot:  float64(pot),
		Payouts:   []domain.Payout{},
		SettledAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("closing empty period: %w", err)
	}
	if !closed {
		prior, err := s.ledger.PeriodSnapshot(ctx, periodID)
		if err != nil || prior == nil {
			return &Outcome{Closed: true}, err
		}
		return &Outcome{Closed: true, Refund: prior.Refund, Payouts: prior.Payouts}, nil
	}
	s.logger.Info("period closed with no payouts", "period_id", periodID, "pot", pot)
	return &Outcome{Closed: true, Payouts: []domain.Payout{}}, nil
}
