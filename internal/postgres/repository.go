package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/candy-clash/internal/config"
	"github.com/candy-clash/internal/domain"
)

// Repository provides PostgreSQL-based ledger and tournament data access.
// It is the production implementation of the settlement Ledger contract.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id VARCHAR(64) PRIMARY KEY,
			display_name VARCHAR(255) NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			games_played BIGINT NOT NULL DEFAULT 0,
			total_won BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS periods (
			id VARCHAR(64) PRIMARY KEY,
			status VARCHAR(16) NOT NULL DEFAULT 'active',
			entry_fee BIGINT NOT NULL DEFAULT 10,
			pot BIGINT NOT NULL DEFAULT 0,
			starts_at TIMESTAMP NOT NULL,
			ends_at TIMESTAMP NOT NULL,
			distribution JSONB,
			final_pot DOUBLE PRECISION,
			rake_collected DOUBLE PRECISION,
			payouts JSONB,
			refund BOOLEAN NOT NULL DEFAULT FALSE,
			settled_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			period_id VARCHAR(64),
			type VARCHAR(20) NOT NULL,
			amount BIGINT NOT NULL,
			idempotency_key VARCHAR(192),
			meta JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id VARCHAR(64) PRIMARY KEY,
			period_id VARCHAR(64) NOT NULL REFERENCES periods(id),
			user_id VARCHAR(64) NOT NULL,
			time_ms BIGINT NOT NULL,
			completed_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
			ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_period ON attempts(period_id, user_id, time_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_periods_status ON periods(status, ends_at)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// CreatePlayer creates a player account, seeding the starting balance with a
// seed transaction in the same database transaction.
func (r *Repository) CreatePlayer(ctx context.Context, player domain.Player, seedTx *domain.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO players (id, display_name, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, player.ID, player.DisplayName, player.Balance, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrPlayerExists
		}
		return fmt.Errorf("creating player: %w", err)
	}

	if seedTx != nil {
		if err := insertTransaction(ctx, tx, *seedTx); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetPlayer retrieves a player by ID
func (r *Repository) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	query := `
		SELECT id, display_name, balance, games_played, total_won, created_at, updated_at
		FROM players
		WHERE id = $1
	`
	var player domain.Player
	err := r.pool.QueryRow(ctx, query, playerID).Scan(
		&player.ID,
		&player.DisplayName,
		&player.Balance,
		&player.GamesPlayed,
		&player.TotalWon,
		&player.CreatedAt,
		&player.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &player, nil
}

// AdjustBalance applies a signed admin adjustment to a player's balance and
// records it in the ledger as one unit.
func (r *Repository) AdjustBalance(ctx context.Context, adjustTx domain.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE players SET balance = balance + $2, updated_at = $3 WHERE id = $1
	`, adjustTx.UserID, adjustTx.Amount, time.Now())
	if err != nil {
		return fmt.Errorf("adjusting balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}

	if err := insertTransaction(ctx, tx, adjustTx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreatePeriod opens a new tournament period
func (r *Repository) CreatePeriod(ctx context.Context, period domain.Period) error {
	var distribution []byte
	if period.Distribution != nil {
		var err error
		distribution, err = json.Marshal(period.Distribution)
		if err != nil {
			return fmt.Errorf("marshaling distribution: %w", err)
		}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO periods (id, status, entry_fee, starts_at, ends_at, distribution, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, period.ID, string(period.Status), period.EntryFee, period.StartsAt, period.EndsAt, distribution, time.Now())
	if err != nil {
		return fmt.Errorf("creating period: %w", err)
	}
	return nil
}

// GetPeriod retrieves a period by ID
func (r *Repository) GetPeriod(ctx context.Context, periodID string) (*domain.Period, error) {
	query := `
		SELECT id, status, entry_fee, pot, starts_at, ends_at, distribution,
		       COALESCE(final_pot, 0), COALESCE(rake_collected, 0), payouts, settled_at, created_at
		FROM periods
		WHERE id = $1
	`
	var (
		period       domain.Period
		status       string
		distribution []byte
		payouts      []byte
	)
	err := r.pool.QueryRow(ctx, query, periodID).Scan(
		&period.ID,
		&status,
		&period.EntryFee,
		&period.Pot,
		&period.StartsAt,
		&period.EndsAt,
		&distribution,
		&period.FinalPot,
		&period.RakeCollected,
		&payouts,
		&period.SettledAt,
		&period.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrPeriodNotFound
		}
		return nil, fmt.Errorf("getting period: %w", err)
	}
	period.Status = domain.PeriodStatus(status)

	if len(distribution) > 0 {
		cfg, err := domain.ParseDistribution(distribution)
		if err != nil {
			return nil, err
		}
		period.Distribution = cfg
	}
	if len(payouts) > 0 {
		if err := json.Unmarshal(payouts, &period.Payouts); err != nil {
			return nil, fmt.Errorf("unmarshaling payout snapshot: %w", err)
		}
	}
	return &period, nil
}

// ListPeriods retrieves periods, optionally filtered by status
func (r *Repository) ListPeriods(ctx context.Context, status domain.PeriodStatus) ([]domain.Period, error) {
	query := `
		SELECT id, status, entry_fee, pot, starts_at, ends_at,
		       COALESCE(final_pot, 0), COALESCE(rake_collected, 0), settled_at, created_at
		FROM periods
	`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY starts_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing periods: %w", err)
	}
	defer rows.Close()

	var periods []domain.Period
	for rows.Next() {
		var (
			period domain.Period
			st     string
		)
		err := rows.Scan(
			&period.ID,
			&st,
			&period.EntryFee,
			&period.Pot,
			&period.StartsAt,
			&period.EndsAt,
			&period.FinalPot,
			&period.RakeCollected,
			&period.SettledAt,
			&period.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning period: %w", err)
		}
		period.Status = domain.PeriodStatus(st)
		periods = append(periods, period)
	}
	return periods, nil
}

// ActivePeriodsEndedBefore returns the IDs of active periods whose window
// has passed, i.e. the candidates for a settlement sweep.
func (r *Repository) ActivePeriodsEndedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM periods WHERE status = 'active' AND ends_at <= $1 ORDER BY ends_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing ended periods: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning period id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RecordAttempt debits the entry fee, grows the pot, appends the entry-fee
// ledger record and stores the attempt, all in one database transaction.
func (r *Repository) RecordAttempt(ctx context.Context, attempt domain.AttemptSubmission, entryFee int64, feeTx domain.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE players
		SET balance = balance - $2, games_played = games_played + 1, updated_at = $3
		WHERE id = $1 AND balance >= $2
	`, attempt.UserID, entryFee, time.Now())
	if err != nil {
		return fmt.Errorf("debiting entry fee: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Distinguish a missing player from an empty wallet.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM players WHERE id = $1)`, attempt.UserID).Scan(&exists); err != nil {
			return fmt.Errorf("checking player existence: %w", err)
		}
		if !exists {
			return domain.ErrPlayerNotFound
		}
		return domain.ErrInsufficientBalance
	}

	result, err = tx.Exec(ctx, `
		UPDATE periods SET pot = pot + $2 WHERE id = $1 AND status = 'active'
	`, attempt.PeriodID, entryFee)
	if err != nil {
		return fmt.Errorf("growing pot: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPeriodNotActive
	}

	if err := insertTransaction(ctx, tx, feeTx); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO attempts (id, period_id, user_id, time_ms, completed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, attempt.AttemptID, attempt.PeriodID, attempt.UserID, attempt.TimeMs, attempt.CompletedAt)
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}

	return tx.Commit(ctx)
}

// Leaderboard returns the ranked results for a period: each user's best
// (lowest) time, ascending, ties broken by earliest completion.
func (r *Repository) Leaderboard(ctx context.Context, periodID string) ([]domain.LeaderboardEntry, error) {
	query := `
		WITH best AS (
			SELECT a.id, a.user_id, a.time_ms, a.completed_at,
			       ROW_NUMBER() OVER (PARTITION BY a.user_id ORDER BY a.time_ms ASC, a.completed_at ASC) AS rn
			FROM attempts a
			WHERE a.period_id = $1
		)
		SELECT b.id, b.user_id, COALESCE(p.display_name, b.user_id), b.time_ms, b.completed_at
		FROM best b
		LEFT JOIN players p ON p.id = b.user_id
		WHERE b.rn = 1
		ORDER BY b.time_ms ASC, b.completed_at ASC
	`
	rows, err := r.pool.Query(ctx, query, periodID)
	if err != nil {
		return nil, fmt.Errorf("getting leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var entry domain.LeaderboardEntry
		err := rows.Scan(&entry.AttemptID, &entry.UserID, &entry.DisplayName, &entry.TimeMs, &entry.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning leaderboard entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Pot returns the accumulated entry fees for a period
func (r *Repository) Pot(ctx context.Context, periodID string) (int64, error) {
	var pot int64
	err := r.pool.QueryRow(ctx, `SELECT pot FROM periods WHERE id = $1`, periodID).Scan(&pot)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.ErrPeriodNotFound
		}
		return 0, fmt.Errorf("getting pot: %w", err)
	}
	return pot, nil
}

// EntryFee returns the per-attempt entry fee recorded on the period
func (r *Repository) EntryFee(ctx context.Context, periodID string) (int64, error) {
	var fee int64
	err := r.pool.QueryRow(ctx, `SELECT entry_fee FROM periods WHERE id = $1`, periodID).Scan(&fee)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.ErrPeriodNotFound
		}
		return 0, fmt.Errorf("getting entry fee: %w", err)
	}
	return fee, nil
}

// DistributionConfig returns the period's stored settlement policy, or nil
// when none is configured. Legacy place maps are upconverted at parse time.
func (r *Repository) DistributionConfig(ctx context.Context, periodID string) (*domain.DistributionConfig, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT distribution FROM periods WHERE id = $1`, periodID).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrPeriodNotFound
		}
		return nil, fmt.Errorf("getting distribution config: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return domain.ParseDistribution(raw)
}

// ApplyPayout credits the recipient's balance, bumps the winnings stat and
// appends the ledger record as one atomic unit. The partial unique index on
// idempotency_key makes replays surface as ErrDuplicateTransaction.
func (r *Repository) ApplyPayout(ctx context.Context, payoutTx domain.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE players
		SET balance = balance + $2, total_won = total_won + $2, updated_at = $3
		WHERE id = $1
	`, payoutTx.UserID, payoutTx.Amount, time.Now())
	if err != nil {
		return fmt.Errorf("crediting player: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}

	if err := insertTransaction(ctx, tx, payoutTx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkPeriodClosed atomically transitions an active period to closed,
// persisting the audit snapshot. Returns false without writing when the
// period is no longer active (the CAS guard against concurrent settles).
func (r *Repository) MarkPeriodClosed(ctx context.Context, periodID string, snapshot domain.PeriodSnapshot) (bool, error) {
	payouts, err := json.Marshal(snapshot.Payouts)
	if err != nil {
		return false, fmt.Errorf("marshaling payout snapshot: %w", err)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE periods
		SET status = 'closed', final_pot = $2, rake_collected = $3, payouts = $4, refund = $5, settled_at = $6
		WHERE id = $1 AND status = 'active'
	`, periodID, snapshot.FinalPot, snapshot.RakeCollected, payouts, snapshot.Refund, snapshot.SettledAt)
	if err != nil {
		return false, fmt.Errorf("closing period: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// PeriodSnapshot returns the settlement audit snapshot for a closed period,
// or nil while the period is still open.
func (r *Repository) PeriodSnapshot(ctx context.Context, periodID string) (*domain.PeriodSnapshot, error) {
	query := `
		SELECT status, COALESCE(final_pot, 0), COALESCE(rake_collected, 0), payouts, refund, settled_at
		FROM periods
		WHERE id = $1
	`
	var (
		status    string
		snapshot  domain.PeriodSnapshot
		payouts   []byte
		settledAt *time.Time
	)
	err := r.pool.QueryRow(ctx, query, periodID).Scan(
		&status,
		&snapshot.FinalPot,
		&snapshot.RakeCollected,
		&payouts,
		&snapshot.Refund,
		&settledAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrPeriodNotFound
		}
		return nil, fmt.Errorf("getting period snapshot: %w", err)
	}
	if domain.PeriodStatus(status) != domain.PeriodStatusClosed {
		return nil, nil
	}
	if len(payouts) > 0 {
		if err := json.Unmarshal(payouts, &snapshot.Payouts); err != nil {
			return nil, fmt.Errorf("unmarshaling payout snapshot: %w", err)
		}
	}
	if settledAt != nil {
		snapshot.SettledAt = *settledAt
	}
	return &snapshot, nil
}

// PlayerTransactions returns a player's most recent ledger records
func (r *Repository) PlayerTransactions(ctx context.Context, playerID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, COALESCE(period_id, ''), type, amount, COALESCE(idempotency_key, ''), meta, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var (
			record domain.Transaction
			txType string
			meta   []byte
		)
		err := rows.Scan(&record.ID, &record.UserID, &record.PeriodID, &txType, &record.Amount, &record.IdempotencyKey, &meta, &record.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		record.Type = domain.TransactionType(txType)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &record.Meta); err != nil {
				return nil, fmt.Errorf("unmarshaling transaction meta: %w", err)
			}
		}
		txs = append(txs, record)
	}
	return txs, nil
}

// insertTransaction appends one ledger record inside an open database
// transaction, translating an idempotency key conflict into
// ErrDuplicateTransaction.
func insertTransaction(ctx context.Context, tx pgx.Tx, record domain.Transaction) error {
	var meta []byte
	if record.Meta != nil {
		var err error
		meta, err = json.Marshal(record.Meta)
		if err != nil {
			return fmt.Errorf("marshaling transaction meta: %w", err)
		}
	}

	var key interface{}
	if record.IdempotencyKey != "" {
		key = record.IdempotencyKey
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, user_id, period_id, type, amount, idempotency_key, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.ID, record.UserID, record.PeriodID, string(record.Type), record.Amount, key, meta, record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateTransaction
		}
		return fmt.Errorf("recording transaction: %w", err)
	}
	return nil
}
