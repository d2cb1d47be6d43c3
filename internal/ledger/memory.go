// Package ledger provides an in-memory implementation of the settlement
// Ledger contract. It backs unit tests and local development without
// Postgres; the production implementation lives in internal/postgres.
package ledger

import (
	"context"
	"sync"

	"github.com/candy-clash/internal/domain"
)

type memoryPeriod struct {
	entries  []domain.LeaderboardEntry
	pot      int64
	entryFee int64
	config   *domain.DistributionConfig
	snapshot *domain.PeriodSnapshot
}

// Memory is a thread-safe in-memory ledger. The zero value is not usable;
// construct with NewMemory.
type Memory struct {
	mu      sync.Mutex
	periods map[string]*memoryPeriod
	players map[string]*domain.Player
	txs     []domain.Transaction
	txKeys  map[string]bool
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{
		periods: make(map[string]*memoryPeriod),
		players: make(map[string]*domain.Player),
		txKeys:  make(map[string]bool),
	}
}

// AddPeriod seeds a period with its leaderboard, pot and policy
func (m *Memory) AddPeriod(periodID string, entries []domain.LeaderboardEntry, pot, entryFee int64, cfg *domain.DistributionConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods[periodID] = &memoryPeriod{
		entries:  entries,
		pot:      pot,
		entryFee: entryFee,
		config:   cfg,
	}
}

// AddPlayer seeds a player account
func (m *Memory) AddPlayer(id, displayName string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[id] = &domain.Player{ID: id, DisplayName: displayName, Balance: balance}
}

// Player returns a copy of a player's account state
func (m *Memory) Player(id string) (domain.Player, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return domain.Player{}, false
	}
	return *p, true
}

// Transactions returns a copy of the append-only transaction log
func (m *Memory) Transactions() []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Transaction, len(m.txs))
	copy(out, m.txs)
	return out
}

func (m *Memory) Leaderboard(ctx context.Context, periodID string) ([]domain.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[periodID]
	if !ok {
		return nil, domain.ErrPeriodNotFound
	}
	out := make([]domain.LeaderboardEntry, len(p.entries))
	copy(out, p.entries)
	return out, nil
}

func (m *Memory) Pot(ctx context.Context, periodID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[periodID]
	if !ok {
		return 0, domain.ErrPeriodNotFound
	}
	return p.pot, nil
}

func (m *Memory) EntryFee(ctx context.Context, periodID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[periodID]
	if !ok {
		return 0, domain.ErrPeriodNotFound
	}
	return p.entryFee, nil
}

func (m *Memory) DistributionConfig(ctx context.Context, periodID string) (*domain.DistributionConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[periodID]
	if !ok {
		return nil, domain.ErrPeriodNotFound
	}
	if p.config == nil {
		return nil, nil
	}
	return p.config.Clone(), nil
}

// ApplyPayout credits the recipient and appends the transaction as one unit
func (m *Memory) ApplyPayout(ctx context.Context, tx domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.IdempotencyKey != "" && m.txKeys[tx.IdempotencyKey] {
		return domain.ErrDuplicateTransaction
	}
	player, ok := m.players[tx.UserID]
	if !ok {
		return domain.ErrPlayerNotFound
	}

	player.Balance += tx.Amount
	player.TotalWon += tx.Amount
	if tx.IdempotencyKey != "" {
		m.txKeys[tx.IdempotencyKey] = true
	}
	m.txs = append(m.txs, tx)
	return nil
}

func (m *Memory) MarkPeriodClosed(ctx context.Context, periodID string, snapshot domain.PeriodSnapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[periodID]
	if !ok {
		return false, domain.ErrPeriodNotFound
	}
	if p.snapshot != nil {
		return false, nil
	}
	p.snapshot = &snapshot
	return true, nil
}

func (m *Memory) PeriodSnapshot(ctx context.Context, periodID string) (*domain.PeriodSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[periodID]
	if !ok {
		return nil, domain.ErrPeriodNotFound
	}
	if p.snapshot == nil {
		return nil, nil
	}
	snap := *p.snapshot
	return &snap, nil
}
