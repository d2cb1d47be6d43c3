package settlement

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candy-clash/internal/domain"
	"github.com/candy-clash/internal/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededLedger(t *testing.T, players int, pot int64) *ledger.Memory {
	t.Helper()
	mem := ledger.NewMemory()
	entries := board(players)
	for _, e := range entries {
		mem.AddPlayer(e.UserID, e.DisplayName, 100)
	}
	cfg, err := domain.Template(domain.TemplateStandard)
	require.NoError(t, err)
	cfg.Rake = 5
	mem.AddPeriod("daily-1", entries, pot, 10, cfg)
	return mem
}

func TestSettleHappyPath(t *testing.T) {
	mem := seededLedger(t, 5, 100)
	settler := NewSettler(mem, testLogger())

	outcome, err := settler.Settle(context.Background(), "daily-1")
	require.NoError(t, err)
	assert.True(t, outcome.Closed)
	assert.False(t, outcome.Refund)
	assert.Empty(t, outcome.Warnings)
	require.Len(t, outcome.Payouts, 3)

	winner, ok := mem.Player(userID(0))
	require.True(t, ok)
	assert.Equal(t, int64(138), winner.Balance)
	assert.Equal(t, int64(38), winner.TotalWon)

	// Non-winners are untouched.
	fourth, ok := mem.Player(userID(3))
	require.True(t, ok)
	assert.Equal(t, int64(100), fourth.Balance)

	txs := mem.Transactions()
	require.Len(t, txs, 3)
	for _, tx := range txs {
		assert.Equal(t, domain.TransactionPayout, tx.Type)
		assert.Equal(t, "daily-1", tx.PeriodID)
		assert.NotEmpty(t, tx.IdempotencyKey)
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	mem := seededLedger(t, 5, 100)
	settler := NewSettler(mem, testLogger())
	ctx := context.Background()

	first, err := settler.Settle(ctx, "daily-1")
	require.NoError(t, err)

	second, err := settler.Settle(ctx, "daily-1")
	require.NoError(t, err)
	assert.True(t, second.Closed)
	assert.Equal(t, first.Payouts, second.Payouts)

	// No double credit, no extra transactions.
	winner, _ := mem.Player(userID(0))
	assert.Equal(t, int64(138), winner.Balance)
	assert.Len(t, mem.Transactions(), 3)
}

func TestSettleConcurrent(t *testing.T) {
	mem := seededLedger(t, 5, 100)
	settler := NewSettler(mem, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := settler.Settle(context.Background(), "daily-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	winner, _ := mem.Player(userID(0))
	assert.Equal(t, int64(138), winner.Balance)
	assert.Len(t, mem.Transactions(), 3)
}

func TestSettleEmptyLeaderboard(t *testing.T) {
	mem := ledger.NewMemory()
	cfg, err := domain.Template(domain.TemplateStandard)
	require.NoError(t, err)
	mem.AddPeriod("quiet-day", nil, 0, 10, cfg)

	settler := NewSettler(mem, testLogger())
	outcome, err := settler.Settle(context.Background(), "quiet-day")
	require.NoError(t, err)

	assert.True(t, outcome.Closed)
	assert.Empty(t, outcome.Payouts)
	assert.Empty(t, mem.Transactions())

	snap, err := mem.PeriodSnapshot(context.Background(), "quiet-day")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 0.0, snap.FinalPot)
}

func TestSettleUnknownPeriod(t *testing.T) {
	settler := NewSettler(ledger.NewMemory(), testLogger())
	_, err := settler.Settle(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrPeriodNotFound)
}

func TestSettleSkipsMissingRecipient(t *testing.T) {
	mem := ledger.NewMemory()
	entries := board(3)
	for _, e := range entries[:2] {
		mem.AddPlayer(e.UserID, e.DisplayName, 100)
	}
	// Third-place player was deleted between play and settlement.
	cfg, err := domain.Template(domain.TemplateStandard)
	require.NoError(t, err)
	mem.AddPeriod("daily-1", entries, 100, 10, cfg)

	settler := NewSettler(mem, testLogger())
	outcome, err := settler.Settle(context.Background(), "daily-1")
	require.NoError(t, err)

	assert.True(t, outcome.Closed)
	require.Len(t, outcome.Warnings, 1)
	assert.Contains(t, outcome.Warnings[0], userID(2))

	// Everyone else was still paid.
	first, _ := mem.Player(userID(0))
	second, _ := mem.Player(userID(1))
	assert.Equal(t, int64(140), first.Balance)
	assert.Equal(t, int64(125), second.Balance)
	assert.Len(t, mem.Transactions(), 2)
}

func TestSettleRefundTransactions(t *testing.T) {
	mem := ledger.NewMemory()
	entries := board(2)
	for _, e := range entries {
		mem.AddPlayer(e.UserID, e.DisplayName, 90)
	}
	cfg, err := domain.Template(domain.TemplateStandard)
	require.NoError(t, err)
	cfg.MinimumPlayers = 3
	mem.AddPeriod("daily-1", entries, 20, 10, cfg)

	settler := NewSettler(mem, testLogger())
	outcome, err := settler.Settle(context.Background(), "daily-1")
	require.NoError(t, err)

	assert.True(t, outcome.Refund)
	for _, tx := range mem.Transactions() {
		assert.Equal(t, domain.TransactionRefund, tx.Type)
		assert.Equal(t, int64(10), tx.Amount)
	}
	for _, e := range entries {
		p, _ := mem.Player(e.UserID)
		assert.Equal(t, int64(100), p.Balance)
	}
}

func TestSettleDefaultsMissingConfig(t *testing.T) {
	mem := ledger.NewMemory()
	entries := board(4)
	for _, e := range entries {
		mem.AddPlayer(e.UserID, e.DisplayName, 0)
	}
	mem.AddPeriod("daily-1", entries, 100, 10, nil)

	settler := NewSettler(mem, testLogger())
	outcome, err := settler.Settle(context.Background(), "daily-1")
	require.NoError(t, err)

	// Falls back to the standard 40/25/15 template with no rake.
	require.Len(t, outcome.Payouts, 3)
	assert.Equal(t, int64(40), outcome.Payouts[0].Amount)
	assert.Equal(t, int64(25), outcome.Payouts[1].Amount)
	assert.Equal(t, int64(15), outcome.Payouts[2].Amount)
}
