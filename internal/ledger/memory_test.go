package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candy-clash/internal/domain"
)

func TestMemoryApplyPayout(t *testing.T) {
	mem := NewMemory()
	mem.AddPlayer("p1", "Gumdrop1", 50)
	ctx := context.Background()

	tx := domain.Transaction{
		ID:             "tx-1",
		UserID:         "p1",
		PeriodID:       "daily-1",
		Type:           domain.TransactionPayout,
		Amount:         38,
		IdempotencyKey: domain.PayoutIdempotencyKey("daily-1", "p1", 1),
	}
	require.NoError(t, mem.ApplyPayout(ctx, tx))

	player, ok := mem.Player("p1")
	require.True(t, ok)
	assert.Equal(t, int64(88), player.Balance)
	assert.Equal(t, int64(38), player.TotalWon)
	assert.Len(t, mem.Transactions(), 1)

	// A replay with the same key is rejected and nothing changes.
	tx.ID = "tx-2"
	err := mem.ApplyPayout(ctx, tx)
	assert.ErrorIs(t, err, domain.ErrDuplicateTransaction)

	player, _ = mem.Player("p1")
	assert.Equal(t, int64(88), player.Balance)
	assert.Len(t, mem.Transactions(), 1)
}

func TestMemoryApplyPayoutUnknownPlayer(t *testing.T) {
	mem := NewMemory()
	err := mem.ApplyPayout(context.Background(), domain.Transaction{
		UserID: "ghost",
		Amount: 10,
	})
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestMemoryMarkPeriodClosedCAS(t *testing.T) {
	mem := NewMemory()
	mem.AddPeriod("daily-1", nil, 0, 10, nil)
	ctx := context.Background()

	snap := domain.PeriodSnapshot{FinalPot: 100}
	closed, err := mem.MarkPeriodClosed(ctx, "daily-1", snap)
	require.NoError(t, err)
	assert.True(t, closed)

	// Second closure loses the CAS and must not overwrite the snapshot.
	closed, err = mem.MarkPeriodClosed(ctx, "daily-1", domain.PeriodSnapshot{FinalPot: 999})
	require.NoError(t, err)
	assert.False(t, closed)

	stored, err := mem.PeriodSnapshot(ctx, "daily-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 100.0, stored.FinalPot)
}

func TestMemorySnapshotNilWhileOpen(t *testing.T) {
	mem := NewMemory()
	mem.AddPeriod("daily-1", nil, 0, 10, nil)

	snap, err := mem.PeriodSnapshot(context.Background(), "daily-1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	_, err = mem.PeriodSnapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrPeriodNotFound)
}

func TestMemoryConfigClonedOnRead(t *testing.T) {
	mem := NewMemory()
	cfg, err := domain.Template(domain.TemplateStandard)
	require.NoError(t, err)
	mem.AddPeriod("daily-1", nil, 0, 10, cfg)

	got, err := mem.DistributionConfig(context.Background(), "daily-1")
	require.NoError(t, err)
	got.Rules[0].Amount = 99

	again, err := mem.DistributionConfig(context.Background(), "daily-1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, again.Rules[0].Amount)
}
