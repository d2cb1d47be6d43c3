package domain

import (
	"fmt"
	"time"
)

// PeriodStatus represents the lifecycle state of a tournament period
type PeriodStatus string

const (
	PeriodStatusDraft  PeriodStatus = "draft"
	PeriodStatusActive PeriodStatus = "active"
	PeriodStatusClosed PeriodStatus = "closed"
)

// TransactionType classifies gold bar ledger entries
type TransactionType string

const (
	TransactionEntryFee    TransactionType = "entry_fee"
	TransactionPayout      TransactionType = "payout"
	TransactionRefund      TransactionType = "refund"
	TransactionSeed        TransactionType = "seed"
	TransactionAdminAdjust TransactionType = "admin_adjust"
)

// LeaderboardEntry is one participant's ranked result for a period.
// Entries are immutable once recorded; rank is derived from position in a
// list sorted by ascending TimeMs (lower is better), never stored. The
// settlement core assumes a de-duplicated, pre-sorted input list with at
// most one entry per user.
type LeaderboardEntry struct {
	AttemptID   string    `json:"attempt_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	TimeMs      int64     `json:"time_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// Payout is one computed transfer of a settlement. Amount is always a
// non-negative integer number of gold bars, floored at the point of
// calculation.
type Payout struct {
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name,omitempty"`
	Position    int     `json:"position"`
	Amount      int64   `json:"amount"`
	Percentage  float64 `json:"percentage,omitempty"`
}

// SettlementResult is the outcome of resolving a distribution config against
// a ranked leaderboard. When Refund is true the payouts are entry-fee
// refunds, one per participant, with Rake=0 and NetPot equal to the gross
// pot.
type SettlementResult struct {
	Payouts []Payout `json:"payouts"`
	Rake    float64  `json:"rake"`
	NetPot  float64  `json:"net_pot"`
	Refund  bool     `json:"refund"`
}

// Transaction is one append-only gold bar ledger record. Amount is signed:
// entry fees are negative, payouts and refunds positive. Payout and refund
// transactions carry an idempotency key so a repeated settlement attempt is
// detected by the ledger instead of double-paying.
type Transaction struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	PeriodID       string                 `json:"period_id"`
	Type           TransactionType        `json:"type"`
	Amount         int64                  `json:"amount"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	Meta           map[string]interface{} `json:"meta,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// PayoutIdempotencyKey builds the uniqueness key for one settlement
// transfer. One key per (period, user, position) is enforced by the ledger.
func PayoutIdempotencyKey(periodID, userID string, position int) string {
	return fmt.Sprintf("%s:%s:%d", periodID, userID, position)
}

// Period is one time-boxed tournament instance with its own leaderboard and
// pot. Closure is terminal: once Status is closed the settlement snapshot
// fields (FinalPot, RakeCollected, Payouts) are the permanent audit record.
type Period struct {
	ID            string              `json:"id"`
	Status        PeriodStatus        `json:"status"`
	EntryFee      int64               `json:"entry_fee"`
	Pot           int64               `json:"pot"`
	StartsAt      time.Time           `json:"starts_at"`
	EndsAt        time.Time           `json:"ends_at"`
	Distribution  *DistributionConfig `json:"distribution,omitempty"`
	FinalPot      float64             `json:"final_pot,omitempty"`
	RakeCollected float64             `json:"rake_collected,omitempty"`
	Payouts       []Payout            `json:"payouts,omitempty"`
	SettledAt     *time.Time          `json:"settled_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// PeriodSnapshot is the audit record written onto a period at closure so the
// result can be displayed without replaying ledger queries.
type PeriodSnapshot struct {
	FinalPot      float64   `json:"final_pot"`
	RakeCollected float64   `json:"rake_collected"`
	Payouts       []Payout  `json:"payouts"`
	Refund        bool      `json:"refund"`
	SettledAt     time.Time `json:"settled_at"`
}

// Player represents a participant's account
type Player struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Balance     int64     `json:"balance"`
	GamesPlayed int64     `json:"games_played"`
	TotalWon    int64     `json:"total_won"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AttemptSubmission represents one finished match-3 run reported by a game
// client or the ingestion pipeline.
type AttemptSubmission struct {
	AttemptID   string    `json:"attempt_id,omitempty"`
	PeriodID    string    `json:"period_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	TimeMs      int64     `json:"time_ms"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// CreatePeriodRequest represents a request to open a new tournament period
type CreatePeriodRequest struct {
	ID           string              `json:"id"`
	EntryFee     int64               `json:"entry_fee,omitempty"`
	StartsAt     time.Time           `json:"starts_at,omitempty"`
	EndsAt       time.Time           `json:"ends_at,omitempty"`
	Distribution *DistributionConfig `json:"distribution,omitempty"`
	Template     string              `json:"template,omitempty"`
}
