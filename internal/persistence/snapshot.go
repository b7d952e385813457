package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotManager handles creating and loading state snapshots for warm
// restart: ledger balances, oracle prices, open auctions and the sequence
// counter. Events after the snapshot sequence remain in cdp.events for
// audit; the snapshot itself is the authoritative restart point.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence  int64            `json:"sequence"`
	NextNonce uint64           `json:"next_nonce"`
	Balances  []BalanceSnap    `json:"balances"`
	Prices    map[string]int64 `json:"prices"` // symbol -> fixed-point USD
	Auctions  []AuctionSnap    `json:"auctions"`
	CreatedAt time.Time        `json:"created_at"`
}

// BalanceSnap is one serializable ledger balance.
type BalanceSnap struct {
	Scope   uint8  `json:"scope"`
	Entity  string `json:"entity"` // UUID for user accounts, empty otherwise
	SubType uint8  `json:"sub_type"`
	Symbol  string `json:"symbol"`
	Balance int64  `json:"balance"`
}

// AuctionSnap is one serializable auction, open or closed.
type AuctionSnap struct {
	Nonce         uint64       `json:"nonce"`
	Borrower      string       `json:"borrower"`
	Initiator     string       `json:"initiator"`
	StartTime     int64        `json:"start_time"`
	Status        int32        `json:"status"`
	RemainingDebt int64        `json:"remaining_debt"`
	Remaining     []AmountSnap `json:"remaining"`
	BonusPaid     bool         `json:"bonus_paid"`
	Bids          []BidSnap    `json:"bids"`
}

// AmountSnap pairs a token symbol with an amount.
type AmountSnap struct {
	Symbol string `json:"symbol"`
	Amount int64  `json:"amount"`
}

// BidSnap is one serializable accepted bid.
type BidSnap struct {
	Bidder        string       `json:"bidder"`
	AcceptedAt    int64        `json:"accepted_at"`
	Percentage    int64        `json:"percentage"`
	OfferedRatio  int64        `json:"offered_ratio"`
	DebtPaid      int64        `json:"debt_paid"`
	CollateralOut []AmountSnap `json:"collateral_out"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to cdp.snapshots.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO cdp.snapshots (sequence, data, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (sequence) DO UPDATE SET data = EXCLUDED.data
	`, snap.Sequence, data, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadLatestSnapshot returns the newest snapshot, or nil when none exists.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM cdp.snapshots ORDER BY sequence DESC LIMIT 1
	`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// PruneSnapshots deletes all but the newest keep snapshots.
func (sm *SnapshotManager) PruneSnapshots(ctx context.Context, keep int) error {
	_, err := sm.db.ExecContext(ctx, `
		DELETE FROM cdp.snapshots
		WHERE sequence NOT IN (
			SELECT sequence FROM cdp.snapshots ORDER BY sequence DESC LIMIT $1
		)
	`, keep)
	return err
}
