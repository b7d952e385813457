package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeMint
	JournalTypeBurn
	JournalTypeAuctionLock
	JournalTypeLiquidationPayout
	JournalTypeLiquidationRepay
	JournalTypeLiquidationFee
	JournalTypeCollateralRelease
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeAuctionLock:
		return "auction_lock"
	case JournalTypeLiquidationPayout:
		return "liquidation_payout"
	case JournalTypeLiquidationRepay:
		return "liquidation_repay"
	case JournalTypeLiquidationFee:
		return "liquidation_fee"
	case JournalTypeCollateralRelease:
		return "collateral_release"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups the entries of one operation
	OpRef         string      // Reference to the originating operation
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Operation timestamp (epoch seconds)
}

// Batch represents the balanced set of journal entries produced by one
// atomic operation (deposit, mint, bid, ...). Each entry is a balanced
// transfer by construction: a single positive amount moves from credit
// account to debit account, so Σ debits == Σ credits per entry.
type Batch struct {
	BatchID   uuid.UUID
	OpRef     string
	Timestamp int64
	Journals  []Journal
}

// NewBatch creates an empty batch for one operation.
func NewBatch(opRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		OpRef:     opRef,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 4),
	}
}

// Move appends a journal entry transferring amount from credit to debit.
func (b *Batch) Move(debit, credit AccountKey, assetID AssetID, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		OpRef:         b.OpRef,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Validate ensures the batch is well-formed.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s crosses assets", j.JournalID)
		}
	}

	return nil
}
