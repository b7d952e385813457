package ledger

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// PoolLedger maintains the in-memory collateral and debt pool balances.
// Balances are mutated only by applying validated journal batches; callers
// never write a balance directly.
type PoolLedger struct {
	balances map[AccountKey]int64
}

func NewPoolLedger() *PoolLedger {
	return &PoolLedger{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (pl *PoolLedger) ApplyJournal(j Journal) {
	pl.balances[j.DebitAccount] += j.Amount
	pl.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch validates a batch and applies all of its journals.
func (pl *PoolLedger) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		pl.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (pl *PoolLedger) GetBalance(key AccountKey) int64 {
	return pl.balances[key]
}

// CollateralOf returns the collateral-pool balance for (account, asset).
func (pl *PoolLedger) CollateralOf(account uuid.UUID, assetID AssetID) int64 {
	return pl.GetBalance(CollateralKey(account, assetID))
}

// DebtOf returns the debt-pool balance for (account, asset).
func (pl *PoolLedger) DebtOf(account uuid.UUID, assetID AssetID) int64 {
	return pl.GetBalance(DebtKey(account, assetID))
}

// EscrowOf returns the auction-escrow balance for (account, asset).
func (pl *PoolLedger) EscrowOf(account uuid.UUID, assetID AssetID) int64 {
	return pl.GetBalance(EscrowKey(account, assetID))
}

// FeeVaultOf returns the system fee-vault balance for an asset.
func (pl *PoolLedger) FeeVaultOf(assetID AssetID) int64 {
	return pl.GetBalance(FeeVaultKey(assetID))
}

// AssetAmount pairs an asset with a pool balance.
type AssetAmount struct {
	AssetID AssetID
	Amount  int64
}

// CollateralPortfolio returns the account's nonzero collateral balances,
// sorted by AssetID for deterministic iteration. Escrowed collateral is
// included: it remains the account's until an auction sells it.
func (pl *PoolLedger) CollateralPortfolio(account uuid.UUID) []AssetAmount {
	free := pl.portfolio(account, SubTypeCollateral)
	locked := pl.portfolio(account, SubTypeAuctionEscrow)
	if len(locked) == 0 {
		return free
	}

	merged := make(map[AssetID]int64, len(free)+len(locked))
	for _, entry := range free {
		merged[entry.AssetID] += entry.Amount
	}
	for _, entry := range locked {
		merged[entry.AssetID] += entry.Amount
	}

	out := make([]AssetAmount, 0, len(merged))
	for assetID, amount := range merged {
		if amount != 0 {
			out = append(out, AssetAmount{AssetID: assetID, Amount: amount})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// DebtPortfolio returns the account's nonzero debt balances, sorted by AssetID.
func (pl *PoolLedger) DebtPortfolio(account uuid.UUID) []AssetAmount {
	return pl.portfolio(account, SubTypeDebt)
}

func (pl *PoolLedger) portfolio(account uuid.UUID, subType AccountSubType) []AssetAmount {
	out := make([]AssetAmount, 0, 4)
	for key, balance := range pl.balances {
		if key.Scope != AccountScopeUser || key.SubType != subType {
			continue
		}
		if uuid.UUID(key.EntityID) != account || balance == 0 {
			continue
		}
		out = append(out, AssetAmount{AssetID: key.AssetID, Amount: balance})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// ValidateSufficientCollateral checks the account holds at least required
// collateral in the given asset.
func (pl *PoolLedger) ValidateSufficientCollateral(account uuid.UUID, assetID AssetID, required int64) error {
	have := pl.CollateralOf(account, assetID)
	if have < required {
		return fmt.Errorf("insufficient collateral: have=%d, need=%d", have, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (pl *PoolLedger) ValidateNonNegative(key AccountKey) error {
	balance := pl.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset. Because every
// journal entry is a balanced transfer, the total must be zero for every
// asset at all times; value enters and leaves only through the external
// boundary accounts.
func (pl *PoolLedger) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range pl.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// SetBalance writes a balance directly. Restore path only; normal
// operation mutates balances through journal batches.
func (pl *PoolLedger) SetBalance(key AccountKey, balance int64) {
	pl.balances[key] = balance
}

// Snapshot returns a copy of all balances
func (pl *PoolLedger) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(pl.balances))
	for k, v := range pl.balances {
		snapshot[k] = v
	}
	return snapshot
}
