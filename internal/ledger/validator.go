package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	pools *PoolLedger
}

func NewInvariantValidator(pools *PoolLedger) *InvariantValidator {
	return &InvariantValidator{
		pools: pools,
	}
}

// ValidateBatchBalance verifies a batch is balanced and well-formed.
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateConservation verifies the ledger is zero-sum per asset: no value
// is created or destroyed except through the external boundary accounts.
func (v *InvariantValidator) ValidateConservation() error {
	totals := v.pools.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			symbol, _ := GetAssetSymbol(assetID)
			return fmt.Errorf("conservation violated for %s: global balance %d", symbol, total)
		}
	}

	return nil
}

// ValidateCollateralNonNegative checks an account's collateral pool >= 0.
func (v *InvariantValidator) ValidateCollateralNonNegative(account uuid.UUID, assetID AssetID) error {
	return v.pools.ValidateNonNegative(CollateralKey(account, assetID))
}

// ValidateDebtNonNegative checks an account's debt pool >= 0.
func (v *InvariantValidator) ValidateDebtNonNegative(account uuid.UUID, assetID AssetID) error {
	return v.pools.ValidateNonNegative(DebtKey(account, assetID))
}
