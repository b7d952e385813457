package auction

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	fpmath "CDPLedger/internal/math"
)

// DefaultBurnRatio burns 95% of every repayment; the remainder accrues to
// the fee vault.
const DefaultBurnRatio = 950_000

// FeeRouter splits bid repayments between supply burn and the fee vault,
// and carries the one-time initiator bonus for each auction. The vault and
// bonus are admin-adjustable at runtime.
type FeeRouter struct {
	mu             sync.RWMutex
	burnRatio      int64 // at fpmath.Scale
	feeVault       uuid.UUID
	initiatorBonus int64 // base-asset units required alongside a bid
}

func NewFeeRouter(burnRatio int64, feeVault uuid.UUID, initiatorBonus int64) (*FeeRouter, error) {
	if burnRatio < 0 || burnRatio > fpmath.RatioOne {
		return nil, fmt.Errorf("auction: burn ratio %d outside [0, %d]", burnRatio, fpmath.RatioOne)
	}
	if initiatorBonus < 0 {
		return nil, fmt.Errorf("auction: negative initiator bonus %d", initiatorBonus)
	}
	return &FeeRouter{
		burnRatio:      burnRatio,
		feeVault:       feeVault,
		initiatorBonus: initiatorBonus,
	}, nil
}

// Split divides a repayment into the burned share and the fee share.
// The fee share takes the rounding remainder so the two always sum to
// the full amount.
func (r *FeeRouter) Split(amount int64) (burn, fee int64) {
	r.mu.RLock()
	ratio := r.burnRatio
	r.mu.RUnlock()

	burn = fpmath.ApplyRatio(amount, ratio)
	fee = amount - burn
	return burn, fee
}

// FeeVault is the wallet receiving the fee share of repayments.
func (r *FeeRouter) FeeVault() uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feeVault
}

// SetFeeVault redirects future fee shares to a new wallet.
func (r *FeeRouter) SetFeeVault(vault uuid.UUID) {
	r.mu.Lock()
	r.feeVault = vault
	r.mu.Unlock()
}

// InitiatorBonus is the base-asset payment a bid must carry; it is
// forwarded to the auction's initiator exactly once, on the first
// accepted bid.
func (r *FeeRouter) InitiatorBonus() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initiatorBonus
}

// SetInitiatorBonus updates the payment required alongside future bids.
// Auctions already holding a paid bonus are unaffected.
func (r *FeeRouter) SetInitiatorBonus(bonus int64) error {
	if bonus < 0 {
		return fmt.Errorf("auction: negative initiator bonus %d", bonus)
	}
	r.mu.Lock()
	r.initiatorBonus = bonus
	r.mu.Unlock()
	return nil
}
