// Package mint implements the collateral/debt position engine: deposits,
// withdrawals, debt minting against the loan-to-value ceiling, and voluntary
// repayment. Every operation is all-or-nothing: all preconditions are checked
// before the first ledger mutation.
package mint

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/registry"
	"CDPLedger/internal/state"
)

// MintFraction is the loan-to-value ceiling in parts-per-million: debt value
// may not exceed 30% of collateral value, a ~3.33x collateralization target.
const MintFraction = 300_000

var (
	ErrInvalidAmount          = errors.New("mint: amount must be positive")
	ErrTokenNotDepositable    = errors.New("mint: token not depositable")
	ErrTokenNotMintable       = errors.New("mint: token not mintable against")
	ErrInsufficientCollateral = errors.New("mint: insufficient collateral")
	ErrUndercollateralized    = errors.New("mint: withdrawal would breach the collateral ceiling")
	ErrCollateralLocked       = errors.New("mint: collateral locked by an active auction")
	ErrExceedsDebt            = errors.New("mint: repay amount exceeds outstanding debt")
)

// StableMinter is the restricted mint/burn authority of the stable token.
type StableMinter interface {
	Mint(caller, to uuid.UUID, amount int64) error
	BurnFrom(spender, owner uuid.UUID, amount int64) error
}

// AuctionGuard reports whether an account's collateral is earmarked by an
// active liquidation auction. Satisfied by the auction manager; declared
// here so the dependency points only one way.
type AuctionGuard interface {
	HasActiveAuction(account uuid.UUID) bool
}

// Engine is the position engine.
type Engine struct {
	pools    *ledger.PoolLedger
	valuator *state.Valuator
	registry *registry.Registry
	stable   StableMinter
	minterID uuid.UUID // identity registered with the stable token authority
	guard    AuctionGuard
}

func NewEngine(
	pools *ledger.PoolLedger,
	valuator *state.Valuator,
	reg *registry.Registry,
	stable StableMinter,
	minterID uuid.UUID,
) *Engine {
	return &Engine{
		pools:    pools,
		valuator: valuator,
		registry: reg,
		stable:   stable,
		minterID: minterID,
	}
}

// SetAuctionGuard wires the auction manager after construction; the guard
// cannot be a constructor argument because the auction depends on the
// valuator, which is built alongside this engine.
func (e *Engine) SetAuctionGuard(guard AuctionGuard) {
	e.guard = guard
}

// Deposit moves amount of the token into the account's collateral pool.
// No ceiling check: adding collateral only improves the position.
func (e *Engine) Deposit(account uuid.UUID, assetID ledger.AssetID, amount, now int64) (*ledger.Batch, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !e.registry.CanDeposit(assetID) {
		return nil, ErrTokenNotDepositable
	}

	batch := ledger.NewBatch(fmt.Sprintf("deposit:%s", account), now)
	batch.Move(
		ledger.CollateralKey(account, assetID),
		ledger.ExternalKey(ledger.SubTypeExternalDeposits, assetID),
		assetID, amount, ledger.JournalTypeDeposit,
	)

	if err := e.pools.ApplyBatch(batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// Withdraw releases collateral back to the account, provided no active
// auction earmarks it and the remaining collateral still covers the debt
// at the minting ceiling.
func (e *Engine) Withdraw(account uuid.UUID, assetID ledger.AssetID, amount, now int64) (*ledger.Batch, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if e.guard != nil && e.guard.HasActiveAuction(account) {
		return nil, ErrCollateralLocked
	}
	if err := e.pools.ValidateSufficientCollateral(account, assetID, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientCollateral, err)
	}

	debtValue, err := e.valuator.DebtValueUSD(account)
	if err != nil {
		return nil, err
	}
	if debtValue > 0 {
		collateralValue, err := e.valuator.CollateralValueUSD(account)
		if err != nil {
			return nil, err
		}
		withdrawValue, err := e.valuator.ValueAt(assetID, amount)
		if err != nil {
			return nil, err
		}
		ceiling := fpmath.ApplyRatio(collateralValue-withdrawValue, MintFraction)
		if debtValue > ceiling {
			return nil, ErrUndercollateralized
		}
	}

	batch := ledger.NewBatch(fmt.Sprintf("withdraw:%s", account), now)
	batch.Move(
		ledger.ExternalKey(ledger.SubTypeExternalWithdrawals, assetID),
		ledger.CollateralKey(account, assetID),
		assetID, amount, ledger.JournalTypeWithdrawal,
	)

	if err := e.pools.ApplyBatch(batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// MaxToMint computes the largest debt amount (in debt-token units) the
// account could mint right now without breaching the ceiling.
func (e *Engine) MaxToMint(account uuid.UUID, debtAsset ledger.AssetID) (int64, error) {
	if !e.registry.CanMintAgainst(debtAsset) {
		return 0, ErrTokenNotMintable
	}

	collateralValue, err := e.valuator.CollateralValueUSD(account)
	if err != nil {
		return 0, err
	}
	debtValue, err := e.valuator.DebtValueUSD(account)
	if err != nil {
		return 0, err
	}

	headroom := fpmath.ApplyRatio(collateralValue, MintFraction) - debtValue
	if headroom <= 0 {
		return 0, nil
	}

	price, err := e.valuator.PriceOf(debtAsset)
	if err != nil {
		return 0, err
	}
	return fpmath.ToUnits(headroom, price), nil
}

// Mint issues min(requested, maxMintable) units of the debt token to the
// account, increasing its debt pool and invoking the stable-token mint
// authority. Fails with ErrInsufficientCollateral when nothing is mintable.
func (e *Engine) Mint(account uuid.UUID, debtAsset ledger.AssetID, requested, now int64) (int64, *ledger.Batch, error) {
	if requested <= 0 {
		return 0, nil, ErrInvalidAmount
	}

	maxMintable, err := e.MaxToMint(account, debtAsset)
	if err != nil {
		return 0, nil, err
	}
	if maxMintable <= 0 {
		return 0, nil, ErrInsufficientCollateral
	}

	amount := requested
	if amount > maxMintable {
		amount = maxMintable
	}

	if err := e.stable.Mint(e.minterID, account, amount); err != nil {
		return 0, nil, fmt.Errorf("stable mint: %w", err)
	}

	batch := ledger.NewBatch(fmt.Sprintf("mint:%s", account), now)
	batch.Move(
		ledger.DebtKey(account, debtAsset),
		ledger.ExternalKey(ledger.SubTypeExternalStableMinted, debtAsset),
		debtAsset, amount, ledger.JournalTypeMint,
	)

	if err := e.pools.ApplyBatch(batch); err != nil {
		return 0, nil, err
	}
	return amount, batch, nil
}

// Burn repays outstanding debt: the stable tokens are burned from the
// account (against its allowance) and the debt pool shrinks by the same
// amount.
func (e *Engine) Burn(account uuid.UUID, debtAsset ledger.AssetID, amount, now int64) (*ledger.Batch, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	outstanding := e.pools.DebtOf(account, debtAsset)
	if amount > outstanding {
		return nil, ErrExceedsDebt
	}

	if err := e.stable.BurnFrom(e.minterID, account, amount); err != nil {
		return nil, err
	}

	batch := ledger.NewBatch(fmt.Sprintf("burn:%s", account), now)
	batch.Move(
		ledger.ExternalKey(ledger.SubTypeExternalStableBurned, debtAsset),
		ledger.DebtKey(account, debtAsset),
		debtAsset, amount, ledger.JournalTypeBurn,
	)

	if err := e.pools.ApplyBatch(batch); err != nil {
		return nil, err
	}
	return batch, nil
}
