package mint_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"CDPLedger/internal/access"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/mint"
	"CDPLedger/internal/oracle"
	"CDPLedger/internal/registry"
	"CDPLedger/internal/state"
	"CDPLedger/internal/token"
)

// guardStub stands in for the auction manager in withdrawal checks.
type guardStub bool

func (g guardStub) HasActiveAuction(uuid.UUID) bool { return bool(g) }

// ============================================================================
// Fixture
// ============================================================================

type fixture struct {
	pools  *ledger.PoolLedger
	prices *oracle.MemoryOracle
	stable *token.MemStable
	engine *mint.Engine

	admin uuid.UUID
	dusd  ledger.AssetID
	weth  ledger.AssetID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{admin: uuid.New()}

	acl := access.NewController(f.admin)
	reg := registry.NewRegistry(acl)

	var err error
	f.dusd, err = reg.AddToken(f.admin, "DUSD", "oracle:dusd", 6, false, true, false)
	if err != nil {
		t.Fatalf("admit DUSD: %v", err)
	}
	f.weth, err = reg.AddToken(f.admin, "WETH", "oracle:weth", 6, true, false, true)
	if err != nil {
		t.Fatalf("admit WETH: %v", err)
	}

	f.pools = ledger.NewPoolLedger()
	f.prices = oracle.NewMemoryOracle()
	valuator := state.NewValuator(f.pools, f.prices, reg)
	f.stable = token.NewMemStable()
	f.stable.AddMinter(f.admin)

	f.engine = mint.NewEngine(f.pools, valuator, reg, f.stable, f.admin)

	if err := f.prices.SetPrice(f.dusd, 1_000_000); err != nil { // $1
		t.Fatalf("set price: %v", err)
	}
	if err := f.prices.SetPrice(f.weth, 2_000_000_000); err != nil { // $2000
		t.Fatalf("set price: %v", err)
	}
	return f
}

// ============================================================================
// Test: Deposit
// ============================================================================

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	batch, err := f.engine.Deposit(account, f.weth, 5_000_000, 100)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if len(batch.Journals) != 1 {
		t.Errorf("journals: got %d, want 1", len(batch.Journals))
	}
	if got := f.pools.CollateralOf(account, f.weth); got != 5_000_000 {
		t.Errorf("collateral: got %d, want 5_000_000", got)
	}
}

func TestDeposit_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	for _, amount := range []int64{0, -1} {
		_, err := f.engine.Deposit(account, f.weth, amount, 0)
		if !errors.Is(err, mint.ErrInvalidAmount) {
			t.Errorf("amount %d: got %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestDeposit_NonDepositableToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Deposit(uuid.New(), f.dusd, 1_000_000, 0)
	if !errors.Is(err, mint.ErrTokenNotDepositable) {
		t.Fatalf("got %v, want ErrTokenNotDepositable", err)
	}
}

// ============================================================================
// Test: Withdraw
// ============================================================================

func TestWithdraw_NoDebt(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	if _, err := f.engine.Deposit(account, f.weth, 5_000_000, 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.engine.Withdraw(account, f.weth, 5_000_000, 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.pools.CollateralOf(account, f.weth); got != 0 {
		t.Errorf("collateral: got %d, want 0", got)
	}
}

func TestWithdraw_MoreThanHeld(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	if _, err := f.engine.Deposit(account, f.weth, 1_000_000, 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	_, err := f.engine.Withdraw(account, f.weth, 2_000_000, 0)
	if !errors.Is(err, mint.ErrInsufficientCollateral) {
		t.Fatalf("got %v, want ErrInsufficientCollateral", err)
	}
}

func TestWithdraw_BlockedByActiveAuction(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	if _, err := f.engine.Deposit(account, f.weth, 5_000_000, 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	f.engine.SetAuctionGuard(guardStub(true))
	_, err := f.engine.Withdraw(account, f.weth, 1_000_000, 0)
	if !errors.Is(err, mint.ErrCollateralLocked) {
		t.Fatalf("got %v, want ErrCollateralLocked", err)
	}
}

func TestWithdraw_BreachesCeiling(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	// $10,000 of collateral, minted to the full $3000 ceiling
	if _, err := f.engine.Deposit(account, f.weth, 5_000_000, 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, _, err := f.engine.Mint(account, f.dusd, 3_000_000_000, 0); err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, err := f.engine.Withdraw(account, f.weth, 1_000_000, 0)
	if !errors.Is(err, mint.ErrUndercollateralized) {
		t.Fatalf("got %v, want ErrUndercollateralized", err)
	}
}

func TestWithdraw_WithinCeiling(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	// $10,000 of collateral against $1500 of debt; dropping to $6000
	// leaves an $1800 ceiling, still above the debt
	if _, err := f.engine.Deposit(account, f.weth, 5_000_000, 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, _, err := f.engine.Mint(account, f.dusd, 1_500_000_000, 0); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if _, err := f.engine.Withdraw(account, f.weth, 2_000_000, 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.pools.CollateralOf(account, f.weth); got != 3_000_000 {
		t.Errorf("collateral: got %d, want 3_000_000", got)
	}
}

// ============================================================================
// Test: MaxToMint / Mint
// ============================================================================

func TestMaxToMint(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	// $9999 of collateral: 30% headroom is $2999.70
	if _, err := f.engine.Deposit(account, f.weth, 4_999_500, 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	max, err := f.engine.MaxToMint(account, f.dusd)
	if err != nil {
		t.Fatalf("max to mint: %v", err)
	}
	if max != 2_999_700_000 {
		t.Errorf("got %d, want 2_999_700_000", max)
	}
}

func TestMaxToMint_NoCollateral(t *testing.T) {
	f := newFixture(t)

	max, err := f.engine.MaxToMint(uuid.New(), f.dusd)
	if err != nil {
		t.Fatalf("max to mint: %v", err)
	}
	if max != 0 {
		t.Errorf("got %d, want 0", max)
	}
}

func TestMaxToMint_NonMintableToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.MaxToMint(uuid.New(), f.weth)
	if !errors.Is(err, mint.ErrTokenNotMintable) {
		t.Fatalf("got %v, want ErrTokenNotMintable", err)
	}
}

func TestMint(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	if _, err := f.engine.Deposit(account, f.weth, 5_000_000, 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	minted, batch, err := f.engine.Mint(account, f.dusd, 1_000_000_000, 100)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if minted != 1_000_000_000 {
		t.Errorf("minted: got %d, want 1_000_000_000", minted)
	}
	if batch == nil || len(batch.Journals) != 1 {
		t.Fatalf("expected one mint journal, got %+v", batch)
	}

	if got := f.pools.DebtOf(account, f.dusd); got != 1_000_000_000 {
		t.Errorf("debt pool: got %d, want 1_000_000_000", got)
	}
	if got := f.stable.BalanceOf(account); got != 1_000_000_000 {
		t.Errorf("stable balance: got %d, want 1_000_000_000", got)
	}
}

func TestMint_ClampsToHeadroom(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	// $10,000 of collateral: asking for $10,000 yields the $3000 ceiling
	if _, err := f.engine.Deposit(account, f.weth, 5_000_000, 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	minted, _, err := f.engine.Mint(account, f.dusd, 10_000_000_000, 0)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if minted != 3_000_000_000 {
		t.Errorf("minted: got %d, want 3_000_000_000", minted)
	}
}

func TestMint_NoCollateral(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.engine.Mint(uuid.New(), f.dusd, 1_000_000, 0)
	if !errors.Is(err, mint.ErrInsufficientCollateral) {
		t.Fatalf("got %v, want ErrInsufficientCollateral", err)
	}
}

func TestMint_SecondMintRespectsExistingDebt(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	if _, err := f.engine.Deposit(account, f.weth, 5_000_000, 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, _, err := f.engine.Mint(account, f.dusd, 2_000_000_000, 0); err != nil {
		t.Fatalf("first mint: %v", err)
	}

	// $1000 of headroom left under the $3000 ceiling
	minted, _, err := f.engine.Mint(account, f.dusd, 5_000_000_000, 0)
	if err != nil {
		t.Fatalf("second mint: %v", err)
	}
	if minted != 1_000_000_000 {
		t.Errorf("minted: got %d, want 1_000_000_000", minted)
	}

	// Ceiling reached: nothing further
	_, _, err = f.engine.Mint(account, f.dusd, 1, 0)
	if !errors.Is(err, mint.ErrInsufficientCollateral) {
		t.Fatalf("third mint: got %v, want ErrInsufficientCollateral", err)
	}
}

// ============================================================================
// Test: Burn
// ============================================================================

func TestBurn(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	if _, err := f.engine.Deposit(account, f.weth, 5_000_000, 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, _, err := f.engine.Mint(account, f.dusd, 2_000_000_000, 0); err != nil {
		t.Fatalf("mint: %v", err)
	}

	f.stable.Approve(account, f.admin, 2_000_000_000)
	if _, err := f.engine.Burn(account, f.dusd, 1_500_000_000, 0); err != nil {
		t.Fatalf("burn: %v", err)
	}

	if got := f.pools.DebtOf(account, f.dusd); got != 500_000_000 {
		t.Errorf("debt pool: got %d, want 500_000_000", got)
	}
	if got := f.stable.BalanceOf(account); got != 500_000_000 {
		t.Errorf("stable balance: got %d, want 500_000_000", got)
	}
	if got := f.stable.TotalSupply(); got != 500_000_000 {
		t.Errorf("total supply: got %d, want 500_000_000", got)
	}
}

func TestBurn_ExceedsDebt(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	if _, err := f.engine.Deposit(account, f.weth, 5_000_000, 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, _, err := f.engine.Mint(account, f.dusd, 1_000_000_000, 0); err != nil {
		t.Fatalf("mint: %v", err)
	}

	f.stable.Approve(account, f.admin, 2_000_000_000)
	_, err := f.engine.Burn(account, f.dusd, 1_000_000_001, 0)
	if !errors.Is(err, mint.ErrExceedsDebt) {
		t.Fatalf("got %v, want ErrExceedsDebt", err)
	}
}

func TestBurn_NoAllowance(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	if _, err := f.engine.Deposit(account, f.weth, 5_000_000, 0); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, _, err := f.engine.Mint(account, f.dusd, 1_000_000_000, 0); err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, err := f.engine.Burn(account, f.dusd, 1_000_000_000, 0)
	if !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("got %v, want token.ErrInsufficientAllowance", err)
	}
}
