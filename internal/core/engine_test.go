package core_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"CDPLedger/internal/access"
	"CDPLedger/internal/auction"
	"CDPLedger/internal/core"
	"CDPLedger/internal/event"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/mint"
	"CDPLedger/internal/oracle"
	"CDPLedger/internal/registry"
	"CDPLedger/internal/state"
	"CDPLedger/internal/token"
)

// ============================================================================
// Fixture
// ============================================================================

type fixture struct {
	engine      *core.Engine
	persistChan chan core.Output
	publishChan chan core.Output
	stable      *token.MemStable
	native      *token.MemNative
	pools       *ledger.PoolLedger

	admin uuid.UUID
	now   int64

	dusd ledger.AssetID
	weth ledger.AssetID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		admin:       uuid.New(),
		now:         1_000,
		persistChan: make(chan core.Output, 16),
		publishChan: make(chan core.Output, 16),
	}

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
	prices := oracle.NewMemoryOracle()
	valuator := state.NewValuator(f.pools, prices, reg)
	f.stable = token.NewMemStable()
	f.stable.AddMinter(f.admin)
	f.native = token.NewMemNative()

	positions := mint.NewEngine(f.pools, valuator, reg, f.stable, f.admin)
	router, err := auction.NewFeeRouter(auction.DefaultBurnRatio, uuid.New(), 1_000_000)
	if err != nil {
		t.Fatalf("fee router: %v", err)
	}
	auctions := auction.NewManager(f.pools, valuator, reg, f.stable, f.native, router, f.admin, f.dusd)
	positions.SetAuctionGuard(auctions)

	f.engine = core.NewEngine(0, f.persistChan, f.publishChan,
		f.pools, reg, prices, valuator, positions, auctions, f.dusd, nil,
		func() int64 { return f.now })

	if err := f.engine.SetPrice("DUSD", 1_000_000); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := f.engine.SetPrice("WETH", 2_000_000_000); err != nil {
		t.Fatalf("set price: %v", err)
	}
	return f
}

func (f *fixture) nextPersisted(t *testing.T) core.Output {
	t.Helper()
	select {
	case out := <-f.persistChan:
		return out
	default:
		t.Fatal("no output on the persistence channel")
		return core.Output{}
	}
}

func (f *fixture) fundBidder(t *testing.T, bidder uuid.UUID, stable, native int64) {
	t.Helper()
	if err := f.stable.Mint(f.admin, bidder, stable); err != nil {
		t.Fatalf("fund bidder: %v", err)
	}
	f.stable.Approve(bidder, f.admin, stable)
	f.native.Credit(bidder, native)
}

// ============================================================================
// Test: sequencing and fan-out
// ============================================================================

func TestEngine_AssignsSequence(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	if err := f.engine.Deposit(account, "WETH", 5_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	out := f.nextPersisted(t)
	if out.Envelope.Sequence != 0 {
		t.Errorf("first sequence: got %d, want 0", out.Envelope.Sequence)
	}
	if out.Envelope.EventType != event.EventTypeDeposited {
		t.Errorf("event type: got %v, want deposited", out.Envelope.EventType)
	}
	if out.Envelope.Timestamp != 1_000 {
		t.Errorf("timestamp: got %d, want injected clock value 1_000", out.Envelope.Timestamp)
	}
	if f.engine.Sequence() != 1 {
		t.Errorf("next sequence: got %d, want 1", f.engine.Sequence())
	}
}

func TestEngine_FansOutToBothChannels(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	if err := f.engine.Deposit(account, "WETH", 5_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	persisted := f.nextPersisted(t)
	select {
	case published := <-f.publishChan:
		if published.Envelope != persisted.Envelope {
			t.Error("publish and persist outputs should share the envelope")
		}
	default:
		t.Fatal("no output on the publish channel")
	}
}

func TestEngine_PublishBackpressureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	// Fill the publish channel so the next send would block
	for i := 0; i < cap(f.publishChan); i++ {
		f.publishChan <- core.Output{}
	}

	if err := f.engine.Deposit(account, "WETH", 5_000_000); err != nil {
		t.Fatalf("deposit with full publish channel: %v", err)
	}

	// The persistence side still received the event
	out := f.nextPersisted(t)
	if out.Envelope.EventType != event.EventTypeDeposited {
		t.Errorf("event type: got %v, want deposited", out.Envelope.EventType)
	}
}

func TestEngine_RejectionEmitsNothing(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Deposit(uuid.New(), "UNKNOWN_SYMBOL", 1)
	if !errors.Is(err, registry.ErrUnknownToken) {
		t.Fatalf("got %v, want ErrUnknownToken", err)
	}

	select {
	case out := <-f.persistChan:
		t.Fatalf("rejected operation emitted %v", out.Envelope.EventType)
	default:
	}
	if f.engine.Sequence() != 0 {
		t.Errorf("rejection consumed a sequence number: %d", f.engine.Sequence())
	}
}

func TestEngine_SetPriceEmitsNoEvent(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.SetPrice("WETH", 1_900_000_000); err != nil {
		t.Fatalf("set price: %v", err)
	}

	select {
	case <-f.persistChan:
		t.Fatal("price updates must not enter the event log")
	default:
	}
	if f.engine.Sequence() != 0 {
		t.Errorf("price update consumed a sequence number: %d", f.engine.Sequence())
	}
}

func TestEngine_SetPrice_Rejections(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.SetPrice("UNKNOWN_SYMBOL", 1); !errors.Is(err, registry.ErrUnknownToken) {
		t.Errorf("unknown symbol: got %v, want ErrUnknownToken", err)
	}
	if err := f.engine.SetPrice("WETH", 0); err == nil {
		t.Error("zero price should be rejected")
	}
}

// ============================================================================
// Test: full lifecycle
// ============================================================================

func TestEngine_DepositMintLiquidateBid(t *testing.T) {
	f := newFixture(t)
	borrower := uuid.New()
	initiator := uuid.New()
	bidder := uuid.New()
	f.fundBidder(t, bidder, 20_000_000_000, 2_000_000)

	// $20,000 of collateral, minted to the $6000 ceiling
	if err := f.engine.Deposit(borrower, "WETH", 10_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	minted, err := f.engine.Mint(borrower, 10_000_000_000)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if minted != 6_000_000_000 {
		t.Fatalf("minted: got %d, want 6_000_000_000", minted)
	}

	// Healthy position cannot be liquidated
	if _, err := f.engine.Liquidate(borrower, initiator); !errors.Is(err, auction.ErrNotEligible) {
		t.Fatalf("healthy liquidate: got %v, want ErrNotEligible", err)
	}

	// Price drop puts the position underwater
	if err := f.engine.SetPrice("WETH", 1_500_000_000); err != nil {
		t.Fatalf("set price: %v", err)
	}
	nonce, err := f.engine.Liquidate(borrower, initiator)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if nonce != 1 {
		t.Errorf("nonce: got %d, want 1", nonce)
	}

	// Withdrawals are blocked while the auction runs
	if err := f.engine.Withdraw(borrower, "WETH", 1); !errors.Is(err, mint.ErrCollateralLocked) {
		t.Errorf("withdraw during auction: got %v, want ErrCollateralLocked", err)
	}

	// Two full-percentage bids at the opening ratio clear the debt
	if _, err := f.engine.Bid(nonce, bidder, 1_000_000, 1_000_000); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	res, err := f.engine.Bid(nonce, bidder, 1_000_000, 1_000_000)
	if err != nil {
		t.Fatalf("second bid: %v", err)
	}
	if !res.Closed || !res.DebtExhausted {
		t.Fatalf("expected debt-exhausted close, got %+v", res)
	}

	// The event log saw the whole story in order, contiguously numbered
	wantTypes := []event.EventType{
		event.EventTypeDeposited,
		event.EventTypeMinted,
		event.EventTypeAuctionStarted,
		event.EventTypeBidPlaced,
		event.EventTypeBidPlaced,
		event.EventTypeAuctionClosed,
	}
	for i, want := range wantTypes {
		out := f.nextPersisted(t)
		if out.Envelope.EventType != want {
			t.Errorf("event %d: got %v, want %v", i, out.Envelope.EventType, want)
		}
		if out.Envelope.Sequence != int64(i) {
			t.Errorf("event %d: sequence %d, want %d", i, out.Envelope.Sequence, i)
		}
	}

	// The borrower is whole again: residual collateral free, debt zero
	collateral, debt := f.engine.Balances(borrower)
	if len(collateral) != 1 || collateral[0].Amount != 4_900_000 {
		t.Errorf("residual collateral: got %+v, want 4.9 WETH", collateral)
	}
	if len(debt) != 0 {
		t.Errorf("debt after close: got %+v, want none", debt)
	}
}

func TestEngine_BurnRepaysDebt(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	if err := f.engine.Deposit(account, "WETH", 10_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.engine.Mint(account, 2_000_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	f.stable.Approve(account, f.admin, 2_000_000_000)
	if err := f.engine.Burn(account, 2_000_000_000); err != nil {
		t.Fatalf("burn: %v", err)
	}

	_, debt := f.engine.Balances(account)
	if len(debt) != 0 {
		t.Errorf("debt after full burn: got %+v, want none", debt)
	}
}

func TestEngine_AdmitTokenRequiresAdmin(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.AdmitToken(uuid.New(), "WSOL", "oracle:wsol", 9, true, false, true); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("stranger: got %v, want ErrUnauthorized", err)
	}
	if _, err := f.engine.AdmitToken(f.admin, "WSOL", "oracle:wsol", 9, true, false, true); err != nil {
		t.Fatalf("admin: %v", err)
	}
}

func TestEngine_MaxToMintView(t *testing.T) {
	f := newFixture(t)
	account := uuid.New()

	if err := f.engine.Deposit(account, "WETH", 10_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	max, err := f.engine.MaxToMint(account)
	if err != nil {
		t.Fatalf("max to mint: %v", err)
	}
	if max != 6_000_000_000 {
		t.Errorf("got %d, want 6_000_000_000", max)
	}
}

// ============================================================================
// Test: snapshot / restore
// ============================================================================

func TestEngine_SnapshotRestore(t *testing.T) {
	f := newFixture(t)
	borrower := uuid.New()
	initiator := uuid.New()

	if err := f.engine.Deposit(borrower, "WETH", 10_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.engine.Mint(borrower, 6_000_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.engine.SetPrice("WETH", 1_500_000_000); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if _, err := f.engine.Liquidate(borrower, initiator); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	snap := f.engine.CreateSnapshotState()
	if snap.Sequence != 3 {
		t.Errorf("snapshot sequence: got %d, want 3", snap.Sequence)
	}
	if snap.NextNonce != 2 {
		t.Errorf("snapshot next nonce: got %d, want 2", snap.NextNonce)
	}

	// A second engine restores the snapshot and carries on
	g := newFixture(t)
	if err := g.engine.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if g.engine.Sequence() != 3 {
		t.Errorf("restored sequence: got %d, want 3", g.engine.Sequence())
	}
	if got := g.pools.EscrowOf(borrower, g.weth); got != 10_000_000 {
		t.Errorf("restored escrow: got %d, want 10_000_000", got)
	}

	details, err := g.engine.LiquidationDetails(1)
	if err != nil {
		t.Fatalf("details after restore: %v", err)
	}
	if details.Auction.Borrower != borrower || details.Auction.Status != auction.StatusActive {
		t.Errorf("restored auction: %+v", details.Auction)
	}

	// A bid against the restored engine works end to end
	bidder := uuid.New()
	g.fundBidder(t, bidder, 20_000_000_000, 2_000_000)
	if _, err := g.engine.Bid(1, bidder, 1_000_000, 1_000_000); err != nil {
		t.Fatalf("bid after restore: %v", err)
	}
}
