// Package auction implements reverse-Dutch liquidation auctions. An auction
// earmarks a borrower's tradable collateral into escrow and offers a growing
// fraction of what remains; bidders buy a percentage of the current offering
// at oracle value, paying in the settlement token. Repayments are split
// between supply burn and the fee vault; the residual escrow is released to
// the borrower when the debt is covered.
package auction

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/registry"
	"CDPLedger/internal/state"
)

// LiquidationRatio is the eligibility threshold at fpmath.Scale: a position
// becomes liquidatable once its collateral value falls below three times its
// debt value.
const LiquidationRatio = 3_000_000

var (
	ErrNotEligible           = errors.New("auction: collateral still covers the debt")
	ErrAuctionActive         = errors.New("auction: borrower already has an active auction")
	ErrUnknownAuction        = errors.New("auction: unknown auction nonce")
	ErrAuctionClosed         = errors.New("auction: auction is closed")
	ErrNoTradableCollateral  = errors.New("auction: no tradable collateral to offer")
	ErrInvalidPercentage     = errors.New("auction: percentage must be in (0, 100%]")
	ErrBidTooSmall           = errors.New("auction: bid buys no collateral")
	ErrInsufficientBonus     = errors.New("auction: bonus payment below the initiator bonus")
	ErrInsufficientFunds     = errors.New("auction: bidder balance below the required repayment")
	ErrInsufficientAllowance = errors.New("auction: bidder allowance below the required repayment")
)

// SettlementToken is the view of the stable token the auction needs: balance
// and allowance checks, fee transfers, and the restricted burn.
type SettlementToken interface {
	BalanceOf(holder uuid.UUID) int64
	Allowance(owner, spender uuid.UUID) int64
	TransferFrom(spender, owner, dest uuid.UUID, amount int64) error
	BurnFrom(spender, owner uuid.UUID, amount int64) error
}

// BonusPayer moves the base-asset initiator bonus accompanying a bid.
type BonusPayer interface {
	BalanceOf(account uuid.UUID) int64
	Transfer(from, to uuid.UUID, amount int64) error
}

// Status of an auction.
type Status int32

const (
	StatusActive Status = iota
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Bid is an accepted bid, immutable once recorded.
type Bid struct {
	Bidder        uuid.UUID
	AcceptedAt    int64
	Percentage    int64 // at fpmath.Scale
	OfferedRatio  int64 // offering ratio at acceptance, at fpmath.Scale
	DebtPaid      int64 // settlement-token units
	CollateralOut []ledger.AssetAmount
}

// Auction is one liquidation auction. Remaining holds the escrowed
// collateral not yet sold, in the snapshot's asset order; RemainingDebt is
// the USD value still to cover.
type Auction struct {
	Nonce         uint64
	Borrower      uuid.UUID
	Initiator     uuid.UUID
	StartTime     int64
	Status        Status
	Remaining     []ledger.AssetAmount
	RemainingDebt int64
	Bids          []Bid
	BonusPaid     bool
}

func (a *Auction) clone() *Auction {
	out := *a
	out.Remaining = append([]ledger.AssetAmount(nil), a.Remaining...)
	out.Bids = append([]Bid(nil), a.Bids...)
	return &out
}

// BidResult reports the effects of an accepted bid.
type BidResult struct {
	Bid           Bid
	Batch         *ledger.Batch
	Borrower      uuid.UUID
	Closed        bool
	DebtExhausted bool
}

// Manager owns the auction lifecycle. It is safe for concurrent use, though
// the engine serializes all calls that reach it.
type Manager struct {
	mu sync.Mutex

	pools    *ledger.PoolLedger
	valuator *state.Valuator
	registry *registry.Registry
	stable   SettlementToken
	native   BonusPayer
	router   *FeeRouter

	// spenderID is the identity holding bidder allowances and registered
	// as a minter with the settlement token.
	spenderID uuid.UUID
	debtAsset ledger.AssetID

	nextNonce        uint64
	auctions         map[uint64]*Auction
	activeByBorrower map[uuid.UUID]uint64
}

func NewManager(
	pools *ledger.PoolLedger,
	valuator *state.Valuator,
	reg *registry.Registry,
	stable SettlementToken,
	native BonusPayer,
	router *FeeRouter,
	spenderID uuid.UUID,
	debtAsset ledger.AssetID,
) *Manager {
	return &Manager{
		pools:            pools,
		valuator:         valuator,
		registry:         reg,
		stable:           stable,
		native:           native,
		router:           router,
		spenderID:        spenderID,
		debtAsset:        debtAsset,
		nextNonce:        1,
		auctions:         make(map[uint64]*Auction),
		activeByBorrower: make(map[uuid.UUID]uint64),
	}
}

// LiquidationEligible reports whether the borrower can be liquidated:
// outstanding debt whose threefold value exceeds the collateral value.
func (m *Manager) LiquidationEligible(borrower uuid.UUID) (bool, error) {
	debtValue, err := m.valuator.DebtValueUSD(borrower)
	if err != nil {
		return false, err
	}
	if debtValue == 0 {
		return false, nil
	}
	collateralValue, err := m.valuator.CollateralValueUSD(borrower)
	if err != nil {
		return false, err
	}
	return collateralValue < fpmath.ApplyRatio(debtValue, LiquidationRatio), nil
}

// CollateralIsEligible reports whether the position is healthy, i.e. the
// collateral still covers the debt at the liquidation threshold.
func (m *Manager) CollateralIsEligible(borrower uuid.UUID) (bool, error) {
	eligible, err := m.LiquidationEligible(borrower)
	if err != nil {
		return false, err
	}
	return !eligible, nil
}

// HasActiveAuction reports whether the borrower's collateral is earmarked.
func (m *Manager) HasActiveAuction(borrower uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.activeByBorrower[borrower]
	return ok
}

// Start opens a liquidation auction on an eligible borrower. The tradable
// collateral is moved into escrow and the debt value is snapshotted as the
// amount to cover. The nonce is assigned only after every precondition
// holds, so failed attempts consume nothing.
func (m *Manager) Start(borrower, initiator uuid.UUID, now int64) (*Auction, *ledger.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.activeByBorrower[borrower]; ok {
		return nil, nil, ErrAuctionActive
	}

	eligible, err := m.LiquidationEligible(borrower)
	if err != nil {
		return nil, nil, err
	}
	if !eligible {
		return nil, nil, ErrNotEligible
	}

	snapshot := m.valuator.TradableCollateral(borrower)
	if len(snapshot) == 0 {
		return nil, nil, ErrNoTradableCollateral
	}

	debtValue, err := m.valuator.DebtValueUSD(borrower)
	if err != nil {
		return nil, nil, err
	}

	nonce := m.nextNonce
	m.nextNonce++

	batch := ledger.NewBatch(fmt.Sprintf("liquidate:%s:%d", borrower, nonce), now)
	for _, entry := range snapshot {
		batch.Move(
			ledger.EscrowKey(borrower, entry.AssetID),
			ledger.CollateralKey(borrower, entry.AssetID),
			entry.AssetID, entry.Amount, ledger.JournalTypeAuctionLock,
		)
	}
	if err := m.pools.ApplyBatch(batch); err != nil {
		return nil, nil, err
	}

	a := &Auction{
		Nonce:         nonce,
		Borrower:      borrower,
		Initiator:     initiator,
		StartTime:     now,
		Status:        StatusActive,
		Remaining:     snapshot,
		RemainingDebt: debtValue,
	}
	m.auctions[nonce] = a
	m.activeByBorrower[borrower] = nonce

	return a.clone(), batch, nil
}

// Bid buys a percentage of the currently offered slice of every remaining
// collateral token. All preconditions are verified before the first
// mutation; a failed bid leaves the auction untouched.
func (m *Manager) Bid(nonce uint64, bidder uuid.UUID, percentage, bonusPayment, now int64) (*BidResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[nonce]
	if !ok {
		return nil, ErrUnknownAuction
	}
	if a.Status != StatusActive {
		return nil, ErrAuctionClosed
	}
	if percentage <= 0 || percentage > fpmath.RatioOne {
		return nil, ErrInvalidPercentage
	}
	bonus := m.router.InitiatorBonus()
	if bonusPayment < bonus {
		return nil, ErrInsufficientBonus
	}

	ratio := OfferingRatio(now - a.StartTime)

	// Carve out the purchased collateral and price it.
	outs := make([]ledger.AssetAmount, 0, len(a.Remaining))
	prices := make(map[ledger.AssetID]int64, len(a.Remaining))
	var usdValue int64
	for _, entry := range a.Remaining {
		price, err := m.valuator.PriceOf(entry.AssetID)
		if err != nil {
			return nil, err
		}
		prices[entry.AssetID] = price

		slice := fpmath.ApplyRatio(entry.Amount, ratio)
		out := fpmath.ApplyRatio(slice, percentage)
		if out == 0 {
			continue
		}
		outs = append(outs, ledger.AssetAmount{AssetID: entry.AssetID, Amount: out})
		usdValue += fpmath.ValueOf(out, price)
	}
	if len(outs) == 0 || usdValue == 0 {
		return nil, ErrBidTooSmall
	}

	stablePrice, err := m.valuator.PriceOf(m.debtAsset)
	if err != nil {
		return nil, err
	}
	debtRequired := fpmath.ToUnits(usdValue, stablePrice)
	if debtRequired <= 0 {
		return nil, ErrBidTooSmall
	}

	if m.stable.BalanceOf(bidder) < debtRequired {
		return nil, ErrInsufficientFunds
	}
	if m.stable.Allowance(bidder, m.spenderID) < debtRequired {
		return nil, ErrInsufficientAllowance
	}
	if !a.BonusPaid && m.native.BalanceOf(bidder) < bonus {
		return nil, ErrInsufficientBonus
	}

	// Preconditions hold; mutate.
	if !a.BonusPaid {
		if err := m.native.Transfer(bidder, a.Initiator, bonus); err != nil {
			return nil, err
		}
		a.BonusPaid = true
	}

	burnShare, feeShare := m.router.Split(debtRequired)
	if burnShare > 0 {
		if err := m.stable.BurnFrom(m.spenderID, bidder, burnShare); err != nil {
			return nil, err
		}
	}
	if feeShare > 0 {
		if err := m.stable.TransferFrom(m.spenderID, bidder, m.router.FeeVault(), feeShare); err != nil {
			return nil, err
		}
	}

	batch := ledger.NewBatch(fmt.Sprintf("bid:%d:%s", nonce, bidder), now)
	for _, out := range outs {
		batch.Move(
			ledger.ExternalKey(ledger.SubTypeExternalAuctionPayouts, out.AssetID),
			ledger.EscrowKey(a.Borrower, out.AssetID),
			out.AssetID, out.Amount, ledger.JournalTypeLiquidationPayout,
		)
	}

	// The borrower's debt pool shrinks by the repayment, capped at the
	// outstanding balance when the final bid overshoots it.
	ledgerRepay := debtRequired
	if outstanding := m.pools.DebtOf(a.Borrower, m.debtAsset); ledgerRepay > outstanding {
		ledgerRepay = outstanding
	}
	if ledgerRepay > 0 {
		burnLedger, feeLedger := m.router.Split(ledgerRepay)
		if burnLedger > 0 {
			batch.Move(
				ledger.ExternalKey(ledger.SubTypeExternalStableBurned, m.debtAsset),
				ledger.DebtKey(a.Borrower, m.debtAsset),
				m.debtAsset, burnLedger, ledger.JournalTypeLiquidationRepay,
			)
		}
		if feeLedger > 0 {
			batch.Move(
				ledger.FeeVaultKey(m.debtAsset),
				ledger.DebtKey(a.Borrower, m.debtAsset),
				m.debtAsset, feeLedger, ledger.JournalTypeLiquidationFee,
			)
		}
	}

	// Advance the auction state.
	remaining := make([]ledger.AssetAmount, len(a.Remaining))
	copy(remaining, a.Remaining)
	for _, out := range outs {
		for i := range remaining {
			if remaining[i].AssetID == out.AssetID {
				remaining[i].Amount -= out.Amount
				break
			}
		}
	}

	remainingDebt := a.RemainingDebt - usdValue
	if remainingDebt < 0 {
		remainingDebt = 0
	}

	var remainingValue int64
	for _, entry := range remaining {
		remainingValue += fpmath.ValueOf(entry.Amount, prices[entry.AssetID])
	}

	debtExhausted := remainingDebt == 0
	closed := debtExhausted || remainingValue == 0
	if closed {
		// Residual escrow is credited back to the borrower. On a
		// collateral-exhausted close this covers dust too small to
		// carry any valuation.
		for _, entry := range remaining {
			if entry.Amount == 0 {
				continue
			}
			batch.Move(
				ledger.CollateralKey(a.Borrower, entry.AssetID),
				ledger.EscrowKey(a.Borrower, entry.AssetID),
				entry.AssetID, entry.Amount, ledger.JournalTypeCollateralRelease,
			)
		}
	}

	if err := m.pools.ApplyBatch(batch); err != nil {
		return nil, err
	}

	bid := Bid{
		Bidder:        bidder,
		AcceptedAt:    now,
		Percentage:    percentage,
		OfferedRatio:  ratio,
		DebtPaid:      debtRequired,
		CollateralOut: outs,
	}
	a.Bids = append(a.Bids, bid)
	a.RemainingDebt = remainingDebt
	if closed {
		a.Remaining = zeroed(remaining)
	} else {
		a.Remaining = remaining
	}
	if closed {
		a.Status = StatusClosed
		delete(m.activeByBorrower, a.Borrower)
	}

	return &BidResult{
		Bid:           bid,
		Batch:         batch,
		Borrower:      a.Borrower,
		Closed:        closed,
		DebtExhausted: debtExhausted,
	}, nil
}

func zeroed(entries []ledger.AssetAmount) []ledger.AssetAmount {
	out := make([]ledger.AssetAmount, len(entries))
	for i, entry := range entries {
		out[i] = ledger.AssetAmount{AssetID: entry.AssetID}
	}
	return out
}

// Pricing is the live pricing view of an auction.
type Pricing struct {
	OfferingRatio int64
	RemainingDebt int64
	StartTime     int64
}

// GetAuctionPricing returns the offering ratio at the given time together
// with the remaining debt and start time.
func (m *Manager) GetAuctionPricing(nonce uint64, now int64) (Pricing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[nonce]
	if !ok {
		return Pricing{}, ErrUnknownAuction
	}
	return Pricing{
		OfferingRatio: OfferingRatio(now - a.StartTime),
		RemainingDebt: a.RemainingDebt,
		StartTime:     a.StartTime,
	}, nil
}

// Details is the full state view of an auction.
type Details struct {
	Auction       *Auction
	OfferingRatio int64
}

// GetLiquidationDetails returns a copy of the auction with its current
// offering ratio.
func (m *Manager) GetLiquidationDetails(nonce uint64, now int64) (Details, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[nonce]
	if !ok {
		return Details{}, ErrUnknownAuction
	}
	return Details{
		Auction:       a.clone(),
		OfferingRatio: OfferingRatio(now - a.StartTime),
	}, nil
}

// Snapshot returns copies of all auctions and the next nonce to assign.
func (m *Manager) Snapshot() ([]*Auction, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Auction, 0, len(m.auctions))
	for _, a := range m.auctions {
		out = append(out, a.clone())
	}
	return out, m.nextNonce
}

// Restore rebuilds the auction table from a snapshot. Restore path only.
func (m *Manager) Restore(auctions []*Auction, nextNonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.auctions = make(map[uint64]*Auction, len(auctions))
	m.activeByBorrower = make(map[uuid.UUID]uint64)
	for _, a := range auctions {
		m.auctions[a.Nonce] = a.clone()
		if a.Status == StatusActive {
			m.activeByBorrower[a.Borrower] = a.Nonce
		}
	}
	m.nextNonce = nextNonce
}

// SetInitiatorBonus updates the bonus required alongside future bids.
func (m *Manager) SetInitiatorBonus(bonus int64) error {
	return m.router.SetInitiatorBonus(bonus)
}

// SetFeeVault redirects future fee shares to a new wallet.
func (m *Manager) SetFeeVault(vault uuid.UUID) {
	m.router.SetFeeVault(vault)
}

// Get returns a copy of the auction by nonce.
func (m *Manager) Get(nonce uint64) (*Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.auctions[nonce]
	if !ok {
		return nil, ErrUnknownAuction
	}
	return a.clone(), nil
}
