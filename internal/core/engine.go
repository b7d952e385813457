// Package core hosts the serialized command engine. Every state-changing
// operation runs under a single lock, is assigned a global sequence number,
// and emits one envelope per observable effect: a blocking send to the
// persistence worker and a non-blocking send to the outbound publisher.
package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"CDPLedger/internal/auction"
	"CDPLedger/internal/event"
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/mint"
	"CDPLedger/internal/observability"
	"CDPLedger/internal/oracle"
	"CDPLedger/internal/registry"
	"CDPLedger/internal/state"
)

// Output carries one applied operation to the persistence and publish workers.
type Output struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
}

// Clock supplies epoch-second timestamps. The engine never calls time.Now
// in operation logic; the clock is injected so tests control time.
type Clock func() int64

// Engine serializes all commands against the in-memory state.
type Engine struct {
	mu       sync.Mutex
	sequence int64
	clock    Clock

	pools     *ledger.PoolLedger
	validator *ledger.InvariantValidator
	registry  *registry.Registry
	prices    *oracle.MemoryOracle
	valuator  *state.Valuator
	positions *mint.Engine
	auctions  *auction.Manager
	metrics   *observability.Metrics

	debtAsset ledger.AssetID

	persistChan chan<- Output
	publishChan chan<- Output
}

func NewEngine(
	startSequence int64,
	persistChan, publishChan chan<- Output,
	pools *ledger.PoolLedger,
	reg *registry.Registry,
	prices *oracle.MemoryOracle,
	valuator *state.Valuator,
	positions *mint.Engine,
	auctions *auction.Manager,
	debtAsset ledger.AssetID,
	metrics *observability.Metrics,
	clock Clock,
) *Engine {
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	return &Engine{
		sequence:    startSequence,
		clock:       clock,
		pools:       pools,
		validator:   ledger.NewInvariantValidator(pools),
		registry:    reg,
		prices:      prices,
		valuator:    valuator,
		positions:   positions,
		auctions:    auctions,
		debtAsset:   debtAsset,
		metrics:     metrics,
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

// Deposit adds collateral to the account.
func (e *Engine) Deposit(account uuid.UUID, symbol string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	assetID, ok := ledger.GetAssetID(symbol)
	if !ok {
		return e.reject("deposit", "unknown_token", registry.ErrUnknownToken)
	}

	now := e.clock()
	batch, err := e.positions.Deposit(account, assetID, amount, now)
	if err != nil {
		return e.reject("deposit", "precondition", err)
	}

	e.emit(event.EventTypeDeposited, now, event.Deposited{
		Account: account,
		Symbol:  symbol,
		Amount:  amount,
	}, batch)

	e.postCheck(account)
	e.applied("deposit", start)
	return nil
}

// Withdraw releases collateral from the account.
func (e *Engine) Withdraw(account uuid.UUID, symbol string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	assetID, ok := ledger.GetAssetID(symbol)
	if !ok {
		return e.reject("withdraw", "unknown_token", registry.ErrUnknownToken)
	}

	now := e.clock()
	batch, err := e.positions.Withdraw(account, assetID, amount, now)
	if err != nil {
		return e.reject("withdraw", "precondition", err)
	}

	e.emit(event.EventTypeWithdrawn, now, event.Withdrawn{
		Account: account,
		Symbol:  symbol,
		Amount:  amount,
	}, batch)

	e.postCheck(account)
	e.applied("withdraw", start)
	return nil
}

// Mint issues debt tokens against the account's collateral, capped at the
// remaining headroom under the ceiling. Returns the amount actually minted.
func (e *Engine) Mint(account uuid.UUID, requested int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	now := e.clock()

	minted, batch, err := e.positions.Mint(account, e.debtAsset, requested, now)
	if err != nil {
		return 0, e.reject("mint", "precondition", err)
	}

	symbol, _ := ledger.GetAssetSymbol(e.debtAsset)
	e.emit(event.EventTypeMinted, now, event.Minted{
		Account: account,
		Symbol:  symbol,
		Amount:  minted,
	}, batch)

	e.postCheck(account)
	e.applied("mint", start)
	return minted, nil
}

// Burn repays debt by destroying the account's debt tokens.
func (e *Engine) Burn(account uuid.UUID, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	now := e.clock()

	batch, err := e.positions.Burn(account, e.debtAsset, amount, now)
	if err != nil {
		return e.reject("burn", "precondition", err)
	}

	symbol, _ := ledger.GetAssetSymbol(e.debtAsset)
	e.emit(event.EventTypeBurned, now, event.Burned{
		Account: account,
		Symbol:  symbol,
		Amount:  amount,
	}, batch)

	e.postCheck(account)
	e.applied("burn", start)
	return nil
}

// Liquidate opens a liquidation auction on an eligible borrower and returns
// its nonce.
func (e *Engine) Liquidate(borrower, initiator uuid.UUID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	now := e.clock()

	a, batch, err := e.auctions.Start(borrower, initiator, now)
	if err != nil {
		return 0, e.reject("liquidate", "precondition", err)
	}

	e.emit(event.EventTypeAuctionStarted, now, event.AuctionStarted{
		Nonce:    a.Nonce,
		Borrower: borrower,
	}, batch)

	if e.metrics != nil {
		e.metrics.ActiveAuctions.Inc()
		e.metrics.AuctionsStarted.Inc()
	}
	e.postCheck(borrower)
	e.applied("liquidate", start)
	return a.Nonce, nil
}

// Bid buys a percentage of an auction's current offering. Emits BidPlaced,
// and AuctionClosed when the bid exhausts the debt or the collateral.
func (e *Engine) Bid(nonce uint64, bidder uuid.UUID, percentage, bonusPayment int64) (*auction.BidResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	now := e.clock()

	res, err := e.auctions.Bid(nonce, bidder, percentage, bonusPayment, now)
	if err != nil {
		return nil, e.reject("bid", "precondition", err)
	}

	e.emit(event.EventTypeBidPlaced, now, event.BidPlaced{
		Nonce:        nonce,
		Percentage:   percentage,
		Bidder:       bidder,
		OfferedRatio: res.Bid.OfferedRatio,
	}, res.Batch)

	if e.metrics != nil {
		e.metrics.BidsAccepted.Inc()
		e.metrics.DebtRepaid.Add(float64(res.Bid.DebtPaid))
	}

	if res.Closed {
		e.emit(event.EventTypeAuctionClosed, now, event.AuctionClosed{
			Nonce:         nonce,
			Borrower:      res.Borrower,
			DebtExhausted: res.DebtExhausted,
		}, nil)
		if e.metrics != nil {
			e.metrics.ActiveAuctions.Dec()
			outcome := "collateral_exhausted"
			if res.DebtExhausted {
				outcome = "debt_exhausted"
			}
			e.metrics.AuctionsClosed.WithLabelValues(outcome).Inc()
		}
	}

	e.postCheck(res.Borrower)
	e.applied("bid", start)
	return res, nil
}

// SetPrice records an oracle price update. Price updates carry no journal
// entries and no event-log envelope; they only refresh the in-memory table.
func (e *Engine) SetPrice(symbol string, price int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	assetID, ok := ledger.GetAssetID(symbol)
	if !ok {
		return e.reject("price_update", "unknown_token", registry.ErrUnknownToken)
	}
	if err := e.prices.SetPrice(assetID, price); err != nil {
		return e.reject("price_update", "invalid_price", err)
	}
	if e.metrics != nil {
		e.metrics.OraclePrice.WithLabelValues(symbol).Set(float64(price) / 1e6)
	}
	return nil
}

// AdmitToken admits a token to the registry. Admin-only; serialized with
// all other commands so admission flags never change mid-operation.
func (e *Engine) AdmitToken(caller uuid.UUID, symbol, oracleRef string, decimals uint8, depositable, mintableAgainst, tradable bool) (ledger.AssetID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	assetID, err := e.registry.AddToken(caller, symbol, oracleRef, decimals, depositable, mintableAgainst, tradable)
	if err != nil {
		return 0, e.reject("admit_token", "precondition", err)
	}
	return assetID, nil
}

// SetTokenFlags updates a token's admission flags. Admin-only.
func (e *Engine) SetTokenFlags(caller uuid.UUID, assetID ledger.AssetID, depositable, mintableAgainst, tradable bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.registry.SetFlags(caller, assetID, depositable, mintableAgainst, tradable); err != nil {
		return e.reject("set_token_flags", "precondition", err)
	}
	return nil
}

// SetInitiatorBonus updates the base-asset payment required with each bid.
// Serialized so in-flight bids never observe a torn value.
func (e *Engine) SetInitiatorBonus(bonus int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.auctions.SetInitiatorBonus(bonus); err != nil {
		return e.reject("set_initiator_bonus", "precondition", err)
	}
	return nil
}

// SetFeeVault redirects future fee shares to a new wallet.
func (e *Engine) SetFeeVault(vault uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auctions.SetFeeVault(vault)
}

// MaxToMint reports the account's remaining mint headroom in debt-token units.
func (e *Engine) MaxToMint(account uuid.UUID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.MaxToMint(account, e.debtAsset)
}

// CollateralIsEligible reports whether the position is healthy.
func (e *Engine) CollateralIsEligible(account uuid.UUID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auctions.CollateralIsEligible(account)
}

// AuctionPricing returns the live pricing view of an auction.
func (e *Engine) AuctionPricing(nonce uint64) (auction.Pricing, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auctions.GetAuctionPricing(nonce, e.clock())
}

// LiquidationDetails returns the full state view of an auction.
func (e *Engine) LiquidationDetails(nonce uint64) (auction.Details, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auctions.GetLiquidationDetails(nonce, e.clock())
}

// Balances returns the account's collateral and debt portfolios.
func (e *Engine) Balances(account uuid.UUID) (collateral, debt []ledger.AssetAmount) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.CollateralPortfolio(account), e.pools.DebtPortfolio(account)
}

// Sequence returns the next sequence number to be assigned.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// emit assigns the next sequence number and fans the output out: blocking
// to the persistence worker so no event is lost, non-blocking to the
// publisher which can fall behind and catch up from the event log.
func (e *Engine) emit(evtType event.EventType, timestamp int64, payload interface{}, batch *ledger.Batch) {
	envelope := &event.Envelope{
		Sequence:  e.sequence,
		EventType: evtType,
		Timestamp: timestamp,
		Payload:   payload,
	}
	e.sequence++

	output := Output{Envelope: envelope, Batch: batch}

	e.persistChan <- output

	select {
	case e.publishChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.PublishDropped.Inc()
		}
	}

	if e.metrics != nil {
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}
}

// postCheck validates invariants after an applied operation. Pool
// non-negativity is checked on the touched account every time; the global
// zero-sum check is amortized.
func (e *Engine) postCheck(account uuid.UUID) {
	for _, entry := range e.pools.CollateralPortfolio(account) {
		if entry.Amount < 0 {
			panic(fmt.Sprintf("FATAL: negative collateral for %s asset %d: %d", account, entry.AssetID, entry.Amount))
		}
	}
	if err := e.validator.ValidateDebtNonNegative(account, e.debtAsset); err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}

	if e.sequence > 0 && e.sequence%1000 == 0 {
		if err := e.validator.ValidateConservation(); err != nil {
			panic(fmt.Sprintf("FATAL: %v (at seq %d)", err, e.sequence))
		}
	}
}

func (e *Engine) reject(op, reason string, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, reason).Inc()
	}
	return err
}

func (e *Engine) applied(op string, start time.Time) {
	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
