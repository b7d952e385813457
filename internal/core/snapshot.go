package core

import (
	"CDPLedger/internal/auction"
	"CDPLedger/internal/ledger"
)

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields; the
// orchestrator converts between the two.
type SnapshotState struct {
	Sequence  int64
	NextNonce uint64
	Balances  map[ledger.AccountKey]int64
	Prices    map[ledger.AssetID]int64
	Auctions  []*auction.Auction
}

// CreateSnapshotState captures the current in-memory state.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	auctions, nextNonce := e.auctions.Snapshot()
	return &SnapshotState{
		Sequence:  e.sequence,
		NextNonce: nextNonce,
		Balances:  e.pools.Snapshot(),
		Prices:    e.prices.Snapshot(),
		Auctions:  auctions,
	}
}

// RestoreFromSnapshot rebuilds the in-memory state on warm restart. Token
// admission is config-driven and must already have happened, so every
// asset referenced by the snapshot resolves to the same AssetID.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = snap.Sequence

	for key, balance := range snap.Balances {
		e.pools.SetBalance(key, balance)
	}
	for assetID, price := range snap.Prices {
		if err := e.prices.SetPrice(assetID, price); err != nil {
			return err
		}
	}
	e.auctions.Restore(snap.Auctions, snap.NextNonce)

	return e.validator.ValidateConservation()
}
