// Package oracle provides the price-feed collaborator consumed by the
// valuator and the liquidation auction. Prices are USD fixed-point values
// at the shared six-decimal scale.
package oracle

import (
	"errors"
	"fmt"
	"sync"

	"CDPLedger/internal/ledger"
)

var ErrPriceUnavailable = errors.New("oracle: price unavailable")

// PriceOracle resolves a token to its current USD price.
type PriceOracle interface {
	GetPrice(assetID ledger.AssetID) (int64, error)
}

// MemoryOracle is the in-process price table, updated by the inbound price
// stream. Safe for concurrent reads against a single writer.
type MemoryOracle struct {
	mu     sync.RWMutex
	prices map[ledger.AssetID]int64
}

func NewMemoryOracle() *MemoryOracle {
	return &MemoryOracle{
		prices: make(map[ledger.AssetID]int64),
	}
}

// SetPrice records the latest price for an asset. Non-positive prices are
// rejected: a zero price would let debt positions value to nothing.
func (o *MemoryOracle) SetPrice(assetID ledger.AssetID, price int64) error {
	if price <= 0 {
		return fmt.Errorf("oracle: non-positive price %d for asset %d", price, assetID)
	}

	o.mu.Lock()
	o.prices[assetID] = price
	o.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the price table.
func (o *MemoryOracle) Snapshot() map[ledger.AssetID]int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[ledger.AssetID]int64, len(o.prices))
	for assetID, price := range o.prices {
		out[assetID] = price
	}
	return out
}

func (o *MemoryOracle) GetPrice(assetID ledger.AssetID) (int64, error) {
	o.mu.RLock()
	price, ok := o.prices[assetID]
	o.mu.RUnlock()

	if !ok {
		symbol, _ := ledger.GetAssetSymbol(assetID)
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	return price, nil
}
