// Package state derives position views from the ledger. A Position is not
// stored anywhere: it is the set of an account's nonzero pool balances,
// valued on demand against the price oracle.
package state

import (
	"fmt"

	"github.com/google/uuid"

	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/oracle"
	"CDPLedger/internal/registry"
)

// Valuator aggregates an account's collateral and debt value in USD.
// It depends on the ledger, oracle and registry only; the mint engine and
// the liquidation auction depend on it, never the reverse.
type Valuator struct {
	pools    *ledger.PoolLedger
	prices   oracle.PriceOracle
	registry *registry.Registry
}

func NewValuator(pools *ledger.PoolLedger, prices oracle.PriceOracle, reg *registry.Registry) *Valuator {
	return &Valuator{
		pools:    pools,
		prices:   prices,
		registry: reg,
	}
}

// CollateralValueUSD sums amount*price over the account's collateral pool.
// Every deposited token counts, tradable or not.
func (v *Valuator) CollateralValueUSD(account uuid.UUID) (int64, error) {
	return v.valuePortfolio(v.pools.CollateralPortfolio(account))
}

// DebtValueUSD sums amount*price over the account's debt pool.
func (v *Valuator) DebtValueUSD(account uuid.UUID) (int64, error) {
	return v.valuePortfolio(v.pools.DebtPortfolio(account))
}

func (v *Valuator) valuePortfolio(portfolio []ledger.AssetAmount) (int64, error) {
	var total int64
	for _, entry := range portfolio {
		price, err := v.prices.GetPrice(entry.AssetID)
		if err != nil {
			return 0, fmt.Errorf("value portfolio: %w", err)
		}
		total += fpmath.ValueOf(entry.Amount, price)
	}
	return total, nil
}

// TradableCollateral returns the account's nonzero collateral balances in
// tradable tokens only. This is the snapshot a liquidation auction offers
// to bidders; non-tradable collateral never appears in it.
func (v *Valuator) TradableCollateral(account uuid.UUID) []ledger.AssetAmount {
	portfolio := v.pools.CollateralPortfolio(account)
	out := make([]ledger.AssetAmount, 0, len(portfolio))
	for _, entry := range portfolio {
		if v.registry.IsTradable(entry.AssetID) {
			out = append(out, entry)
		}
	}
	return out
}

// PriceOf returns the oracle price of an asset.
func (v *Valuator) PriceOf(assetID ledger.AssetID) (int64, error) {
	return v.prices.GetPrice(assetID)
}

// ValueAt prices a single asset amount in USD.
func (v *Valuator) ValueAt(assetID ledger.AssetID, amount int64) (int64, error) {
	price, err := v.prices.GetPrice(assetID)
	if err != nil {
		return 0, err
	}
	return fpmath.ValueOf(amount, price), nil
}
