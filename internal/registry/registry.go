// Package registry is the token admission registry: which tokens may be
// deposited, minted against, or traded to bidders during liquidation.
// Admission flags are admin-controlled and mutable; token identity is not.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"CDPLedger/internal/access"
	"CDPLedger/internal/ledger"
)

var ErrUnknownToken = errors.New("registry: unknown token")

// Token holds the admission metadata for one collateral or debt asset.
type Token struct {
	AssetID         ledger.AssetID
	Symbol          string
	Decimals        uint8
	OracleRef       string // identifier of the upstream price source
	Depositable     bool
	MintableAgainst bool
	Tradable        bool
}

// Registry is the in-memory token admission table.
type Registry struct {
	mu     sync.RWMutex
	tokens map[ledger.AssetID]*Token
	acl    *access.Controller
}

func NewRegistry(acl *access.Controller) *Registry {
	return &Registry{
		tokens: make(map[ledger.AssetID]*Token),
		acl:    acl,
	}
}

// AddToken admits a token. Admin-only. The symbol is bound to a fresh
// AssetID on first admission; re-adding an existing symbol updates the
// mutable flags but never the identity.
func (r *Registry) AddToken(caller uuid.UUID, symbol, oracleRef string, decimals uint8, depositable, mintableAgainst, tradable bool) (ledger.AssetID, error) {
	if err := r.acl.Require(caller); err != nil {
		return 0, err
	}
	if symbol == "" {
		return 0, fmt.Errorf("registry: empty token symbol")
	}

	assetID := ledger.RegisterAsset(symbol)

	r.mu.Lock()
	r.tokens[assetID] = &Token{
		AssetID:         assetID,
		Symbol:          symbol,
		Decimals:        decimals,
		OracleRef:       oracleRef,
		Depositable:     depositable,
		MintableAgainst: mintableAgainst,
		Tradable:        tradable,
	}
	r.mu.Unlock()

	return assetID, nil
}

// SetFlags updates the mutable admission flags of an admitted token. Admin-only.
func (r *Registry) SetFlags(caller uuid.UUID, assetID ledger.AssetID, depositable, mintableAgainst, tradable bool) error {
	if err := r.acl.Require(caller); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[assetID]
	if !ok {
		return ErrUnknownToken
	}
	tok.Depositable = depositable
	tok.MintableAgainst = mintableAgainst
	tok.Tradable = tradable
	return nil
}

// Get returns a copy of the token metadata.
func (r *Registry) Get(assetID ledger.AssetID) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tok, ok := r.tokens[assetID]
	if !ok {
		return Token{}, ErrUnknownToken
	}
	return *tok, nil
}

// CanDeposit reports whether the token may be deposited as collateral.
func (r *Registry) CanDeposit(assetID ledger.AssetID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.tokens[assetID]
	return ok && tok.Depositable
}

// CanMintAgainst reports whether debt may be minted in this token.
func (r *Registry) CanMintAgainst(assetID ledger.AssetID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.tokens[assetID]
	return ok && tok.MintableAgainst
}

// IsTradable reports whether the token is distributable to bidders during
// liquidation. Non-tradable collateral still counts toward valuation.
func (r *Registry) IsTradable(assetID ledger.AssetID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.tokens[assetID]
	return ok && tok.Tradable
}

// Known reports whether the token has been admitted at all.
func (r *Registry) Known(assetID ledger.AssetID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tokens[assetID]
	return ok
}
