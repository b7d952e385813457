package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types: the two pools of a position, plus the escrow holding
	// collateral earmarked by an active liquidation auction
	SubTypeCollateral AccountSubType = iota
	SubTypeDebt
	SubTypeAuctionEscrow

	// System sub-types
	SubTypeSystemFeeVault

	// External boundary sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
	SubTypeExternalStableMinted
	SubTypeExternalStableBurned
	SubTypeExternalAuctionPayouts
)

// AssetID maps token symbols to numeric IDs for compact keys.
// Assets are registered at runtime when the token registry admits a token.
type AssetID uint16

var (
	assetMu   sync.RWMutex
	assetToID = map[string]AssetID{}
	idToAsset = map[AssetID]string{}
	nextAsset AssetID = 1
)

// RegisterAsset assigns a fresh AssetID to a symbol, or returns the
// existing ID if the symbol is already known. Identity is immutable.
func RegisterAsset(symbol string) AssetID {
	assetMu.Lock()
	defer assetMu.Unlock()

	if id, ok := assetToID[symbol]; ok {
		return id
	}
	id := nextAsset
	nextAsset++
	assetToID[symbol] = id
	idToAsset[id] = symbol
	return id
}

func GetAssetID(symbol string) (AssetID, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	id, ok := assetToID[symbol]
	return id, ok
}

func GetAssetSymbol(id AssetID) (string, bool) {
	assetMu.RLock()
	defer assetMu.RUnlock()
	symbol, ok := idToAsset[id]
	return symbol, ok
}

// AccountKey is the in-memory key for pool balances (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for user accounts, zero for system/external
	SubType  AccountSubType
	AssetID  AssetID
}

// CollateralKey returns the collateral-pool key for an account.
func CollateralKey(account uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: account,
		SubType:  SubTypeCollateral,
		AssetID:  assetID,
	}
}

// DebtKey returns the debt-pool key for an account.
func DebtKey(account uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: account,
		SubType:  SubTypeDebt,
		AssetID:  assetID,
	}
}

// EscrowKey returns the auction-escrow key for an account.
func EscrowKey(account uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: account,
		SubType:  SubTypeAuctionEscrow,
		AssetID:  assetID,
	}
}

// FeeVaultKey returns the system fee-vault key for an asset.
func FeeVaultKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: SubTypeSystemFeeVault,
		AssetID: assetID,
	}
}

// ExternalKey returns a boundary account key.
func ExternalKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	symbol, ok := GetAssetSymbol(k.AssetID)
	if !ok {
		symbol = fmt.Sprintf("asset#%d", k.AssetID)
	}

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), symbol)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), symbol)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), symbol)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeDebt:
		return "debt"
	case SubTypeAuctionEscrow:
		return "auction_escrow"
	case SubTypeSystemFeeVault:
		return "fee_vault"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	case SubTypeExternalStableMinted:
		return "stable_minted"
	case SubTypeExternalStableBurned:
		return "stable_burned"
	case SubTypeExternalAuctionPayouts:
		return "auction_payouts"
	default:
		return "unknown"
	}
}
