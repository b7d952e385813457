package registry_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"CDPLedger/internal/access"
	"CDPLedger/internal/registry"
)

// ============================================================================
// Test: token admission
// ============================================================================

func TestAddToken(t *testing.T) {
	admin := uuid.New()
	reg := registry.NewRegistry(access.NewController(admin))

	assetID, err := reg.AddToken(admin, "WETH", "oracle:weth", 6, true, false, true)
	if err != nil {
		t.Fatalf("add token: %v", err)
	}

	tok, err := reg.Get(assetID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tok.Symbol != "WETH" || !tok.Depositable || tok.MintableAgainst || !tok.Tradable {
		t.Errorf("token metadata: %+v", tok)
	}
}

func TestAddToken_Unauthorized(t *testing.T) {
	reg := registry.NewRegistry(access.NewController(uuid.New()))

	_, err := reg.AddToken(uuid.New(), "WETH", "oracle:weth", 6, true, false, true)
	if !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestAddToken_EmptySymbol(t *testing.T) {
	admin := uuid.New()
	reg := registry.NewRegistry(access.NewController(admin))

	if _, err := reg.AddToken(admin, "", "oracle:x", 6, true, false, true); err == nil {
		t.Fatal("empty symbol should be rejected")
	}
}

func TestAddToken_ReAdmissionKeepsIdentity(t *testing.T) {
	admin := uuid.New()
	reg := registry.NewRegistry(access.NewController(admin))

	first, err := reg.AddToken(admin, "WETH", "oracle:weth", 6, true, false, true)
	if err != nil {
		t.Fatalf("first admission: %v", err)
	}
	second, err := reg.AddToken(admin, "WETH", "oracle:weth", 6, true, false, false)
	if err != nil {
		t.Fatalf("second admission: %v", err)
	}

	if first != second {
		t.Errorf("re-admission changed the asset ID: %d vs %d", first, second)
	}
	if reg.IsTradable(first) {
		t.Error("re-admission should update the flags")
	}
}

// ============================================================================
// Test: flags
// ============================================================================

func TestSetFlags(t *testing.T) {
	admin := uuid.New()
	reg := registry.NewRegistry(access.NewController(admin))

	assetID, err := reg.AddToken(admin, "WETH", "oracle:weth", 6, true, false, true)
	if err != nil {
		t.Fatalf("add token: %v", err)
	}

	if err := reg.SetFlags(admin, assetID, false, true, false); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	if reg.CanDeposit(assetID) || !reg.CanMintAgainst(assetID) || reg.IsTradable(assetID) {
		t.Error("flags not applied")
	}
}

func TestSetFlags_UnknownToken(t *testing.T) {
	admin := uuid.New()
	reg := registry.NewRegistry(access.NewController(admin))

	err := reg.SetFlags(admin, 9999, true, true, true)
	if !errors.Is(err, registry.ErrUnknownToken) {
		t.Fatalf("got %v, want ErrUnknownToken", err)
	}
}

func TestSetFlags_Unauthorized(t *testing.T) {
	admin := uuid.New()
	reg := registry.NewRegistry(access.NewController(admin))

	assetID, err := reg.AddToken(admin, "WETH", "oracle:weth", 6, true, false, true)
	if err != nil {
		t.Fatalf("add token: %v", err)
	}

	if err := reg.SetFlags(uuid.New(), assetID, false, false, false); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestFlagQueries_UnknownToken(t *testing.T) {
	reg := registry.NewRegistry(access.NewController(uuid.New()))

	if reg.CanDeposit(9999) || reg.CanMintAgainst(9999) || reg.IsTradable(9999) || reg.Known(9999) {
		t.Error("unknown token should answer false everywhere")
	}
}
