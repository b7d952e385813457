package auction_test

import (
	"testing"

	"github.com/google/uuid"

	"CDPLedger/internal/auction"
)

// ============================================================================
// Test: FeeRouter
// ============================================================================

func TestFeeRouter_Split(t *testing.T) {
	router, err := auction.NewFeeRouter(auction.DefaultBurnRatio, uuid.New(), 0)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	burn, fee := router.Split(1_000_000)
	if burn != 950_000 || fee != 50_000 {
		t.Errorf("got burn=%d fee=%d, want 950_000/50_000", burn, fee)
	}
}

func TestFeeRouter_SplitSumsToWhole(t *testing.T) {
	router, err := auction.NewFeeRouter(auction.DefaultBurnRatio, uuid.New(), 0)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	// Amounts that do not divide evenly: the fee share absorbs the remainder
	for _, amount := range []int64{1, 7, 99, 1_000_001, 333_333_333} {
		burn, fee := router.Split(amount)
		if burn+fee != amount {
			t.Errorf("split of %d leaks: burn=%d fee=%d", amount, burn, fee)
		}
		if burn < 0 || fee < 0 {
			t.Errorf("split of %d produced a negative share: burn=%d fee=%d", amount, burn, fee)
		}
	}
}

func TestFeeRouter_SetInitiatorBonus(t *testing.T) {
	router, err := auction.NewFeeRouter(auction.DefaultBurnRatio, uuid.New(), 1_000_000)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	if err := router.SetInitiatorBonus(2_000_000); err != nil {
		t.Fatalf("set bonus: %v", err)
	}
	if got := router.InitiatorBonus(); got != 2_000_000 {
		t.Errorf("got %d, want 2_000_000", got)
	}

	if err := router.SetInitiatorBonus(-1); err == nil {
		t.Error("negative bonus should be rejected")
	}
}

func TestFeeRouter_SetFeeVault(t *testing.T) {
	router, err := auction.NewFeeRouter(auction.DefaultBurnRatio, uuid.New(), 0)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	next := uuid.New()
	router.SetFeeVault(next)
	if got := router.FeeVault(); got != next {
		t.Errorf("got %s, want %s", got, next)
	}
}

func TestFeeRouter_RejectsBadConfig(t *testing.T) {
	if _, err := auction.NewFeeRouter(1_000_001, uuid.New(), 0); err == nil {
		t.Error("burn ratio above 100% should be rejected")
	}
	if _, err := auction.NewFeeRouter(-1, uuid.New(), 0); err == nil {
		t.Error("negative burn ratio should be rejected")
	}
	if _, err := auction.NewFeeRouter(auction.DefaultBurnRatio, uuid.New(), -1); err == nil {
		t.Error("negative initiator bonus should be rejected")
	}
}
