package event_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"CDPLedger/internal/event"
)

func TestEventType_String(t *testing.T) {
	cases := []struct {
		evtType event.EventType
		want    string
	}{
		{event.EventTypeDeposited, "deposited"},
		{event.EventTypeWithdrawn, "withdrawn"},
		{event.EventTypeMinted, "minted"},
		{event.EventTypeBurned, "burned"},
		{event.EventTypeAuctionStarted, "auction_started"},
		{event.EventTypeBidPlaced, "bid_placed"},
		{event.EventTypeAuctionClosed, "auction_closed"},
		{event.EventType(99), "unknown"},
	}

	for _, tc := range cases {
		if got := tc.evtType.String(); got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
	}
}

func TestAuctionStarted_JSONKeys(t *testing.T) {
	payload := event.AuctionStarted{
		Nonce:    7,
		Borrower: uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// The query service filters auction history on payload->>'nonce'
	if _, ok := decoded["nonce"]; !ok {
		t.Error("payload must carry a nonce key")
	}
	if _, ok := decoded["borrower"]; !ok {
		t.Error("payload must carry a borrower key")
	}
}
