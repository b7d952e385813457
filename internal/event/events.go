// Package event defines the observable effects emitted after each applied
// operation. External indexers consume these through the outbound publisher;
// the persistence worker records them in the event log.
package event

import (
	"github.com/google/uuid"
)

// EventType identifies an observable effect.
type EventType int32

const (
	EventTypeDeposited EventType = iota
	EventTypeWithdrawn
	EventTypeMinted
	EventTypeBurned
	EventTypeAuctionStarted
	EventTypeBidPlaced
	EventTypeAuctionClosed
)

func (t EventType) String() string {
	switch t {
	case EventTypeDeposited:
		return "deposited"
	case EventTypeWithdrawn:
		return "withdrawn"
	case EventTypeMinted:
		return "minted"
	case EventTypeBurned:
		return "burned"
	case EventTypeAuctionStarted:
		return "auction_started"
	case EventTypeBidPlaced:
		return "bid_placed"
	case EventTypeAuctionClosed:
		return "auction_closed"
	default:
		return "unknown"
	}
}

// Envelope wraps a payload with the metadata shared by every event.
type Envelope struct {
	Sequence  int64       `json:"sequence"`
	EventType EventType   `json:"-"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Deposited is emitted after a successful collateral deposit.
type Deposited struct {
	Account uuid.UUID `json:"account"`
	Symbol  string    `json:"symbol"`
	Amount  int64     `json:"amount"`
}

// Withdrawn is emitted after a successful collateral withdrawal.
type Withdrawn struct {
	Account uuid.UUID `json:"account"`
	Symbol  string    `json:"symbol"`
	Amount  int64     `json:"amount"`
}

// Minted is emitted after debt is minted against collateral.
type Minted struct {
	Account uuid.UUID `json:"account"`
	Symbol  string    `json:"symbol"`
	Amount  int64     `json:"amount"`
}

// Burned is emitted after a voluntary debt repayment.
type Burned struct {
	Account uuid.UUID `json:"account"`
	Symbol  string    `json:"symbol"`
	Amount  int64     `json:"amount"`
}

// AuctionStarted is emitted when liquidation begins on a borrower.
type AuctionStarted struct {
	Nonce    uint64    `json:"nonce"`
	Borrower uuid.UUID `json:"borrower"`
}

// BidPlaced is emitted for every accepted bid.
type BidPlaced struct {
	Nonce        uint64    `json:"nonce"`
	Percentage   int64     `json:"percentage"`
	Bidder       uuid.UUID `json:"bidder"`
	OfferedRatio int64     `json:"offered_ratio"`
}

// AuctionClosed is emitted when an auction exhausts its debt or collateral.
type AuctionClosed struct {
	Nonce         uint64    `json:"nonce"`
	Borrower      uuid.UUID `json:"borrower"`
	DebtExhausted bool      `json:"debt_exhausted"`
}
