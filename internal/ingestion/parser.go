package ingestion

import (
	"encoding/json"
	"fmt"
)

// PriceUpdate is the typed form of an inbound oracle price message.
type PriceUpdate struct {
	Symbol      string
	Price       int64 // fixed-point USD at six decimals
	TimestampUs int64
}

// priceUpdateJSON is the wire format received from NATS. Field names use
// snake_case to match upstream producers.
type priceUpdateJSON struct {
	Symbol      string `json:"symbol"`
	Price       int64  `json:"price"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParsePriceUpdate validates and converts a raw NATS price message.
func ParsePriceUpdate(raw RawPrice) (PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return PriceUpdate{}, fmt.Errorf("parse PriceUpdate: %w", err)
	}

	if j.Symbol == "" {
		return PriceUpdate{}, fmt.Errorf("parse PriceUpdate: empty symbol")
	}
	if j.Price <= 0 {
		return PriceUpdate{}, fmt.Errorf("parse PriceUpdate: non-positive price %d for %s", j.Price, j.Symbol)
	}

	return PriceUpdate{
		Symbol:      j.Symbol,
		Price:       j.Price,
		TimestampUs: j.TimestampUs,
	}, nil
}
