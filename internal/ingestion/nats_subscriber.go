// Package ingestion owns the NATS surfaces: the inbound oracle price stream
// and the outbound event publisher.
package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// PriceSubscriber subscribes to the oracle price subjects on JetStream and
// feeds raw messages into the price channel for the shell to parse and
// apply. Prices are the only inbound stream; every other operation arrives
// through the HTTP API.
type PriceSubscriber struct {
	js        jetstream.JetStream
	priceChan chan<- RawPrice
	consumers []jetstream.ConsumeContext
}

// RawPrice is an unparsed price message from NATS.
type RawPrice struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after successful processing
	NakFunc   func() // NAK on failure (will be redelivered)
}

const (
	PriceStreamName   = "CDP_PRICES"
	PriceSubject      = "cdp.prices.>"
	PriceConsumerName = "cdp-prices"
)

func NewPriceSubscriber(js jetstream.JetStream, priceChan chan<- RawPrice) *PriceSubscriber {
	return &PriceSubscriber{
		js:        js,
		priceChan: priceChan,
	}
}

// Subscribe creates the durable price consumer. Explicit ACK, max_deliver=5,
// ack_wait=30s. Stale redeliveries are harmless: applying an old price twice
// is idempotent and the next update overwrites it.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, PriceStreamName, jetstream.ConsumerConfig{
		Durable:       PriceConsumerName,
		FilterSubject: PriceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", PriceConsumerName, err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawPrice{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { msg.Ack() },
			NakFunc:   func() { msg.Nak() },
		}

		select {
		case ps.priceChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", PriceConsumerName, err)
	}

	ps.consumers = append(ps.consumers, consumerContext)
	log.Printf("INFO: subscribed to %s (consumer=%s)", PriceSubject, PriceConsumerName)
	return nil
}

// EnsurePriceStream creates the price stream if it doesn't exist.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      PriceStreamName,
		Subjects:  []string{PriceSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", PriceStreamName, err)
	}
	log.Printf("INFO: ensured stream %s", PriceStreamName)
	return nil
}

// Stop gracefully stops all consumers.
func (ps *PriceSubscriber) Stop() {
	for _, cc := range ps.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS price subscriber stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
