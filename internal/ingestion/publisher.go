package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"CDPLedger/internal/observability"
)

// OutboundPublisher publishes processed events to NATS for downstream
// consumers (indexers, alerting, the liquidation keeper). Subjects follow
// the pattern cdp.events.{event_type}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
}

// PublishableEvent is a processed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence  int64       `json:"sequence"`
	EventType string      `json:"event_type"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

const (
	EventStreamName    = "CDP_EVENTS"
	eventSubjectPrefix = "cdp.events"
)

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", evt.Sequence, err)
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
				// Non-fatal: downstream consumers can query the event log directly
				continue
			}
			if op.metrics != nil {
				op.metrics.EventsPublished.WithLabelValues(evt.EventType).Inc()
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", eventSubjectPrefix, evt.EventType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      EventStreamName,
		Subjects:  []string{eventSubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Printf("INFO: ensured outbound stream %s", EventStreamName)
	return nil
}
