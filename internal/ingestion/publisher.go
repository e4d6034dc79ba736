// Package ingestion carries engine events out to downstream consumers over
// NATS JetStream. The engine side is fire-and-forget: a publish failure never
// fails the ledger operation that produced the event, because the Postgres
// event log is authoritative.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"pismocore/internal/event"
	"pismocore/internal/observability"
)

// OutboundPublisher publishes emitted event envelopes to NATS.
// Subjects follow the pattern: pismo.margin.events.{event_type}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Envelope
	log       zerolog.Logger
	metrics   *observability.Metrics
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan event.Envelope, log zerolog.Logger, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
		metrics:   metrics,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, env); err != nil {
				op.log.Warn().Int64("sequence", env.Sequence).Err(err).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(struct {
		Sequence  int64       `json:"sequence"`
		EventType string      `json:"event_type"`
		Timestamp int64       `json:"timestamp"`
		Payload   event.Event `json:"payload"`
	}{
		Sequence:  env.Sequence,
		EventType: env.Type.String(),
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("pismo.margin.events.%s", env.Type)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PISMO_MARGIN_EVENTS",
		Subjects:  []string{"pismo.margin.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}

// ChannelSink adapts a buffered channel to the engine's event sink. A full
// channel drops the envelope rather than blocking a ledger operation.
type ChannelSink struct {
	ch      chan<- event.Envelope
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewChannelSink(ch chan<- event.Envelope, log zerolog.Logger, metrics *observability.Metrics) *ChannelSink {
	return &ChannelSink{ch: ch, log: log, metrics: metrics}
}

// Emit implements engine.EventSink.
func (s *ChannelSink) Emit(env event.Envelope) {
	select {
	case s.ch <- env:
	default:
		s.log.Warn().Int64("sequence", env.Sequence).Msg("event channel full, envelope dropped")
		if s.metrics != nil {
			s.metrics.PublishErrors.Inc()
		}
	}
}
