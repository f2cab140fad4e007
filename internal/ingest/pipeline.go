// Package ingest is the consume side of the engine: it validates raw broker
// messages, deduplicates them, appends them to the durable event log, and
// hands them to the correlator. Delivery is at least once, so every step
// downstream of validation is idempotent.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chargeflow/risk-engine/internal/dedup"
	"github.com/chargeflow/risk-engine/internal/eventlog"
	"github.com/chargeflow/risk-engine/internal/events"
	"github.com/chargeflow/risk-engine/internal/metrics"
	"github.com/chargeflow/risk-engine/internal/traces"
)

// Processing results recorded in metrics.
const (
	resultAccepted  = "accepted"
	resultDuplicate = "duplicate"
	resultInvalid   = "invalid"
	resultError     = "error"
)

// Correlator receives validated, deduplicated events.
type Correlator interface {
	Ingest(ctx context.Context, ev *events.Event, receivedAt time.Time) error
}

// Publisher receives event.received and event.duplicate broadcasts.
type Publisher interface {
	Publish(event string, data any)
}

// Pipeline processes one broker message end to end.
type Pipeline struct {
	topicTypes map[string]events.Type
	dedup      dedup.Store
	log        eventlog.Store
	correlator Correlator
	publisher  Publisher
	logger     *slog.Logger
}

// NewPipeline creates a pipeline. topicTypes maps each subscribed topic to
// the event type expected on it.
func NewPipeline(topicTypes map[string]events.Type, dd dedup.Store, log eventlog.Store, corr Correlator, pub Publisher, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		topicTypes: topicTypes,
		dedup:      dd,
		log:        log,
		correlator: corr,
		publisher:  pub,
		logger:     logger,
	}
}

// Handle validates and routes one raw message. Malformed or invalid input is
// dropped with a warning and no state change; infrastructure failures return
// an error so the caller can decide whether to surface them.
func (p *Pipeline) Handle(ctx context.Context, topic string, raw []byte) error {
	kind, ok := p.topicTypes[topic]
	if !ok {
		// Not one of ours; leave it for whoever subscribed us by mistake.
		return nil
	}
	receivedAt := time.Now().UTC()

	ctx, span := traces.StartSpan(ctx, "ingest", traces.Topic(topic))
	defer span.End()

	ev, err := events.Decode(kind, raw)
	if err != nil {
		metrics.EventsConsumed.WithLabelValues(topic, resultInvalid).Inc()
		var verr *events.ValidationError
		if errors.As(err, &verr) {
			p.logger.Warn("event validation failed",
				"topic", topic, "fields", verr.Fields)
		} else {
			p.logger.Warn("malformed message dropped", "topic", topic, "error", err)
		}
		return nil
	}

	isNew, err := p.dedup.RegisterIfNew(ctx, ev.ID, topic, string(ev.Type))
	if err != nil {
		metrics.EventsConsumed.WithLabelValues(topic, resultError).Inc()
		return err
	}
	if !isNew {
		metrics.EventsConsumed.WithLabelValues(topic, resultDuplicate).Inc()
		p.logger.Debug("duplicate event", "event_id", ev.ID, "topic", topic)
		p.publish("event.duplicate", map[string]any{
			"eventId":       ev.ID,
			"topic":         topic,
			"type":          string(ev.Type),
			"correlationId": ev.CorrelationID,
			"rejectedAt":    receivedAt.Format(time.RFC3339Nano),
		})
		return nil
	}

	if err := p.log.Append(ctx, &eventlog.RawEvent{
		EventID:       ev.ID,
		Topic:         topic,
		EventType:     string(ev.Type),
		CorrelationID: ev.CorrelationID,
		Payload:       ev.Raw,
		ReceivedAt:    receivedAt,
	}); err != nil {
		metrics.EventsConsumed.WithLabelValues(topic, resultError).Inc()
		return err
	}

	p.publish("event.received", map[string]any{
		"eventId":       ev.ID,
		"topic":         topic,
		"type":          string(ev.Type),
		"correlationId": ev.CorrelationID,
		"receivedAt":    receivedAt.Format(time.RFC3339Nano),
		"summary":       ev.Summary(),
	})

	if err := p.correlator.Ingest(ctx, ev, receivedAt); err != nil {
		metrics.EventsConsumed.WithLabelValues(topic, resultError).Inc()
		return err
	}

	metrics.EventsConsumed.WithLabelValues(topic, resultAccepted).Inc()
	return nil
}

func (p *Pipeline) publish(event string, data any) {
	if p.publisher != nil {
		p.publisher.Publish(event, data)
	}
}
