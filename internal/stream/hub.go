// Package stream fans live engine events out to SSE and WebSocket
// subscribers. The hub is an explicit instance owned by the server, each
// subscriber gets a bounded queue, and a publish never blocks: messages to a
// full queue are dropped and counted rather than stalling the ingest path.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chargeflow/risk-engine/internal/metrics"
)

// Stream event names.
const (
	EventConnected     = "connected"
	EventHeartbeat     = "heartbeat"
	EventReceived      = "event.received"
	EventDuplicate     = "event.duplicate"
	EventScoreComputed = "score.computed"
	EventKafkaStats    = "kafka.stats"
)

// DefaultQueueSize bounds each subscriber's pending message queue.
const DefaultQueueSize = 64

// Message is one serialized stream event. Data is the payload JSON; Frame
// is the full {"event":...,"data":...} envelope used by WebSocket clients.
// Both are serialized once at publish time.
type Message struct {
	Event string
	Data  json.RawMessage
	frame []byte
}

// Frame returns the WebSocket wire form of the message.
func (m Message) Frame() []byte { return m.frame }

// Subscription is one subscriber's view of the hub. Messages arrive on C
// until Close is called, the subscriber's context ends, or the hub stops —
// after any of which C is closed.
type Subscription struct {
	ID uint64
	C  <-chan Message

	hub  *Hub
	once sync.Once
}

// Close deregisters the subscription and closes C. Safe to call more than
// once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s.ID) })
}

type subscriber struct {
	ch chan Message
}

// Hub is the engine's pub/sub fan-out point.
type Hub struct {
	mu        sync.Mutex
	subs      map[uint64]*subscriber
	nextID    uint64
	closed    bool
	queueSize int
	logger    *slog.Logger

	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates a hub with the default per-subscriber queue size.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:      make(map[uint64]*subscriber),
		queueSize: DefaultQueueSize,
		logger:    logger,
	}
}

// WithQueueSize overrides the per-subscriber queue size.
func (h *Hub) WithQueueSize(n int) *Hub {
	if n > 0 {
		h.queueSize = n
	}
	return h
}

// Subscribe registers a new subscriber and immediately queues its connected
// greeting. The subscription deregisters itself when ctx ends.
func (h *Hub) Subscribe(ctx context.Context) *Subscription {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ch := make(chan Message)
		close(ch)
		return &Subscription{C: ch, hub: h}
	}
	h.nextID++
	id := h.nextID
	sub := &subscriber{ch: make(chan Message, h.queueSize)}
	// The greeting is queued before the subscriber is visible to Publish, so
	// it is always the first message and cannot race a concurrent Close.
	sub.ch <- makeMessage(EventConnected, map[string]any{
		"ts": time.Now().UTC().Format(time.RFC3339Nano),
	})
	h.subs[id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	metrics.ActiveStreamSubscribers.Set(float64(n))
	h.logger.Info("stream subscriber connected", "subscriber_id", id, "total", n)

	s := &Subscription{ID: id, C: sub.ch, hub: h}
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s
}

// Publish serializes data once and queues it to every subscriber. Full
// queues drop the message for that subscriber only.
func (h *Hub) Publish(event string, data any) {
	msg := makeMessage(event, data)
	if msg.Data == nil {
		h.logger.Error("stream payload not serializable", "event", event)
		return
	}
	h.published.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			h.dropped.Add(1)
			metrics.BroadcastDrops.Inc()
			h.logger.Warn("subscriber queue full, dropping message",
				"subscriber_id", id, "event", event)
		}
	}
}

// Close stops the hub: every subscriber channel is closed and further
// subscribes return an already-closed subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
	metrics.ActiveStreamSubscribers.Set(0)
	h.logger.Info("stream hub closed")
}

// Stats reports hub counters for diagnostics.
func (h *Hub) Stats() map[string]any {
	h.mu.Lock()
	n := len(h.subs)
	h.mu.Unlock()
	return map[string]any{
		"subscribers": n,
		"published":   h.published.Load(),
		"dropped":     h.dropped.Load(),
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.ch)
	}
	n := len(h.subs)
	closed := h.closed
	h.mu.Unlock()

	if ok && !closed {
		metrics.ActiveStreamSubscribers.Set(float64(n))
		h.logger.Info("stream subscriber disconnected", "subscriber_id", id, "total", n)
	}
}

func makeMessage(event string, data any) Message {
	payload, err := json.Marshal(data)
	if err != nil {
		return Message{Event: event}
	}
	frame, _ := json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{Event: event, Data: payload})
	return Message{Event: event, Data: payload, frame: frame}
}
