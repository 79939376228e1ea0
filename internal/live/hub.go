package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"wardex-cloud/internal/observability/metrics"
)

// MessageTypeDeviceUpdated tags a device change notification.
const MessageTypeDeviceUpdated = "device-updated"

// ErrHubClosed is returned when subscribing to a closed hub.
var ErrHubClosed = errors.New("live hub: closed")

// Message is the payload delivered to every observer.
type Message struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
}

// Observer receives serialized messages.
type Observer interface {
	Send(payload []byte) error
	Close()
}

// Notifier is implemented by components that announce device changes.
type Notifier interface {
	Notify(ctx context.Context, deviceID string)
}

type subscription struct {
	transport string
	observer  Observer
}

// Hub fans device updates out to connected observers.
type Hub struct {
	mu        sync.RWMutex
	observers map[uint64]subscription
	nextID    uint64
	closed    bool
	logger    zerolog.Logger
}

// NewHub constructs a hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		observers: make(map[uint64]subscription),
		logger:    logger.With().Str("component", "live_hub").Logger(),
	}
}

// Subscribe registers an observer and returns its unsubscribe func.
func (h *Hub) Subscribe(transport string, observer Observer) (func(), error) {
	if h == nil {
		return nil, errors.New("live hub: nil hub")
	}
	if observer == nil {
		return nil, errors.New("live hub: nil observer")
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.nextID++
	id := h.nextID
	h.observers[id] = subscription{transport: transport, observer: observer}
	count := len(h.observers)
	h.mu.Unlock()
	metrics.SetFanoutObservers(count)

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(id) })
	}, nil
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.observers[id]
	delete(h.observers, id)
	count := len(h.observers)
	h.mu.Unlock()
	if !ok {
		return
	}
	sub.observer.Close()
	metrics.SetFanoutObservers(count)
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Notify sends a device-updated message to every observer.
// A failing observer is logged and skipped.
func (h *Hub) Notify(ctx context.Context, deviceID string) {
	if h == nil || deviceID == "" {
		return
	}
	payload, err := json.Marshal(Message{Type: MessageTypeDeviceUpdated, DeviceID: deviceID})
	if err != nil {
		return
	}

	h.mu.RLock()
	subs := make([]subscription, 0, len(h.observers))
	for _, sub := range h.observers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	logger := h.logger
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger.GetLevel() != zerolog.Disabled {
		logger = *ctxLogger
	}
	for _, sub := range subs {
		if err := sub.observer.Send(payload); err != nil {
			metrics.IncFanoutSendFailure(sub.transport)
			logger.Warn().Err(err).
				Str("transport", sub.transport).
				Str("device_id", deviceID).
				Msg("failed to deliver live update")
		}
	}
}

// Close drops every observer and rejects new subscriptions.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.observers
	h.observers = make(map[uint64]subscription)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.observer.Close()
	}
	metrics.SetFanoutObservers(0)
}
