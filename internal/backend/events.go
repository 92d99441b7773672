package backend

import (
	"time"

	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/internal/bus"
)

// EventHandler translates remote push events into bus events. It never
// touches the store; the sync engine subscribes to the bus independently.
type EventHandler struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(b *bus.Bus, logger *zap.Logger) *EventHandler {
	return &EventHandler{bus: b, logger: logger}
}

// Handle is the push-event handler registered with the backend client.
func (h *EventHandler) Handle(evt Event) {
	switch evt.Kind {
	case "message":
		if evt.Message == nil {
			return
		}
		h.bus.Publish(bus.Event{
			Kind:      bus.KindRemoteMessage,
			Timestamp: time.Now(),
			Payload:   evt.Message,
		})
	case "vote":
		if evt.Vote == nil {
			return
		}
		h.bus.Publish(bus.Event{
			Kind:      bus.KindRemoteVote,
			Timestamp: time.Now(),
			Payload:   evt.Vote,
		})
	case "history":
		if len(evt.History) == 0 {
			return
		}
		msgs := make([]*Message, 0, len(evt.History))
		for i := range evt.History {
			msgs = append(msgs, &evt.History[i])
		}
		h.bus.Publish(bus.Event{
			Kind:      bus.KindRemoteHistory,
			Timestamp: time.Now(),
			Payload:   msgs,
		})
	default:
		h.logger.Debug("ignoring unknown remote event", zap.String("kind", evt.Kind))
	}
}
