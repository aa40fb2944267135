package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const bridgeLogPrefix = "events:bridge"

// Bridge is a bus Listener that forwards lifecycle events to an
// EventPublisher, so out-of-process observers see what in-process listeners
// see. Publish failures are logged, never propagated to the bus.
type Bridge struct {
	publisher EventPublisher
}

// NewBridge creates a Bridge over the given publisher.
func NewBridge(publisher EventPublisher) *Bridge {
	return &Bridge{publisher: publisher}
}

// Handle converts the bus event into a RenderEvent and publishes it.
func (b *Bridge) Handle(event string, payload Payload) {
	re := &RenderEvent{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if service, ok := payload["service"].(string); ok {
		re.Service = service
	}
	if origin, ok := payload["origin"].(string); ok {
		re.Origin = origin
	}

	if err := b.publisher.PublishRendered(context.Background(), re); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish %s: %v", bridgeLogPrefix, event, err))
	}
}
