// Package events provides the render lifecycle event bus and publishers.
package events

// Event names published by the dispatcher.
const (
	// EventInit fires after initialization resolves the service paths. Empty payload.
	EventInit = "onInit"
	// EventDispatch fires after every dispatch with the service name and origin.
	EventDispatch = "onDispatch"
)

// Dispatch origins carried in EventDispatch payloads.
const (
	OriginRemote  = "remote"
	OriginLocal   = "local"
	OriginCache   = "cache"
	OriginWarning = "warning"
)

// Payload carries event data. Lifecycle events without detail use an empty payload.
type Payload map[string]any

// RenderEvent is the wire shape for render lifecycle events published to COMMS.
type RenderEvent struct {
	Event     string `json:"event"`
	Service   string `json:"service,omitempty"`
	Origin    string `json:"origin,omitempty"`
	Timestamp string `json:"timestamp"`
}
