package events

import "context"

// EventPublisher is the interface for publishing render lifecycle events to
// external observers.
type EventPublisher interface {
	PublishRendered(ctx context.Context, event *RenderEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishRendered is a no-op.
func (p *NoOpPublisher) PublishRendered(_ context.Context, _ *RenderEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *RenderEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *RenderEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishRendered calls the callback.
func (p *CallbackPublisher) PublishRendered(ctx context.Context, event *RenderEvent) error {
	return p.callback(ctx, event)
}
