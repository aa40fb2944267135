package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/mathbridge/render-dispatcher/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// GlobalEventSubject overrides the global event subject (e.g. from RENDER_EVENT_SUBJECT).
	GlobalEventSubject string
}

// CommsPublisher publishes render lifecycle events to COMMS subjects.
type CommsPublisher struct {
	nc                 *comms.Conn
	globalEventSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	globalSubject := commsutil.SubjectRenderEvent
	if opts != nil && opts.GlobalEventSubject != "" {
		globalSubject = opts.GlobalEventSubject
	}
	return &CommsPublisher{nc: nc, globalEventSubject: globalSubject}
}

// PublishRendered publishes a RenderEvent to both the granular and global
// event subjects.
func (p *CommsPublisher) PublishRendered(_ context.Context, event *RenderEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	// Publish to granular subject
	granularSubject := commsutil.BuildEventSubject(event.Event)
	if err := p.nc.Publish(granularSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, granularSubject, err))
		return err
	}

	// Publish to global subject
	if err := p.nc.Publish(p.globalEventSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.globalEventSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event (origin=%s)", commsPublisherLogPrefix, event.Event, event.Origin))
	return nil
}
