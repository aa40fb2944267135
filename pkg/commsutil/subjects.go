package commsutil

import "fmt"

// Default COMMS subjects.
const (
	// SubjectRenderEvent is the global subject every render lifecycle event is
	// published to.
	SubjectRenderEvent = "mathml.render.events"
)

// BuildEventSubject builds a granular subject for a single lifecycle event
// (e.g. "mathml.render.events.onInit").
func BuildEventSubject(event string) string {
	return fmt.Sprintf("%s.%s", SubjectRenderEvent, event)
}
