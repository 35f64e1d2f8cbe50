package progress

import "time"

// Reporter emits one request's progress sequence for a page. Once an event
// reaches Complete, later events are swallowed. A Reporter belongs to a single
// request goroutine.
type Reporter struct {
	hub      *Hub
	pageID   string
	finished bool
}

// Reporter returns a producer for pageID. An empty pageID yields a reporter
// that emits nothing.
func (h *Hub) Reporter(pageID string) *Reporter {
	return &Reporter{hub: h, pageID: pageID}
}

// Enabled reports whether the request opted into progress events.
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil && r.pageID != ""
}

// Emit publishes a progress event.
func (r *Reporter) Emit(step Step, progress int, message string) {
	r.publish(Event{Step: step, Progress: progress, Message: message})
}

// EmitTimed publishes a progress event carrying an elapsed duration.
func (r *Reporter) EmitTimed(step Step, progress int, message string, elapsed time.Duration) {
	r.publish(Event{Step: step, Progress: progress, Message: message}.WithDuration(elapsed))
}

func (r *Reporter) publish(e Event) {
	if !r.Enabled() || r.finished {
		return
	}
	if e.Progress >= Complete {
		r.finished = true
	}
	r.hub.Publish(r.pageID, e)
}
