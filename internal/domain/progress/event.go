package progress

import (
	"time"

	"github.com/bytedance/sonic"
)

// Step tags a point in a fetch lifecycle.
type Step string

// Resource fetch sequence.
const (
	ResourceStart    Step = "RESOURCE_START"
	ResourceFetching Step = "RESOURCE_FETCHING"
	ResourceFetched  Step = "RESOURCE_FETCHED"
)

// Document fetch sequence.
const (
	HTMLStart      Step = "HTML_START"
	HTMLFetching   Step = "HTML_FETCHING"
	HTMLFetched    Step = "HTML_FETCHED"
	HTMLProcessing Step = "HTML_PROCESSING"
	HTMLComplete   Step = "HTML_COMPLETE"
)

// Complete is the progress value that ends a sequence.
const Complete = 100

// Event is a single progress notification for a page.
type Event struct {
	Step     Step   `json:"step"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	// Duration is the elapsed fetch time in milliseconds, set on *_FETCHED.
	Duration *int64 `json:"duration,omitempty"`
}

// WithDuration returns a copy of e carrying d in milliseconds.
func (e Event) WithDuration(d time.Duration) Event {
	ms := d.Milliseconds()
	e.Duration = &ms
	return e
}

// SSEFrame encodes e as a server-sent event frame: "data: <json>\n\n".
func (e Event) SSEFrame() ([]byte, error) {
	payload, err := sonic.Marshal(e)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}
