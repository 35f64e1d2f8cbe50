package ws

import (
	"encoding/json"
	"time"

	"github.com/spatialviewer/backend/internal/domain/progress"
	"github.com/spatialviewer/backend/internal/domain/registry"
)

// Inbound kinds sent by the host controller.
const (
	KindMessage  = "message"
	KindSubmit   = "submit"
	KindNavigate = "navigate"
	KindDispose  = "dispose"
	KindPing     = "ping"
)

// Outbound kinds sent to the host controller.
const (
	KindPost         = "post"
	KindPage         = "page"
	KindProgress     = "progress"
	KindOpenExternal = "open_external"
	KindDisposed     = "disposed"
	KindFrame        = "frame"
	KindError        = "error"
	KindPong         = "pong"
)

// Request is a message from the host controller.
type Request struct {
	Kind string `json:"kind"`
	// Ref is echoed in error replies so the caller can correlate them.
	Ref    string `json:"ref,omitempty"`
	PageID string `json:"page_id,omitempty"`
	URL    string `json:"url,omitempty"`
	// Origin and Data describe a window message event observed by the host.
	Origin string          `json:"origin,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Envelope is a message to the host controller.
type Envelope struct {
	Kind         string          `json:"kind"`
	Ref          string          `json:"ref,omitempty"`
	PageID       string          `json:"page_id,omitempty"`
	TargetOrigin string          `json:"target_origin,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
	Page         *registry.Page  `json:"page,omitempty"`
	Progress     *progress.Event `json:"progress,omitempty"`
	URL          string          `json:"url,omitempty"`
	Error        string          `json:"error,omitempty"`
	Timestamp    int64           `json:"timestamp"`
}

func newEnvelope(kind string) Envelope {
	return Envelope{Kind: kind, Timestamp: time.Now().UnixMilli()}
}
