package registry

import (
	"github.com/spatialviewer/backend/internal/domain/bridge"
	"github.com/spatialviewer/backend/internal/domain/progress"
)

// Notifier is the host controller side of the registry. Implementations
// must not block.
type Notifier interface {
	// Post delivers a bridge message to the frame of pageID, addressed to
	// targetOrigin.
	Post(pageID, targetOrigin string, msg bridge.Message)
	PageUpdated(page Page)
	PageDisposed(pageID string)
	Progress(pageID string, event progress.Event)
	// OpenExternal asks the host to open url outside the viewer.
	OpenExternal(pageID, url string)
	// FrameMessage forwards accepted frame traffic other than the handshake.
	FrameMessage(pageID string, msg bridge.Message)
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) Post(string, string, bridge.Message) {}
func (NopNotifier) PageUpdated(Page) {}
func (NopNotifier) PageDisposed(string) {}
func (NopNotifier) Progress(string, progress.Event) {}
func (NopNotifier) OpenExternal(string, string) {}
func (NopNotifier) FrameMessage(string, bridge.Message) {}
