package progress

import (
	"sync"

	"go.uber.org/zap"

	"github.com/spatialviewer/backend/internal/infrastructure/monitoring"
)

const defaultBuffer = 32

// Publish outcomes recorded in metrics.
const (
	outcomePublished    = "published"
	outcomeDropped      = "dropped"
	outcomeNoSubscriber = "no_subscriber"
)

// Observer sees every published event. It runs on the publisher's goroutine
// and must not block.
type Observer func(pageID string, event Event)

// Hub routes progress events to at most one live subscriber per page.
// Subscribing again for the same page replaces the previous subscriber.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	observer Observer

	buffer  int
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// Subscription is one live consumer of a page's events.
type Subscription struct {
	pageID string
	events chan Event
	done   chan struct{}
	once   sync.Once
	hub    *Hub
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger, metrics *monitoring.Metrics) *Hub {
	return &Hub{
		subs:    make(map[string]*Subscription),
		buffer:  defaultBuffer,
		logger:  logger.Named("progress"),
		metrics: metrics,
	}
}

// SetObserver installs fn as the hub-wide observer, replacing any previous one.
func (h *Hub) SetObserver(fn Observer) {
	h.mu.Lock()
	h.observer = fn
	h.mu.Unlock()
}

// Subscribe registers a new subscriber for pageID. A previous subscriber for
// the same page is closed.
func (h *Hub) Subscribe(pageID string) *Subscription {
	sub := &Subscription{
		pageID: pageID,
		events: make(chan Event, h.buffer),
		done:   make(chan struct{}),
		hub:    h,
	}

	h.mu.Lock()
	prev := h.subs[pageID]
	h.subs[pageID] = sub
	count := len(h.subs)
	if prev != nil {
		prev.closeDone()
	}
	h.mu.Unlock()

	if prev != nil {
		h.logger.Debug("subscriber replaced", zap.String("page_id", pageID))
	}
	h.metrics.SetProgressSubscribers(count)
	return sub
}

// Unsubscribe removes sub if it is still the current subscriber for its page.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if h.subs[sub.pageID] == sub {
		delete(h.subs, sub.pageID)
	}
	count := len(h.subs)
	sub.closeDone()
	h.mu.Unlock()

	h.metrics.SetProgressSubscribers(count)
}

// Publish delivers event to the page's subscriber without blocking. It is a
// no-op when nobody listens and drops the event when the subscriber lags.
func (h *Hub) Publish(pageID string, event Event) {
	if pageID == "" {
		return
	}

	h.mu.RLock()
	observer := h.observer
	sub := h.subs[pageID]
	outcome := outcomeNoSubscriber
	if sub != nil {
		select {
		case sub.events <- event:
			outcome = outcomePublished
		default:
			outcome = outcomeDropped
		}
	}
	h.mu.RUnlock()

	if observer != nil {
		observer(pageID, event)
	}

	if outcome == outcomeDropped {
		h.logger.Debug("subscriber lagging, event dropped",
			zap.String("page_id", pageID),
			zap.String("step", string(event.Step)),
		)
	}
	h.metrics.RecordProgressEvent(outcome)
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// PageID returns the page this subscription listens to.
func (s *Subscription) PageID() string {
	return s.pageID
}

// Events yields published events. The channel is never closed; select on Done.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription is replaced or closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

func (s *Subscription) closeDone() {
	s.once.Do(func() { close(s.done) })
}
