package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spatialviewer/backend/internal/infrastructure/monitoring"
)

const inboxSize = 64

// Inbound is a message as it arrives on the shared window message bus.
type Inbound struct {
	// Origin is the sender's document origin as reported by the runtime.
	Origin string
	Data   []byte
}

// Replier sends a message to one frame. Delivery is fire-and-forget.
type Replier interface {
	Reply(pageID, targetOrigin string, msg Message) error
}

// Hooks receives the effects of accepted messages. Calls happen on the
// listener's goroutine, one at a time.
type Hooks interface {
	Init(pageID string, msg Init)
	NetworkIdle(pageID string)
	FrameError(pageID string, msg Error)
	FrameLog(pageID string, msg Log)
	FrameMessage(pageID string, msg Message)
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	PageID  string
	Src     string
	Replier Replier
	Hooks   Hooks
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Listener is the registry side of one frame's handshake. Inbound messages
// are queued and handled sequentially on a dedicated goroutine.
type Listener struct {
	pageID  string
	replier Replier
	hooks   Hooks
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu         sync.Mutex
	src        string
	origin     string
	handshaken bool

	inbox   chan Inbound
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewListener starts a listener for the frame currently showing cfg.Src.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	origin, err := OriginOf(cfg.Src)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		pageID:  cfg.PageID,
		replier: cfg.Replier,
		hooks:   cfg.Hooks,
		logger:  logger.Named("bridge").With(zap.String("page_id", cfg.PageID)),
		metrics: cfg.Metrics,
		src:     cfg.Src,
		origin:  origin,
		inbox:   make(chan Inbound, inboxSize),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// PageID returns the identity this listener attributes.
func (l *Listener) PageID() string {
	return l.pageID
}

// Origin returns the expected sender origin.
func (l *Listener) Origin() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.origin
}

// Handshaken reports whether an INIT has been answered for the current src.
func (l *Listener) Handshaken() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handshaken
}

// SetSource points the listener at a new document after in-frame navigation.
// The handshake restarts.
func (l *Listener) SetSource(src string) error {
	origin, err := OriginOf(src)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.src = src
	l.origin = origin
	l.handshaken = false
	l.mu.Unlock()
	return nil
}

// Deliver queues an inbound message. It reports false when the listener is
// disposed or its inbox is full; both cases are benign drops.
func (l *Listener) Deliver(in Inbound) bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
	}

	select {
	case l.inbox <- in:
		return true
	default:
		l.logger.Warn("bridge inbox full, dropping message")
		l.metrics.RecordBridgeMessage("unknown", "overflow")
		return false
	}
}

// Dispose stops the listener. Later deliveries are inert. Safe to call twice.
func (l *Listener) Dispose() {
	l.cancel()
	<-l.stopped
}

// Disposed reports whether Dispose has been called.
func (l *Listener) Disposed() bool {
	return l.ctx.Err() != nil
}

func (l *Listener) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.ctx.Done():
			return
		case in := <-l.inbox:
			if l.ctx.Err() != nil {
				return
			}
			if err := l.handle(in); err != nil && !errors.Is(err, ErrProtocolViolation) {
				l.logger.Debug("bridge message rejected", zap.Error(err))
			}
		}
	}
}

// handle applies one inbound message. Violations are logged and dropped,
// never answered.
func (l *Listener) handle(in Inbound) error {
	l.mu.Lock()
	origin, handshaken := l.origin, l.handshaken
	l.mu.Unlock()

	if !strings.EqualFold(in.Origin, origin) {
		return l.drop("unknown", "origin_mismatch", zap.String("origin", in.Origin), zap.String("expected", origin))
	}

	msg, err := Decode(in.Data)
	if err != nil {
		l.metrics.RecordBridgeMessage("unknown", "malformed")
		return err
	}
	kind := string(msg.Type())

	switch m := msg.(type) {
	case Init:
		// Validated under the lock SetSource takes.
		l.mu.Lock()
		if m.OriginHref == "" || !SameDocument(m.OriginHref, l.src) || !strings.EqualFold(in.Origin, l.origin) {
			l.mu.Unlock()
			return l.drop(kind, "stale_init", zap.String("origin_href", m.OriginHref))
		}
		repeated := l.handshaken
		l.handshaken = true
		l.mu.Unlock()

		if l.hooks != nil {
			l.hooks.Init(l.pageID, m)
		}
		if err := l.replier.Reply(l.pageID, origin, IDAttribution{ID: l.pageID}); err != nil {
			l.logger.Warn("failed to send ID_ATTRIBUTION", zap.Error(err))
		}
		l.metrics.RecordBridgeMessage(kind, "accepted")
		l.logger.Debug("handshake completed", zap.Bool("repeated", repeated))
		return nil

	case IDAttribution:
		return l.drop(kind, "unexpected")
	}

	if !handshaken {
		return l.drop(kind, "before_handshake")
	}
	if msg.Identity() != l.pageID {
		return l.drop(kind, "identity_mismatch", zap.String("id", msg.Identity()))
	}

	l.metrics.RecordBridgeMessage(kind, "accepted")
	if l.hooks == nil {
		return nil
	}

	switch m := msg.(type) {
	case NetworkIdle:
		l.hooks.NetworkIdle(l.pageID)
	case Error:
		l.hooks.FrameError(l.pageID, m)
	case Log:
		l.hooks.FrameLog(l.pageID, m)
	case Unknown:
		l.logger.Info("unrecognised bridge message type", zap.String("type", m.Kind))
		l.hooks.FrameMessage(l.pageID, m)
	}
	return nil
}

func (l *Listener) drop(kind, reason string, fields ...zap.Field) error {
	l.metrics.RecordBridgeMessage(kind, reason)
	l.logger.Debug("bridge message dropped",
		append(fields, zap.String("type", kind), zap.String("reason", reason))...)
	return fmt.Errorf("%w: %s", ErrProtocolViolation, reason)
}

// OriginOf returns scheme://host[:port] of an absolute URL.
func OriginOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid frame url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("frame url %q is not absolute", raw)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

// SameDocument compares two document URLs the way a browser reports
// location.href: an empty path equals "/" and fragments are ignored.
func SameDocument(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return normalize(ua) == normalize(ub)
}

func normalize(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return strings.ToLower(u.Scheme+"://"+u.Host) + path + "?" + u.RawQuery
}
