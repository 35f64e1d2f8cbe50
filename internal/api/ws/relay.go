package ws

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spatialviewer/backend/internal/domain/bridge"
	"github.com/spatialviewer/backend/internal/domain/codec"
	"github.com/spatialviewer/backend/internal/domain/progress"
	"github.com/spatialviewer/backend/internal/domain/registry"
	"github.com/spatialviewer/backend/internal/infrastructure/monitoring"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
	commandTimeout = 10 * time.Second
)

// Config configures a Relay.
type Config struct {
	// AllowedOrigins are browser origins (scheme://host[:port]) accepted as
	// controllers besides loopback ones. "*" accepts any non-synthetic origin.
	AllowedOrigins []string
}

// Relay connects host controllers to the page registry over WebSocket. It
// implements registry.Notifier by broadcasting to every connection.
type Relay struct {
	pages    *registry.Manager
	origins  map[string]bool
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu    sync.RWMutex
	conns map[string]*client
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// NewRelay creates a relay bound to pages. Browsers may attach from loopback
// origins and cfg.AllowedOrigins; frames served from synthetic hosts are
// always refused.
func NewRelay(pages *registry.Manager, cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Relay{
		pages:   pages,
		origins: make(map[string]bool, len(cfg.AllowedOrigins)),
		logger:  logger.Named("relay"),
		metrics: metrics,
		conns:   make(map[string]*client),
	}
	for _, origin := range cfg.AllowedOrigins {
		r.origins[strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))] = true
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     r.checkOrigin,
	}
	return r
}

// checkOrigin admits requests without an Origin header, which browsers always
// send on WebSocket upgrades.
func (r *Relay) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || codec.IsSynthetic(u.Host) {
		return false
	}
	if r.origins["*"] || r.origins[strings.ToLower(u.Scheme+"://"+u.Host)] {
		return true
	}
	return isLoopback(u.Hostname())
}

func isLoopback(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

// Connections returns the number of attached controllers.
func (r *Relay) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// HandleConnection upgrades the request and serves one controller until it
// disconnects.
func (r *Relay) HandleConnection(c *gin.Context) {
	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	r.attach(cl)
	defer r.detach(cl)

	go r.writeLoop(cl)
	r.readLoop(c.Request.Context(), cl)
}

func (r *Relay) attach(cl *client) {
	r.mu.Lock()
	r.conns[cl.id] = cl
	r.mu.Unlock()
	r.metrics.IncRelayConnections()
	r.logger.Info("controller connected", zap.String("conn_id", cl.id))
}

func (r *Relay) detach(cl *client) {
	r.mu.Lock()
	delete(r.conns, cl.id)
	r.mu.Unlock()
	cl.close()
	cl.conn.Close()
	r.metrics.DecRelayConnections()
	r.logger.Info("controller disconnected", zap.String("conn_id", cl.id))
}

func (r *Relay) readLoop(ctx context.Context, cl *client) {
	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Debug("websocket read error", zap.String("conn_id", cl.id), zap.Error(err))
			}
			return
		}

		var req Request
		if err := sonic.Unmarshal(raw, &req); err != nil {
			r.metrics.RecordRelayMessage("in", "invalid")
			r.reply(cl, r.errorEnvelope("", "", "invalid request"))
			continue
		}
		r.metrics.RecordRelayMessage("in", req.Kind)
		r.dispatch(ctx, cl, req)
	}
}

func (r *Relay) writeLoop(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case <-cl.done:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, cl *client, req Request) {
	switch req.Kind {
	case KindMessage:
		if len(req.Data) == 0 {
			r.reply(cl, r.errorEnvelope(req.Ref, req.PageID, "message without data"))
			return
		}
		r.pages.Route(bridge.Inbound{Origin: req.Origin, Data: []byte(req.Data)})

	case KindSubmit:
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		if _, err := r.pages.Submit(ctx, req.URL); err != nil {
			r.reply(cl, r.errorEnvelope(req.Ref, "", err.Error()))
		}

	case KindNavigate:
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		if _, err := r.pages.Navigate(ctx, req.PageID, req.URL); err != nil {
			r.reply(cl, r.errorEnvelope(req.Ref, req.PageID, err.Error()))
		}

	case KindDispose:
		r.pages.Dispose(req.PageID)

	case KindPing:
		env := newEnvelope(KindPong)
		env.Ref = req.Ref
		r.reply(cl, env)

	default:
		r.reply(cl, r.errorEnvelope(req.Ref, req.PageID, "unknown message kind"))
	}
}

func (r *Relay) errorEnvelope(ref, pageID, msg string) Envelope {
	env := newEnvelope(KindError)
	env.Ref = ref
	env.PageID = pageID
	env.Error = msg
	return env
}

func (r *Relay) reply(cl *client, env Envelope) {
	raw, err := sonic.Marshal(env)
	if err != nil {
		r.logger.Warn("failed to encode envelope", zap.String("kind", env.Kind), zap.Error(err))
		return
	}
	r.enqueue(cl, env.Kind, raw)
}

func (r *Relay) broadcast(env Envelope) {
	raw, err := sonic.Marshal(env)
	if err != nil {
		r.logger.Warn("failed to encode envelope", zap.String("kind", env.Kind), zap.Error(err))
		return
	}

	r.mu.RLock()
	clients := make([]*client, 0, len(r.conns))
	for _, cl := range r.conns {
		clients = append(clients, cl)
	}
	r.mu.RUnlock()

	for _, cl := range clients {
		r.enqueue(cl, env.Kind, raw)
	}
}

// enqueue never blocks; a controller that cannot keep up loses messages.
func (r *Relay) enqueue(cl *client, kind string, raw []byte) {
	select {
	case <-cl.done:
		return
	default:
	}
	select {
	case cl.send <- raw:
		r.metrics.RecordRelayMessage("out", kind)
	default:
		r.metrics.RecordRelayMessage("out", "dropped")
		r.logger.Warn("controller lagging, message dropped", zap.String("conn_id", cl.id), zap.String("kind", kind))
	}
}

// Post implements registry.Notifier.
func (r *Relay) Post(pageID, targetOrigin string, msg bridge.Message) {
	raw, err := bridge.Encode(msg)
	if err != nil {
		r.logger.Warn("failed to encode bridge message", zap.String("page_id", pageID), zap.Error(err))
		return
	}
	env := newEnvelope(KindPost)
	env.PageID = pageID
	env.TargetOrigin = targetOrigin
	env.Message = raw
	r.broadcast(env)
}

// PageUpdated implements registry.Notifier.
func (r *Relay) PageUpdated(page registry.Page) {
	env := newEnvelope(KindPage)
	env.PageID = page.ID
	env.Page = &page
	r.broadcast(env)
}

// PageDisposed implements registry.Notifier.
func (r *Relay) PageDisposed(pageID string) {
	env := newEnvelope(KindDisposed)
	env.PageID = pageID
	r.broadcast(env)
}

// Progress implements registry.Notifier.
func (r *Relay) Progress(pageID string, event progress.Event) {
	env := newEnvelope(KindProgress)
	env.PageID = pageID
	env.Progress = &event
	r.broadcast(env)
}

// OpenExternal implements registry.Notifier.
func (r *Relay) OpenExternal(pageID, target string) {
	env := newEnvelope(KindOpenExternal)
	env.PageID = pageID
	env.URL = target
	r.broadcast(env)
}

// FrameMessage implements registry.Notifier.
func (r *Relay) FrameMessage(pageID string, msg bridge.Message) {
	raw, err := bridge.Encode(msg)
	if err != nil {
		r.logger.Warn("failed to encode bridge message", zap.String("page_id", pageID), zap.Error(err))
		return
	}
	env := newEnvelope(KindFrame)
	env.PageID = pageID
	env.Message = raw
	r.broadcast(env)
}

// Close disconnects every controller.
func (r *Relay) Close() {
	r.mu.RLock()
	for _, cl := range r.conns {
		cl.close()
	}
	r.mu.RUnlock()
}
