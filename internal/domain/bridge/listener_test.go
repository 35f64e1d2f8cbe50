package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spatialviewer/backend/internal/infrastructure/monitoring"
)

const (
	testSrc    = "http://www--example-com.localhost:3000/?pageId=page_1"
	testOrigin = "http://www--example-com.localhost:3000"
)

type reply struct {
	pageID string
	origin string
	msg    Message
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []reply
}

func (r *fakeReplier) Reply(pageID, origin string, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, reply{pageID, origin, msg})
	return nil
}

func (r *fakeReplier) all() []reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reply(nil), r.replies...)
}

type fakeHooks struct {
	mu     sync.Mutex
	inits  []Init
	idle   int
	errors []Error
	logs   []Log
	other  []Message
}

func (h *fakeHooks) Init(_ string, msg Init) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inits = append(h.inits, msg)
}

func (h *fakeHooks) NetworkIdle(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.idle++
}

func (h *fakeHooks) FrameError(_ string, msg Error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
}

func (h *fakeHooks) FrameLog(_ string, msg Log) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, msg)
}

func (h *fakeHooks) FrameMessage(_ string, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.other = append(h.other, msg)
}

func (h *fakeHooks) idleCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.idle
}

func newTestListener(t *testing.T, metrics *monitoring.Metrics) (*Listener, *fakeReplier, *fakeHooks) {
	t.Helper()
	replier := &fakeReplier{}
	hooks := &fakeHooks{}
	l, err := NewListener(ListenerConfig{
		PageID:  "page_1",
		Src:     testSrc,
		Replier: replier,
		Hooks:   hooks,
		Logger:  zap.NewNop(),
		Metrics: metrics,
	})
	require.NoError(t, err)
	t.Cleanup(l.Dispose)
	return l, replier, hooks
}

func send(t *testing.T, l *Listener, origin string, msg Message) {
	t.Helper()
	raw, err := Encode(msg)
	require.NoError(t, err)
	require.True(t, l.Deliver(Inbound{Origin: origin, Data: raw}))
}

// settle delivers a marker message and waits until it has been processed,
// so that everything queued before it has been handled.
func settle(t *testing.T, l *Listener, metrics *monitoring.Metrics) {
	t.Helper()
	before := testutil.ToFloat64(metrics.BridgeMessages.WithLabelValues("unknown", "origin_mismatch"))
	require.True(t, l.Deliver(Inbound{Origin: "http://marker.invalid", Data: []byte(`{}`)}))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.BridgeMessages.WithLabelValues("unknown", "origin_mismatch")) > before
	}, time.Second, 5*time.Millisecond)
}

func TestListenerHandshake(t *testing.T) {
	metrics := monitoring.NewMetrics()
	l, replier, hooks := newTestListener(t, metrics)

	send(t, l, testOrigin, Init{OriginHref: testSrc, ManifestURL: "/manifest.json"})
	send(t, l, testOrigin, NetworkIdle{ID: "page_1"})
	settle(t, l, metrics)

	assert.True(t, l.Handshaken())
	replies := replier.all()
	require.Len(t, replies, 1)
	assert.Equal(t, reply{"page_1", testOrigin, IDAttribution{ID: "page_1"}}, replies[0])
	require.Len(t, hooks.inits, 1)
	assert.Equal(t, "/manifest.json", hooks.inits[0].ManifestURL)
	assert.Equal(t, 1, hooks.idleCount())
}

func TestListenerDropsBeforeHandshake(t *testing.T) {
	metrics := monitoring.NewMetrics()
	l, replier, hooks := newTestListener(t, metrics)

	send(t, l, testOrigin, NetworkIdle{ID: "page_1"})
	send(t, l, testOrigin, Log{ID: "page_1", Level: "info", Text: "early"})
	settle(t, l, metrics)

	assert.False(t, l.Handshaken())
	assert.Empty(t, replier.all())
	assert.Equal(t, 0, hooks.idleCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BridgeMessages.WithLabelValues("NETWORK_IDLE", "before_handshake")))
}

func TestListenerRejectsForeignTraffic(t *testing.T) {
	metrics := monitoring.NewMetrics()
	l, replier, hooks := newTestListener(t, metrics)

	// Wrong origin.
	send(t, l, "http://evil-com.localhost:3000", Init{OriginHref: testSrc})
	// Right origin but a document the listener does not expect.
	send(t, l, testOrigin, Init{OriginHref: "http://www--example-com.localhost:3000/other"})
	settle(t, l, metrics)
	assert.False(t, l.Handshaken())
	assert.Empty(t, replier.all())

	send(t, l, testOrigin, Init{OriginHref: testSrc + "#frag"})
	send(t, l, testOrigin, NetworkIdle{ID: "page_2"})
	send(t, l, testOrigin, NetworkIdle{})
	send(t, l, testOrigin, IDAttribution{ID: "page_1"})
	settle(t, l, metrics)

	assert.True(t, l.Handshaken())
	assert.Len(t, replier.all(), 1)
	assert.Equal(t, 0, hooks.idleCount())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.BridgeMessages.WithLabelValues("NETWORK_IDLE", "identity_mismatch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BridgeMessages.WithLabelValues("ID_ATTRIBUTION", "unexpected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BridgeMessages.WithLabelValues("INIT", "stale_init")))
}

func TestListenerOneAttributionPerInit(t *testing.T) {
	metrics := monitoring.NewMetrics()
	l, replier, _ := newTestListener(t, metrics)

	send(t, l, testOrigin, NetworkIdle{ID: "page_1"})
	send(t, l, testOrigin, Init{OriginHref: testSrc})
	send(t, l, testOrigin, NetworkIdle{ID: "page_1"})
	send(t, l, testOrigin, Log{ID: "page_9", Level: "info", Text: "foreign"})
	send(t, l, testOrigin, Error{ID: "page_1", Message: "x"})
	settle(t, l, metrics)

	replies := replier.all()
	require.Len(t, replies, 1)
	assert.Equal(t, reply{"page_1", testOrigin, IDAttribution{ID: "page_1"}}, replies[0])
}

func TestListenerRepeatedInitKeepsIdentity(t *testing.T) {
	metrics := monitoring.NewMetrics()
	l, replier, hooks := newTestListener(t, metrics)

	// A reloaded frame announces itself again and gets the same identity.
	send(t, l, testOrigin, Init{OriginHref: testSrc})
	send(t, l, testOrigin, Init{OriginHref: testSrc})
	settle(t, l, metrics)

	assert.True(t, l.Handshaken())
	replies := replier.all()
	require.Len(t, replies, 2)
	for _, r := range replies {
		assert.Equal(t, reply{"page_1", testOrigin, IDAttribution{ID: "page_1"}}, r)
	}
	hooks.mu.Lock()
	assert.Len(t, hooks.inits, 2)
	hooks.mu.Unlock()
}

func TestListenerSetSourceRestartsHandshake(t *testing.T) {
	metrics := monitoring.NewMetrics()
	l, replier, _ := newTestListener(t, metrics)

	send(t, l, testOrigin, Init{OriginHref: testSrc})
	settle(t, l, metrics)
	require.True(t, l.Handshaken())

	next := "http://docs--example-org.localhost:3000/guide?pageId=page_1"
	require.NoError(t, l.SetSource(next))
	assert.False(t, l.Handshaken())
	assert.Equal(t, "http://docs--example-org.localhost:3000", l.Origin())

	send(t, l, testOrigin, Init{OriginHref: testSrc})
	send(t, l, "http://docs--example-org.localhost:3000", Init{OriginHref: next})
	settle(t, l, metrics)

	assert.True(t, l.Handshaken())
	replies := replier.all()
	require.Len(t, replies, 2)
	assert.Equal(t, "http://docs--example-org.localhost:3000", replies[1].origin)

	assert.Error(t, l.SetSource("not a url"))
}

func TestListenerDropsInitForPreviousSource(t *testing.T) {
	metrics := monitoring.NewMetrics()
	l, replier, hooks := newTestListener(t, metrics)

	next := testOrigin + "/settings?pageId=page_1"
	require.NoError(t, l.SetSource(next))

	send(t, l, testOrigin, Init{OriginHref: testSrc})
	settle(t, l, metrics)

	assert.False(t, l.Handshaken())
	assert.Empty(t, replier.all())
	assert.Empty(t, hooks.inits)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BridgeMessages.WithLabelValues("INIT", "stale_init")))

	send(t, l, testOrigin, Init{OriginHref: next})
	settle(t, l, metrics)
	assert.True(t, l.Handshaken())
	assert.Len(t, replier.all(), 1)
}

func TestListenerForwardsAfterHandshake(t *testing.T) {
	metrics := monitoring.NewMetrics()
	l, _, hooks := newTestListener(t, metrics)

	send(t, l, testOrigin, Init{OriginHref: testSrc})
	send(t, l, testOrigin, Error{ID: "page_1", Message: "boom"})
	send(t, l, testOrigin, Log{ID: "page_1", Level: "warn", Text: "careful"})
	send(t, l, testOrigin, Unknown{Kind: "CUSTOM", ID: "page_1"})
	settle(t, l, metrics)

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	require.Len(t, hooks.errors, 1)
	assert.Equal(t, "boom", hooks.errors[0].Message)
	require.Len(t, hooks.logs, 1)
	assert.Equal(t, "careful", hooks.logs[0].Text)
	require.Len(t, hooks.other, 1)
	assert.Equal(t, Type("CUSTOM"), hooks.other[0].Type())
}

func TestListenerDisposeIsIdempotent(t *testing.T) {
	l, replier, _ := newTestListener(t, monitoring.NewMetrics())

	l.Dispose()
	l.Dispose()
	assert.True(t, l.Disposed())

	raw, err := Encode(Init{OriginHref: testSrc})
	require.NoError(t, err)
	assert.False(t, l.Deliver(Inbound{Origin: testOrigin, Data: raw}))
	assert.Empty(t, replier.all())
}

func TestNewListenerRequiresAbsoluteSrc(t *testing.T) {
	_, err := NewListener(ListenerConfig{PageID: "page_1", Src: "/relative"})
	assert.Error(t, err)
}

func TestSameDocument(t *testing.T) {
	assert.True(t, SameDocument("http://a.localhost", "http://a.localhost/"))
	assert.True(t, SameDocument("http://A.localhost/x#y", "http://a.localhost/x"))
	assert.False(t, SameDocument("http://a.localhost/x", "http://a.localhost/y"))
	assert.False(t, SameDocument("http://a.localhost/?a=1", "http://a.localhost/?a=2"))
}
