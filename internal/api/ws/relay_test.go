package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/spatialviewer/backend/internal/domain/bridge"
	"github.com/spatialviewer/backend/internal/domain/codec"
	"github.com/spatialviewer/backend/internal/domain/progress"
	"github.com/spatialviewer/backend/internal/domain/registry"
	"github.com/spatialviewer/backend/internal/infrastructure/monitoring"
)

var frameOrigin = "http://" + codec.EncodeHost("www.example.com", 3000).String()

type relayFixture struct {
	relay   *Relay
	pages   *registry.Manager
	hub     *progress.Hub
	metrics *monitoring.Metrics
	url     string
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := monitoring.NewMetrics()
	hub := progress.NewHub(zap.NewNop(), metrics)
	pages := registry.NewManager(registry.Config{}, codec.New(false, 3000), hub, nil, zap.NewNop(), metrics)
	relay := NewRelay(pages, Config{AllowedOrigins: []string{"https://viewer.example.com/"}}, zap.NewNop(), metrics)
	pages.SetNotifier(relay)

	router := gin.New()
	router.GET("/bridge", relay.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
		pages.Close()
	})

	return &relayFixture{
		relay:   relay,
		pages:   pages,
		hub:     hub,
		metrics: metrics,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/bridge",
	}
}

func (f *relayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return f.relay.Connections() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

// next reads envelopes until one of the given kind arrives.
func next(t *testing.T, conn *websocket.Conn, kind string) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		if gjson.GetBytes(raw, "kind").String() == kind {
			return string(raw)
		}
	}
}

func TestRelayPing(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(Request{Kind: KindPing, Ref: "r1"}))
	env := next(t, conn, KindPong)
	assert.Equal(t, "r1", gjson.Get(env, "ref").String())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RelayConnections))
}

func TestRelayHandshake(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(Request{Kind: KindSubmit, URL: "http://www.example.com/"}))
	env := next(t, conn, KindPage)
	pageID := gjson.Get(env, "page_id").String()
	pageURL := gjson.Get(env, "page.url").String()
	require.NotEmpty(t, pageID)
	assert.True(t, gjson.Get(env, "page.show_splash").Bool())

	frame := bridge.NewClient(bridge.PosterFunc(func(msg bridge.Message) error {
		raw, err := bridge.Encode(msg)
		if err != nil {
			return err
		}
		return conn.WriteJSON(Request{Kind: KindMessage, Origin: frameOrigin, Data: raw})
	}), pageURL)
	require.NoError(t, frame.Loaded())
	require.NoError(t, frame.Start("", nil))

	env = next(t, conn, KindPost)
	assert.Equal(t, pageID, gjson.Get(env, "page_id").String())
	assert.Equal(t, frameOrigin, gjson.Get(env, "target_origin").String())
	assert.Equal(t, "ID_ATTRIBUTION", gjson.Get(env, "message.type").String())

	msg, err := bridge.Decode([]byte(gjson.Get(env, "message").Raw))
	require.NoError(t, err)
	require.NoError(t, frame.Receive(msg))
	assert.Equal(t, bridge.StateActive, frame.State())
	assert.Equal(t, pageID, frame.ID())

	require.Eventually(t, func() bool {
		page, ok := f.pages.Get(pageID)
		return ok && page.Handshaken && !page.ShowSplash
	}, time.Second, 5*time.Millisecond)
}

func TestRelayBroadcastsProgressAndDisposal(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)

	page, err := f.pages.Submit(context.Background(), "http://www.example.com/")
	require.NoError(t, err)

	f.hub.Publish(page.ID, progress.Event{Step: progress.HTMLFetching, Progress: 25, Message: "Fetching HTML"})
	env := next(t, conn, KindProgress)
	assert.Equal(t, "HTML_FETCHING", gjson.Get(env, "progress.step").String())

	require.NoError(t, conn.WriteJSON(Request{Kind: KindNavigate, PageID: page.ID, URL: "https://elsewhere.org/"}))
	env = next(t, conn, KindOpenExternal)
	assert.Equal(t, "https://elsewhere.org/", gjson.Get(env, "url").String())

	require.NoError(t, conn.WriteJSON(Request{Kind: KindDispose, PageID: page.ID}))
	env = next(t, conn, KindDisposed)
	assert.Equal(t, page.ID, gjson.Get(env, "page_id").String())
}

func TestRelayErrors(t *testing.T) {
	f := newRelayFixture(t)
	conn := f.dial(t)

	tests := []struct {
		name string
		send func() error
	}{
		{"invalid json", func() error { return conn.WriteMessage(websocket.TextMessage, []byte("{")) }},
		{"unknown kind", func() error { return conn.WriteJSON(Request{Kind: "reboot"}) }},
		{"bad submit", func() error { return conn.WriteJSON(Request{Kind: KindSubmit, URL: "ftp://x"}) }},
		{"navigate unknown page", func() error {
			return conn.WriteJSON(Request{Kind: KindNavigate, PageID: "page_x", URL: "http://example.com/"})
		}},
		{"message without data", func() error { return conn.WriteJSON(Request{Kind: KindMessage}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.send())
			env := next(t, conn, KindError)
			assert.NotEmpty(t, gjson.Get(env, "error").String())
		})
	}
}

func TestRelayCheckOrigin(t *testing.T) {
	f := newRelayFixture(t)

	tests := []struct {
		origin string
		want   int
	}{
		{frameOrigin, http.StatusForbidden},
		{"https://evil.example", http.StatusForbidden},
		{"null", http.StatusForbidden},
		{"http://localhost:5173", http.StatusSwitchingProtocols},
		{"http://127.0.0.1:8080", http.StatusSwitchingProtocols},
		{"https://VIEWER.example.com", http.StatusSwitchingProtocols},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			header := http.Header{}
			header.Set("Origin", tt.origin)
			conn, resp, err := websocket.DefaultDialer.Dial(f.url, header)
			require.NotNil(t, resp)
			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.want == http.StatusSwitchingProtocols {
				require.NoError(t, err)
				conn.Close()
			} else {
				assert.Error(t, err)
			}
		})
	}
}
