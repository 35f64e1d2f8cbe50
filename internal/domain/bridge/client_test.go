package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPoster struct {
	mu   sync.Mutex
	sent []Message
}

func (p *recordingPoster) Post(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return nil
}

func (p *recordingPoster) messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.sent...)
}

func TestClientHandshake(t *testing.T) {
	poster := &recordingPoster{}
	c := NewClient(poster, "http://www--example-com.localhost:3000/")
	assert.Equal(t, StateUninitialized, c.State())

	require.NoError(t, c.Start("/manifest.json", nil))
	assert.Equal(t, StateInitSent, c.State())
	assert.Error(t, c.Start("", nil))

	require.NoError(t, c.Receive(IDAttribution{ID: "page_1"}))
	assert.Equal(t, StateIdentified, c.State())
	assert.Equal(t, "page_1", c.ID())

	require.NoError(t, c.Loaded())
	assert.Equal(t, StateActive, c.State())

	sent := poster.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, Init{OriginHref: "http://www--example-com.localhost:3000/", ManifestURL: "/manifest.json"}, sent[0])
	assert.Equal(t, NetworkIdle{ID: "page_1"}, sent[1])
}

func TestClientDefersIdleUntilIdentified(t *testing.T) {
	poster := &recordingPoster{}
	c := NewClient(poster, "http://a.localhost/")

	require.NoError(t, c.Start("", nil))
	require.NoError(t, c.Loaded())
	assert.Len(t, poster.messages(), 1)

	require.NoError(t, c.Receive(IDAttribution{ID: "page_2"}))
	sent := poster.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, NetworkIdle{ID: "page_2"}, sent[1])
	assert.Equal(t, StateActive, c.State())
}

func TestClientRejectsAttributionChanges(t *testing.T) {
	c := NewClient(&recordingPoster{}, "http://a.localhost/")
	assert.ErrorIs(t, c.Receive(IDAttribution{ID: "page_1"}), ErrProtocolViolation)

	require.NoError(t, c.Start("", nil))
	require.NoError(t, c.Receive(IDAttribution{ID: "page_1"}))
	require.NoError(t, c.Receive(IDAttribution{ID: "page_1"}))
	assert.ErrorIs(t, c.Receive(IDAttribution{ID: "page_2"}), ErrProtocolViolation)
	assert.Equal(t, "page_1", c.ID())
}

func TestClientSend(t *testing.T) {
	poster := &recordingPoster{}
	c := NewClient(poster, "http://a.localhost/")
	assert.ErrorIs(t, c.Send("CUSTOM", nil), ErrNotIdentified)

	require.NoError(t, c.Start("", nil))
	require.NoError(t, c.Receive(IDAttribution{ID: "page_1"}))
	require.NoError(t, c.Send("CUSTOM", map[string]int{"n": 1}))

	sent := poster.messages()
	assert.Equal(t, Unknown{Kind: "CUSTOM", ID: "page_1", Data: []byte(`{"n":1}`)}, sent[len(sent)-1])
}
