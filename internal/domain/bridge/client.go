package bridge

import (
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
)

// ClientState is the frame-side handshake state.
type ClientState int

const (
	StateUninitialized ClientState = iota
	StateInitSent
	StateIdentified
	StateActive
)

func (s ClientState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitSent:
		return "INIT_SENT"
	case StateIdentified:
		return "IDENTIFIED"
	case StateActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Poster delivers a message from the frame to the top-level host.
type Poster interface {
	Post(msg Message) error
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(msg Message) error

// Post calls f(msg).
func (f PosterFunc) Post(msg Message) error { return f(msg) }

// Client runs the frame side of the handshake:
// UNINITIALIZED -> INIT_SENT -> IDENTIFIED -> ACTIVE.
type Client struct {
	poster     Poster
	originHref string

	mu          sync.Mutex
	state       ClientState
	id          string
	loadPending bool
}

// NewClient creates a client for the document at originHref.
func NewClient(poster Poster, originHref string) *Client {
	return &Client{poster: poster, originHref: originHref}
}

// State returns the current handshake state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the assigned identity, "" before ID_ATTRIBUTION.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Start sends INIT. It may only be called once.
func (c *Client) Start(manifestURL string, sig *SDKSignature) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUninitialized {
		return fmt.Errorf("bridge client already started (%s)", c.state)
	}
	if err := c.poster.Post(Init{OriginHref: c.originHref, ManifestURL: manifestURL, SDKSignature: sig}); err != nil {
		return fmt.Errorf("failed to send INIT: %w", err)
	}
	c.state = StateInitSent
	return nil
}

// Receive handles a message from the host. Only ID_ATTRIBUTION changes state;
// a second attribution with a different id is rejected.
func (c *Client) Receive(msg Message) error {
	attribution, ok := msg.(IDAttribution)
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUninitialized:
		return fmt.Errorf("%w: attribution before INIT", ErrProtocolViolation)
	case StateIdentified, StateActive:
		if attribution.ID != c.id {
			return fmt.Errorf("%w: identity changed from %q to %q", ErrProtocolViolation, c.id, attribution.ID)
		}
		return nil
	}

	c.id = attribution.ID
	c.state = StateIdentified

	if c.loadPending {
		return c.sendIdleLocked()
	}
	return nil
}

// Loaded signals that the document finished loading. Before identification
// the NETWORK_IDLE is deferred until ID_ATTRIBUTION arrives.
func (c *Client) Loaded() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUninitialized, StateInitSent:
		c.loadPending = true
		return nil
	case StateIdentified:
		return c.sendIdleLocked()
	default:
		return nil
	}
}

// Send posts an application message tagged with the client's identity.
func (c *Client) Send(kind Type, data any) error {
	c.mu.Lock()
	id := c.id
	c.mu.Unlock()

	if id == "" {
		return ErrNotIdentified
	}

	var raw []byte
	if data != nil {
		var err error
		if raw, err = sonic.Marshal(data); err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
	}
	return c.poster.Post(Unknown{Kind: string(kind), ID: id, Data: raw})
}

func (c *Client) sendIdleLocked() error {
	if err := c.poster.Post(NetworkIdle{ID: c.id}); err != nil {
		return fmt.Errorf("failed to send NETWORK_IDLE: %w", err)
	}
	c.loadPending = false
	c.state = StateActive
	return nil
}
