/*
Package bridge implements the handshake between embedded frames and the
top-level host.

A frame announces itself with INIT (carrying its location.href), the host
answers with ID_ATTRIBUTION naming the page identity, and the frame reports
NETWORK_IDLE once loaded. Every later message must carry that identity and
arrive from the frame's origin; anything else is dropped without a reply.

	l, _ := bridge.NewListener(bridge.ListenerConfig{PageID: id, Src: src, Replier: r, Hooks: h})
	l.Deliver(bridge.Inbound{Origin: origin, Data: raw})
	defer l.Dispose()

Client models the frame side as the bundled lib script implements it:
UNINITIALIZED, INIT_SENT, IDENTIFIED, then ACTIVE once NETWORK_IDLE is sent.
Go callers that stand in for a frame, such as the relay tests, drive the
handshake with it.

A repeated INIT for the current document is answered again with the same
identity. A frame that reloads without navigating re-announces itself and
must learn its id again; the identity never changes while the source stays
the same.
*/
package bridge
