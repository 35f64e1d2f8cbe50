// Package ws relays bridge traffic between host controllers and the page
// registry over WebSocket.
//
// A host controller is the window that embeds the proxied frames. It
// forwards every window message event it observes and delivers the replies
// the registry addresses to a frame.
//
// Message Types (Controller → Server):
//   - message: window message event {origin, data}
//   - submit: open {url} in a new page
//   - navigate: move {page_id} to {url}
//   - dispose: tear down {page_id}
//   - ping: keep-alive
//
// Message Types (Server → Controller):
//   - post: bridge message to deliver to a frame at {target_origin}
//   - page: page state changed
//   - progress: fetch progress for a page
//   - open_external: open {url} outside the viewer
//   - frame: accepted frame traffic (errors, logs, custom messages)
//   - disposed: page torn down
//   - error, pong
//
// Example Usage:
//
//	relay := ws.NewRelay(pages, ws.Config{AllowedOrigins: origins}, logger, metrics)
//	pages.SetNotifier(relay)
//	router.GET("/bridge", relay.HandleConnection)
package ws
