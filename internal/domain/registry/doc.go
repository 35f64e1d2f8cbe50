// Package registry owns the embedded pages shown by the viewer.
//
// The registry maps page ids to pages and keeps one bridge listener per
// page. It is created by the server and handed to the control API and the
// bridge relay; there is no package-level state.
//
// Components:
//   - Manager: Submit, Navigate, Dispose and lookups
//   - Notifier: receives page updates, progress and outbound bridge traffic
//
// Features:
//   - Single-page mode disposes previous pages on submit
//   - Manifest scope decides between in-frame and external navigation
//   - Manifests are loaded in the background and never block a page
//   - Disposal is idempotent; later bridge traffic for the id is inert
//
// Example Usage:
//
//	m := registry.NewManager(registry.Config{}, codec, hub, loader, logger, metrics)
//	page, err := m.Submit(ctx, "https://app.example.com/")
//	res, err := m.Navigate(ctx, page.ID, "https://app.example.com/settings")
//	m.Dispose(page.ID)
package registry
