package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spatialviewer/backend/internal/domain/bridge"
	"github.com/spatialviewer/backend/internal/domain/codec"
	"github.com/spatialviewer/backend/internal/domain/manifest"
	"github.com/spatialviewer/backend/internal/domain/progress"
	"github.com/spatialviewer/backend/internal/infrastructure/monitoring"
	"github.com/spatialviewer/backend/internal/shared/id"
)

const manifestTimeout = 15 * time.Second

var (
	// ErrPageNotFound is returned for unknown or disposed page ids.
	ErrPageNotFound = errors.New("page not found")
	// ErrInvalidURL is returned for URLs that cannot be shown in a frame.
	ErrInvalidURL = errors.New("invalid url")
)

// Page is the registry's view of one embedded frame.
type Page struct {
	ID string `json:"id"`
	// URL is the proxied address loaded in the frame, including pageId.
	URL string `json:"url"`
	// TargetURL is the real address URL stands for.
	TargetURL    string                `json:"target_url"`
	ShowSplash   bool                  `json:"show_splash"`
	Handshaken   bool                  `json:"handshaken"`
	Manifest     *manifest.WebManifest `json:"manifest,omitempty"`
	LoadingIcon  string                `json:"loading_icon,omitempty"`
	SDKSignature *bridge.SDKSignature  `json:"sdk_signature,omitempty"`
	Progress     *progress.Event       `json:"progress,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// NavigateResult tells the caller where a navigation ended up.
type NavigateResult struct {
	InScope     bool   `json:"in_scope"`
	Page        *Page  `json:"page,omitempty"`
	ExternalURL string `json:"external_url,omitempty"`
}

// Stats summarises the registry.
type Stats struct {
	Pages      int  `json:"pages"`
	Handshaken int  `json:"handshaken"`
	Loading    int  `json:"loading"`
	MultiPage  bool `json:"multi_page"`
}

// ManifestLoader loads a manifest referenced by a page.
type ManifestLoader interface {
	Load(ctx context.Context, manifestURL, pageURL string) (*manifest.WebManifest, error)
}

// Config configures a Manager.
type Config struct {
	// MultiPage keeps previous pages alive on Submit.
	MultiPage bool
}

type entry struct {
	page     Page
	listener *bridge.Listener
	// manifestRef is the last manifest URL requested for the page.
	manifestRef string
}

// Manager tracks pages and routes bridge traffic to them.
type Manager struct {
	cfg     Config
	codec   *codec.Codec
	loader  ManifestLoader
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	pages    map[string]*entry // Protected by mu
	notifier Notifier          // Protected by mu

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a registry. When hub is set, page progress is tracked
// from the events it publishes.
func NewManager(cfg Config, c *codec.Codec, hub *progress.Hub, loader ManifestLoader, logger *zap.Logger, metrics *monitoring.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		codec:    c,
		loader:   loader,
		logger:   logger.Named("registry"),
		metrics:  metrics,
		pages:    make(map[string]*entry),
		notifier: NopNotifier{},
		ctx:      ctx,
		cancel:   cancel,
	}
	if hub != nil {
		hub.SetObserver(m.observeProgress)
	}
	return m
}

// SetNotifier installs the host controller notifier. nil restores a no-op.
func (m *Manager) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	m.mu.Lock()
	m.notifier = n
	m.mu.Unlock()
}

func (m *Manager) notify() Notifier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notifier
}

// Submit opens rawURL in a new page. In single-page mode every existing
// page is disposed first.
func (m *Manager) Submit(ctx context.Context, rawURL string) (*Page, error) {
	target, err := m.parseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pageID := id.NewPageID().String()
	src := m.codec.ProxyURL(target, pageID).String()

	listener, err := bridge.NewListener(bridge.ListenerConfig{
		PageID:  pageID,
		Src:     src,
		Replier: m,
		Hooks:   m,
		Logger:  m.logger,
		Metrics: m.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	now := time.Now()
	e := &entry{
		page: Page{
			ID:         pageID,
			URL:        src,
			TargetURL:  target.String(),
			ShowSplash: true,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		listener: listener,
	}

	var replaced []*entry
	m.mu.Lock()
	if !m.cfg.MultiPage {
		for key, old := range m.pages {
			replaced = append(replaced, old)
			delete(m.pages, key)
		}
	}
	m.pages[pageID] = e
	count := len(m.pages)
	page := e.page
	m.mu.Unlock()

	m.metrics.SetPagesActive(count)
	notifier := m.notify()
	for _, old := range replaced {
		old.listener.Dispose()
		notifier.PageDisposed(old.page.ID)
		m.logger.Debug("page replaced", zap.String("page_id", old.page.ID))
	}

	m.logger.Info("page submitted",
		zap.String("page_id", pageID),
		zap.String("target", page.TargetURL),
		zap.String("src", src))
	notifier.PageUpdated(page)
	return &page, nil
}

// Navigate moves a page to targetURL when it lies inside the page's manifest
// scope (or "/" without a manifest). Anything else is handed to the host to
// open externally and the page is left untouched.
func (m *Manager) Navigate(ctx context.Context, pageID, targetURL string) (*NavigateResult, error) {
	target, err := m.parseTarget(targetURL)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proxied := m.codec.ProxyURL(target, "")

	m.mu.Lock()
	e, ok := m.pages[pageID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrPageNotFound
	}

	current, err := url.Parse(e.page.TargetURL)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	base := m.codec.BaseProxyURL(current)
	scope := "/"
	if e.page.Manifest != nil && e.page.Manifest.Scope != "" {
		scope = e.page.Manifest.Scope
	}

	if !manifest.IsURLInScope(proxied.String(), scope, base) {
		m.mu.Unlock()
		external := target.String()
		m.logger.Info("navigation out of scope",
			zap.String("page_id", pageID),
			zap.String("url", external),
			zap.String("scope", scope))
		m.notify().OpenExternal(pageID, external)
		return &NavigateResult{InScope: false, ExternalURL: external}, nil
	}

	src := m.codec.ProxyURL(target, pageID).String()
	if err := e.listener.SetSource(src); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	e.page.URL = src
	e.page.TargetURL = target.String()
	e.page.ShowSplash = true
	e.page.Handshaken = false
	e.page.Progress = nil
	e.page.UpdatedAt = time.Now()
	page := e.page
	m.mu.Unlock()

	m.logger.Info("page navigated", zap.String("page_id", pageID), zap.String("target", page.TargetURL))
	m.notify().PageUpdated(page)
	return &NavigateResult{InScope: true, Page: &page}, nil
}

// Dispose tears down a page. It reports whether the page existed; calling it
// again is a no-op.
func (m *Manager) Dispose(pageID string) bool {
	m.mu.Lock()
	e, ok := m.pages[pageID]
	if ok {
		delete(m.pages, pageID)
	}
	count := len(m.pages)
	m.mu.Unlock()

	if !ok {
		return false
	}

	// Hooks take m.mu, so the listener is stopped outside the lock.
	e.listener.Dispose()
	m.metrics.SetPagesActive(count)
	m.notify().PageDisposed(pageID)
	m.logger.Info("page disposed", zap.String("page_id", pageID))
	return true
}

// Route hands an inbound window message to every live listener. Each
// listener decides on its own whether the message is meant for it. It
// returns the number of listeners that accepted delivery.
func (m *Manager) Route(in bridge.Inbound) int {
	m.mu.RLock()
	listeners := make([]*bridge.Listener, 0, len(m.pages))
	for _, e := range m.pages {
		listeners = append(listeners, e.listener)
	}
	m.mu.RUnlock()

	delivered := 0
	for _, l := range listeners {
		if l.Deliver(in) {
			delivered++
		}
	}
	return delivered
}

// Get returns a copy of the page.
func (m *Manager) Get(pageID string) (*Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.pages[pageID]
	if !ok {
		return nil, false
	}
	page := e.page
	return &page, true
}

// List returns all pages, oldest first.
func (m *Manager) List() []Page {
	m.mu.RLock()
	pages := make([]Page, 0, len(m.pages))
	for _, e := range m.pages {
		pages = append(pages, e.page)
	}
	m.mu.RUnlock()

	sort.Slice(pages, func(i, j int) bool {
		if pages[i].CreatedAt.Equal(pages[j].CreatedAt) {
			return pages[i].ID < pages[j].ID
		}
		return pages[i].CreatedAt.Before(pages[j].CreatedAt)
	})
	return pages
}

// Stats returns registry statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Pages: len(m.pages), MultiPage: m.cfg.MultiPage}
	for _, e := range m.pages {
		if e.page.Handshaken {
			stats.Handshaken++
		}
		if e.page.ShowSplash {
			stats.Loading++
		}
	}
	return stats
}

// HintManifest loads a manifest discovered in a page's markup unless the
// page already has one or it was already requested.
func (m *Manager) HintManifest(pageID, href string) {
	m.requestManifest(pageID, href, false)
}

// Close disposes every page and waits for background manifest loads.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.pages))
	for key, e := range m.pages {
		entries = append(entries, e)
		delete(m.pages, key)
	}
	m.mu.Unlock()

	m.cancel()
	for _, e := range entries {
		e.listener.Dispose()
	}
	m.wg.Wait()
	m.metrics.SetPagesActive(0)
}

// Reply implements bridge.Replier.
func (m *Manager) Reply(pageID, targetOrigin string, msg bridge.Message) error {
	if _, ok := m.Get(pageID); !ok {
		return ErrPageNotFound
	}
	m.notify().Post(pageID, targetOrigin, msg)
	return nil
}

// Init implements bridge.Hooks. An INIT for a document the page has already
// navigated away from is ignored.
func (m *Manager) Init(pageID string, msg bridge.Init) {
	current := false
	page, ok := m.update(pageID, func(p *Page) {
		if !bridge.SameDocument(msg.OriginHref, p.URL) {
			return
		}
		current = true
		p.Handshaken = true
		if msg.SDKSignature != nil {
			sig := *msg.SDKSignature
			p.SDKSignature = &sig
		}
	})
	if !ok || !current {
		return
	}
	m.notify().PageUpdated(page)

	if msg.ManifestURL != "" {
		m.requestManifest(pageID, msg.ManifestURL, true)
	}
}

// NetworkIdle implements bridge.Hooks.
func (m *Manager) NetworkIdle(pageID string) {
	page, ok := m.update(pageID, func(p *Page) {
		p.ShowSplash = false
	})
	if ok {
		m.notify().PageUpdated(page)
	}
}

// FrameError implements bridge.Hooks.
func (m *Manager) FrameError(pageID string, msg bridge.Error) {
	if _, ok := m.Get(pageID); !ok {
		return
	}
	m.logger.Warn("frame reported an error", zap.String("page_id", pageID), zap.String("message", msg.Message))
	m.notify().FrameMessage(pageID, msg)
}

// FrameLog implements bridge.Hooks.
func (m *Manager) FrameLog(pageID string, msg bridge.Log) {
	if _, ok := m.Get(pageID); !ok {
		return
	}
	fields := []zap.Field{zap.String("page_id", pageID), zap.String("message", msg.Text)}
	switch strings.ToLower(msg.Level) {
	case "error":
		m.logger.Warn("frame console", fields...)
	case "warn":
		m.logger.Info("frame console", fields...)
	default:
		m.logger.Debug("frame console", fields...)
	}
	m.notify().FrameMessage(pageID, msg)
}

// FrameMessage implements bridge.Hooks.
func (m *Manager) FrameMessage(pageID string, msg bridge.Message) {
	if _, ok := m.Get(pageID); !ok {
		return
	}
	m.notify().FrameMessage(pageID, msg)
}

func (m *Manager) observeProgress(pageID string, event progress.Event) {
	page, ok := m.update(pageID, func(p *Page) {
		e := event
		p.Progress = &e
	})
	if ok {
		m.notify().Progress(page.ID, event)
	}
}

// update mutates a live page and returns a copy. It reports false when the
// page is gone.
func (m *Manager) update(pageID string, fn func(*Page)) (Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.pages[pageID]
	if !ok {
		return Page{}, false
	}
	fn(&e.page)
	e.page.UpdatedAt = time.Now()
	return e.page, true
}

// requestManifest starts a background load. force reloads even when the page
// already carries a manifest.
func (m *Manager) requestManifest(pageID, ref string, force bool) {
	if m.loader == nil || strings.TrimSpace(ref) == "" {
		return
	}

	m.mu.Lock()
	e, ok := m.pages[pageID]
	if !ok || e.manifestRef == ref || (!force && e.page.Manifest != nil) {
		m.mu.Unlock()
		return
	}
	e.manifestRef = ref
	pageURL := e.page.URL
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(m.ctx, manifestTimeout)
		defer cancel()

		loaded, err := m.loader.Load(ctx, ref, pageURL)
		if err != nil {
			m.logger.Debug("page has no usable manifest", zap.String("page_id", pageID), zap.Error(err))
			return
		}

		page, ok := m.update(pageID, func(p *Page) {
			if p.URL != pageURL {
				return
			}
			p.Manifest = loaded
			p.LoadingIcon = manifest.LoadingIcon(loaded.Icons)
		})
		if !ok || page.URL != pageURL {
			return
		}
		m.logger.Info("manifest applied",
			zap.String("page_id", pageID),
			zap.String("name", loaded.Name),
			zap.String("scope", loaded.Scope))
		m.notify().PageUpdated(page)
	}()
}

func (m *Manager) parseTarget(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if codec.IsSynthetic(u.Host) {
		origin, err := m.codec.RealURL(u)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
		u = origin
	}
	u.RawQuery = codec.StripQueryParam(u.RawQuery, codec.PageIDParam)
	return u, nil
}
