package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/spatialviewer/backend/internal/domain/codec"
)

// ErrUnavailable means no usable manifest could be obtained.
var ErrUnavailable = errors.New("manifest unavailable")

// JSONGetter fetches and decodes a JSON document.
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, v any) error
}

// Loader fetches manifests referenced by proxied pages.
type Loader struct {
	getter JSONGetter
	codec  *codec.Codec
	logger *zap.Logger
}

// NewLoader creates a manifest loader.
func NewLoader(getter JSONGetter, c *codec.Codec, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{getter: getter, codec: c, logger: logger.Named("manifest")}
}

// Load resolves manifestURL against pageURL, fetches it from the real origin
// and normalises it: icon sources and the scope become absolute proxy URLs,
// resolved against the manifest's own address, and a missing scope is derived
// from start_url. Every failure wraps ErrUnavailable.
func (l *Loader) Load(ctx context.Context, manifestURL, pageURL string) (*WebManifest, error) {
	if strings.TrimSpace(manifestURL) == "" {
		return nil, fmt.Errorf("%w: no manifest url", ErrUnavailable)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	ref, err := base.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	ref.RawQuery = codec.StripQueryParam(ref.RawQuery, codec.PageIDParam)

	origin, err := l.codec.RealURL(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	origin.Fragment, origin.RawFragment = "", ""

	var m WebManifest
	if err := l.getter.GetJSON(ctx, origin.String(), &m); err != nil {
		l.logger.Warn("failed to load manifest", zap.String("url", origin.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	proxied := l.codec.ProxyURL(ref, "")
	for i, icon := range m.Icons {
		src, err := proxied.Parse(icon.Src)
		if err != nil {
			continue
		}
		m.Icons[i].Src = l.codec.ProxyURL(src, "").String()
	}
	m.Scope = DefaultScope(&m, proxied.String())
	if scope, err := proxied.Parse(m.Scope); err == nil {
		scope.RawQuery, scope.Fragment, scope.RawFragment = "", "", ""
		m.Scope = l.codec.ProxyURL(scope, "").String()
	}

	l.logger.Debug("manifest loaded",
		zap.String("url", origin.String()),
		zap.String("name", m.Name),
		zap.String("scope", m.Scope))
	return &m, nil
}

// FindLink returns the href of the first <link rel="manifest"> in an HTML
// document, or "" when there is none.
func FindLink(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse document: %w", err)
	}

	var href string
	doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		for _, token := range strings.Fields(rel) {
			if strings.EqualFold(token, "manifest") {
				href, _ = s.Attr("href")
				return false
			}
		}
		return true
	})
	return strings.TrimSpace(href), nil
}
