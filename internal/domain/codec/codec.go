package codec

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidHostFormat is returned when a Host is not a synthetic proxy host.
var ErrInvalidHostFormat = errors.New("invalid host format")

const (
	// Suffix is the pseudo top-level domain every synthetic host lives under.
	Suffix = "localhost"
	// Separator splits the site part from the domain part of a label.
	Separator = "--"
	// PageIDParam is the query parameter opting a request into progress events.
	PageIDParam = "pageId"
)

var (
	syntheticHostRe = regexp.MustCompile(`^([^.]+)\.localhost(:\d+)?$`)
	labelCharsRe    = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// SyntheticHost is a proxy-side host such as app--example-com.localhost:3000.
type SyntheticHost struct {
	Label string
	Port  int
}

// Hostname returns the host without port.
func (h SyntheticHost) Hostname() string {
	return h.Label + "." + Suffix
}

// String returns the host with its port when one is set.
func (h SyntheticHost) String() string {
	if h.Port == 0 {
		return h.Hostname()
	}
	return h.Hostname() + ":" + strconv.Itoa(h.Port)
}

// Decoded is the real-world origin recovered from a synthetic host.
type Decoded struct {
	// Hostname is the upstream hostname, e.g. lofi-jingle-avp.vercel.app.
	Hostname string
	// Site is the leading part before "--", empty for bare domains.
	Site string
	// Domain is the dotted domain suffix, e.g. vercel.app.
	Domain string
	// Port is the port the synthetic host was addressed on, 0 if absent.
	Port int
}

// EncodeHost maps a real hostname to its synthetic host. It never fails.
func EncodeHost(hostname string, port int) SyntheticHost {
	hostname = strings.TrimSuffix(strings.ToLower(hostname), ".")
	labels := strings.Split(hostname, ".")

	if len(labels) < 2 {
		return SyntheticHost{Label: hostname, Port: port}
	}

	mainDomain := strings.Join(labels[len(labels)-2:], "-")
	siteName := strings.Join(labels[:len(labels)-2], "-")

	label := mainDomain
	if siteName != "" {
		label = siteName + Separator + mainDomain
	}
	return SyntheticHost{Label: label, Port: port}
}

// DecodeHost recovers the real hostname from a synthetic Host header value.
func DecodeHost(host string) (Decoded, error) {
	match := syntheticHostRe.FindStringSubmatch(strings.ToLower(host))
	if match == nil {
		return Decoded{}, fmt.Errorf("%w: %q", ErrInvalidHostFormat, host)
	}

	var port int
	if match[2] != "" {
		p, err := strconv.Atoi(match[2][1:])
		if err != nil || p > 65535 {
			return Decoded{}, fmt.Errorf("%w: bad port in %q", ErrInvalidHostFormat, host)
		}
		port = p
	}

	label := match[1]
	if !labelCharsRe.MatchString(label) {
		return Decoded{}, fmt.Errorf("%w: %q", ErrInvalidHostFormat, host)
	}

	parts := strings.Split(label, Separator)
	switch len(parts) {
	case 1:
		hostname := strings.ReplaceAll(parts[0], "-", ".")
		return Decoded{Hostname: hostname, Domain: hostname, Port: port}, nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return Decoded{}, fmt.Errorf("%w: empty label part in %q", ErrInvalidHostFormat, host)
		}
		domain := strings.ReplaceAll(parts[1], "-", ".")
		return Decoded{
			Hostname: parts[0] + "." + domain,
			Site:     parts[0],
			Domain:   domain,
			Port:     port,
		}, nil
	default:
		return Decoded{}, fmt.Errorf("%w: separator repeated in %q", ErrInvalidHostFormat, host)
	}
}

// IsSynthetic reports whether host looks like a synthetic proxy host.
func IsSynthetic(host string) bool {
	return syntheticHostRe.MatchString(strings.ToLower(host))
}

// Codec binds the host mapping to a deployment: the scheme and public port
// used in generated URLs and for upstream fetches.
type Codec struct {
	production bool
	port       int
}

// New creates a codec. production selects https over http.
func New(production bool, port int) *Codec {
	return &Codec{production: production, port: port}
}

// Scheme returns the scheme used upstream and in generated proxy URLs.
func (c *Codec) Scheme() string {
	if c.production {
		return "https"
	}
	return "http"
}

// Port returns the public proxy port written into synthetic hosts.
func (c *Codec) Port() int {
	return c.port
}

// Encode maps a real hostname to a synthetic host on the codec's port.
func (c *Codec) Encode(hostname string) SyntheticHost {
	return EncodeHost(hostname, c.port)
}

// TargetURL builds the upstream URL for an inbound proxied request.
// escapedPath is used verbatim; the pageId parameter is stripped from the query.
func (c *Codec) TargetURL(host, escapedPath, rawQuery string) (*url.URL, error) {
	decoded, err := DecodeHost(host)
	if err != nil {
		return nil, err
	}

	if escapedPath == "" {
		escapedPath = "/"
	}
	raw := c.Scheme() + "://" + decoded.Hostname + escapedPath
	if q := StripQueryParam(rawQuery, PageIDParam); q != "" {
		raw += "?" + q
	}

	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHostFormat, err)
	}
	return target, nil
}

// ProxyURL rewrites an absolute URL so it points at its synthetic host.
// Path, query and fragment are kept; pageID is added when non-empty.
// URLs already on a synthetic host only get the pageID treatment.
func (c *Codec) ProxyURL(target *url.URL, pageID string) *url.URL {
	u := *target
	u.User = nil

	if !IsSynthetic(u.Host) {
		u.Scheme = c.Scheme()
		u.Host = c.Encode(target.Hostname()).String()
	}

	if pageID != "" {
		q := u.Query()
		q.Set(PageIDParam, pageID)
		u.RawQuery = q.Encode()
	}
	return &u
}

// BaseProxyURL returns scheme://synthetic-host for a real URL.
func (c *Codec) BaseProxyURL(target *url.URL) string {
	if IsSynthetic(target.Host) {
		return c.Scheme() + "://" + target.Host
	}
	return c.Scheme() + "://" + c.Encode(target.Hostname()).String()
}

// RealURL is the inverse of ProxyURL. Non-synthetic URLs are returned as a copy.
func (c *Codec) RealURL(proxied *url.URL) (*url.URL, error) {
	if !IsSynthetic(proxied.Host) {
		u := *proxied
		return &u, nil
	}

	origin, err := c.TargetURL(proxied.Host, proxied.EscapedPath(), proxied.RawQuery)
	if err != nil {
		return nil, err
	}
	origin.Fragment = proxied.Fragment
	origin.RawFragment = proxied.RawFragment
	return origin, nil
}

// RewriteAbsolute rewrites an absolute http(s) URL string found in markup.
// It reports false and returns raw unchanged for relative, non-http or
// already-synthetic URLs.
func (c *Codec) RewriteAbsolute(raw string) (string, bool) {
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return raw, false
	}

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" || IsSynthetic(u.Host) {
		return raw, false
	}
	return c.ProxyURL(u, "").String(), true
}

// StripQueryParam removes every occurrence of name from a raw query string
// while keeping the order and encoding of the remaining pairs.
func StripQueryParam(rawQuery, name string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	kept := pairs[:0]
	for _, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil && k == name {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}
