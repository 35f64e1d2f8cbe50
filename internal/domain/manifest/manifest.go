package manifest

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Icon is one entry of a manifest's icons list.
type Icon struct {
	Src     string `json:"src"`
	Sizes   string `json:"sizes,omitempty"`
	Type    string `json:"type,omitempty"`
	Purpose string `json:"purpose,omitempty"`
}

// Size is a width/height pair in points.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// XRMainScene carries spatial presentation hints.
type XRMainScene struct {
	DefaultSize *Size `json:"default_size,omitempty"`
}

// WebManifest is the subset of a web app manifest the viewer uses.
type WebManifest struct {
	Name        string       `json:"name,omitempty"`
	Display     string       `json:"display,omitempty"`
	StartURL    string       `json:"start_url,omitempty"`
	Scope       string       `json:"scope,omitempty"`
	Icons       []Icon       `json:"icons,omitempty"`
	XRMainScene *XRMainScene `json:"xr_main_scene,omitempty"`
}

// DefaultScope returns the manifest scope, falling back to the directory of
// start_url resolved against base, and finally to "/".
func DefaultScope(m *WebManifest, base string) string {
	if m == nil {
		return "/"
	}
	if m.Scope != "" {
		return m.Scope
	}
	if m.StartURL == "" {
		return "/"
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "/"
	}
	start, err := baseURL.Parse(m.StartURL)
	if err != nil {
		return "/"
	}
	path := start.EscapedPath()
	if path == "" {
		return "/"
	}
	return path[:strings.LastIndex(path, "/")+1]
}

// IsURLInScope reports whether target shares base's hostname and its path
// starts with scope resolved against base. Unparseable input is out of scope.
func IsURLInScope(target, scope, base string) bool {
	if scope == "" {
		scope = "/"
	}
	targetURL, err := url.Parse(target)
	if err != nil || !targetURL.IsAbs() {
		return false
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return false
	}
	scopeURL, err := baseURL.Parse(scope)
	if err != nil {
		return false
	}

	if !strings.EqualFold(targetURL.Hostname(), scopeURL.Hostname()) {
		return false
	}
	targetPath := targetURL.EscapedPath()
	if targetPath == "" {
		targetPath = "/"
	}
	scopePath := scopeURL.EscapedPath()
	if scopePath == "" {
		scopePath = "/"
	}
	return strings.HasPrefix(targetPath, scopePath)
}

// LoadingIcon picks the splash icon: a maskable icon of at least 512px,
// otherwise the largest icon. It returns "" when there are none.
func LoadingIcon(icons []Icon) string {
	for _, icon := range icons {
		if hasPurpose(icon, "maskable") && iconSize(icon) >= 512 {
			return icon.Src
		}
	}
	if len(icons) == 0 {
		return ""
	}

	sorted := append([]Icon(nil), icons...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return iconSize(sorted[i]) > iconSize(sorted[j])
	})
	return sorted[0].Src
}

func hasPurpose(icon Icon, purpose string) bool {
	for _, p := range strings.Fields(icon.Purpose) {
		if p == purpose {
			return true
		}
	}
	return false
}

// iconSize returns the width of the largest "WxH" entry in sizes.
func iconSize(icon Icon) int {
	largest := 0
	for _, size := range strings.Fields(icon.Sizes) {
		w, _, _ := strings.Cut(strings.ToLower(size), "x")
		if n, err := strconv.Atoi(w); err == nil && n > largest {
			largest = n
		}
	}
	return largest
}
