package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultScope(t *testing.T) {
	base := "http://app--example-com.localhost:3000/manifest.json"
	tests := []struct {
		name string
		m    *WebManifest
		want string
	}{
		{"nil manifest", nil, "/"},
		{"explicit scope", &WebManifest{Scope: "/app/", StartURL: "/other/index.html"}, "/app/"},
		{"start url directory", &WebManifest{StartURL: "/games/play/index.html"}, "/games/play/"},
		{"start url directory slash", &WebManifest{StartURL: "/games/"}, "/games/"},
		{"relative start url", &WebManifest{StartURL: "start.html?src=pwa"}, "/"},
		{"absolute start url", &WebManifest{StartURL: "https://example.com/a/b"}, "/a/"},
		{"nothing", &WebManifest{}, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultScope(tt.m, base))
		})
	}
}

func TestIsURLInScope(t *testing.T) {
	base := "http://app--example-com.localhost:3000"
	tests := []struct {
		name   string
		target string
		scope  string
		want   bool
	}{
		{"root scope", "http://app--example-com.localhost:3000/anything", "/", true},
		{"empty scope means root", "http://app--example-com.localhost:3000/x", "", true},
		{"inside scope", "http://app--example-com.localhost:3000/app/page", "/app/", true},
		{"outside scope", "http://app--example-com.localhost:3000/blog/", "/app/", false},
		{"other host same path", "http://other-com.localhost:3000/app/page", "/app/", false},
		{"real origin", "https://app.example.com/app/page", "/app/", false},
		{"relative target", "/app/page", "/app/", false},
		{"garbage", "http://%zz", "/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsURLInScope(tt.target, tt.scope, base))
		})
	}
}

func TestLoadingIcon(t *testing.T) {
	assert.Empty(t, LoadingIcon(nil))

	icons := []Icon{
		{Src: "small.png", Sizes: "48x48"},
		{Src: "big.png", Sizes: "192x192 1024x1024"},
		{Src: "mask-small.png", Sizes: "256x256", Purpose: "maskable"},
	}
	assert.Equal(t, "big.png", LoadingIcon(icons))

	icons = append(icons, Icon{Src: "mask.png", Sizes: "512x512", Purpose: "any maskable"})
	assert.Equal(t, "mask.png", LoadingIcon(icons))
}
