package proxy

import (
	"regexp"
	"strings"
)

var (
	headCloseRe = regexp.MustCompile(`(?i)</head>`)
	metaURLRe   = regexp.MustCompile(`(?i)(<meta[^>]+content=["'])(https?://[^"']+)(["'][^>]*>)`)
	attrURLRe   = regexp.MustCompile(`(?i)\s(href|src|action)=["'](https?://[^"']+)["']`)
	srcsetRe    = regexp.MustCompile(`(?i)\s(srcset)=["']([^"']+)["']`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// URLRewriter maps an absolute URL found in markup onto its synthetic host.
// It reports false when the URL is left as is.
type URLRewriter interface {
	RewriteAbsolute(raw string) (string, bool)
}

// RewriteStats summarises one document rewrite.
type RewriteStats struct {
	Injected bool
	URLs     int
}

// Rewriter injects the bridge script and points absolute URLs at their
// synthetic hosts. It works on the raw text and never reserialises markup.
type Rewriter struct {
	urls   URLRewriter
	script string
}

// NewRewriter creates a rewriter injecting a module script loaded from src.
func NewRewriter(urls URLRewriter, src string) *Rewriter {
	return &Rewriter{
		urls:   urls,
		script: `<script type="module" src="` + src + `"></script>`,
	}
}

// Rewrite applies, in order: script injection before the first </head>,
// meta content URLs, href/src/action URLs and srcset entries.
func (r *Rewriter) Rewrite(doc string) (string, RewriteStats) {
	var stats RewriteStats

	if loc := headCloseRe.FindStringIndex(doc); loc != nil {
		doc = doc[:loc[0]] + r.script + doc[loc[0]:]
		stats.Injected = true
	}

	doc = metaURLRe.ReplaceAllStringFunc(doc, func(match string) string {
		m := metaURLRe.FindStringSubmatch(match)
		proxied, ok := r.urls.RewriteAbsolute(m[2])
		if !ok {
			return match
		}
		stats.URLs++
		return m[1] + proxied + m[3]
	})

	doc = attrURLRe.ReplaceAllStringFunc(doc, func(match string) string {
		m := attrURLRe.FindStringSubmatch(match)
		proxied, ok := r.urls.RewriteAbsolute(m[2])
		if !ok {
			return match
		}
		stats.URLs++
		return " " + m[1] + `="` + proxied + `"`
	})

	doc = srcsetRe.ReplaceAllStringFunc(doc, func(match string) string {
		m := srcsetRe.FindStringSubmatch(match)
		candidates := strings.Split(m[2], ",")
		changed := false
		for i, candidate := range candidates {
			candidate = strings.TrimSpace(candidate)
			fields := spaceRe.Split(candidate, -1)
			proxied, ok := r.urls.RewriteAbsolute(fields[0])
			if !ok {
				candidates[i] = candidate
				continue
			}
			descriptor := ""
			if len(fields) > 1 {
				descriptor = fields[1]
			}
			candidates[i] = strings.TrimSpace(proxied + " " + descriptor)
			stats.URLs++
			changed = true
		}
		if !changed {
			return match
		}
		return " " + m[1] + `="` + strings.Join(candidates, ", ") + `"`
	})

	return doc, stats
}
