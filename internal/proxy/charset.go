package proxy

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// minDetectConfidence is the chardet confidence below which the
// content-type/meta based guess is kept.
const minDetectConfidence = 50

// toUTF8 transcodes an HTML document to UTF-8. An explicit charset (BOM or
// Content-Type) wins; otherwise valid UTF-8 is kept and anything else is
// sniffed. Unknown charsets leave the body untouched.
func toUTF8(body []byte, contentType string) ([]byte, string, error) {
	_, name, certain := charset.DetermineEncoding(body, contentType)
	if !certain {
		if utf8.Valid(body) {
			return body, "utf-8", nil
		}
		if res, err := chardet.NewHtmlDetector().DetectBest(body); err == nil && res.Confidence >= minDetectConfidence {
			name = res.Charset
		}
	}

	if isUTF8(name) {
		return body, "utf-8", nil
	}

	r, err := charset.NewReaderLabel(name, bytes.NewReader(body))
	if err != nil {
		return body, name, nil
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, name, fmt.Errorf("failed to transcode from %s: %w", name, err)
	}
	return out, name, nil
}

func isUTF8(name string) bool {
	switch strings.ToLower(name) {
	case "utf-8", "utf8":
		return true
	}
	return false
}
