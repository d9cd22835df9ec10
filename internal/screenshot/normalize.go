package screenshot

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Normalization bounds. Requests outside these are clamped, not rejected,
// so that two requests that would render identically hash identically.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	MaxViewportDimension  = 7680
	DefaultQuality        = 80
	DefaultScrollMs       = 1500
	MaxScrollMs           = 30000
	MaxCacheTTLSec        = 60 * 60 * 24 * 30
)

// Normalize returns a canonical copy of the request. Two semantically
// identical requests must normalize byte-identically under JSON encoding:
// strings are trimmed, list fields are sorted and deduplicated, enums are
// lowercased and numeric fields are clamped into their valid ranges.
func (r CaptureRequest) Normalize() CaptureRequest {
	n := r

	n.URL = strings.TrimSpace(r.URL)
	n.Selector = strings.TrimSpace(r.Selector)
	n.TenantID = strings.TrimSpace(r.TenantID)
	n.CacheKey = strings.TrimSpace(r.CacheKey)
	n.UserAgent = strings.TrimSpace(r.UserAgent)

	if n.ViewportWidth <= 0 {
		n.ViewportWidth = DefaultViewportWidth
	}
	if n.ViewportHeight <= 0 {
		n.ViewportHeight = DefaultViewportHeight
	}
	if n.ViewportWidth > MaxViewportDimension {
		n.ViewportWidth = MaxViewportDimension
	}
	if n.ViewportHeight > MaxViewportDimension {
		n.ViewportHeight = MaxViewportDimension
	}
	if n.DeviceScaleFactor <= 0 {
		n.DeviceScaleFactor = 1
	}

	n.Format = normalizeFormat(r.Format)
	switch {
	case n.Quality <= 0:
		n.Quality = DefaultQuality
	case n.Quality > 100:
		n.Quality = 100
	}
	// Quality is meaningless for lossless output; pin it so png requests
	// with different quality values share a fingerprint.
	if n.Format == FormatPNG {
		n.Quality = 100
	}

	if !n.FullPage {
		n.FullPageScroll = false
	}
	switch {
	case n.ScrollDurationMs <= 0:
		n.ScrollDurationMs = DefaultScrollMs
	case n.ScrollDurationMs > MaxScrollMs:
		n.ScrollDurationMs = MaxScrollMs
	}
	if !n.FullPageScroll {
		n.ScrollDurationMs = 0
	}

	n.ColorScheme = strings.ToLower(strings.TrimSpace(r.ColorScheme))

	if n.CacheTTLSec < 0 {
		n.CacheTTLSec = 0
	}
	if n.CacheTTLSec > MaxCacheTTLSec {
		n.CacheTTLSec = MaxCacheTTLSec
	}

	n.BlockPatterns = normalizeList(r.BlockPatterns, false)
	n.BlockResourceTypes = normalizeList(r.BlockResourceTypes, true)

	if len(r.Headers) > 0 {
		headers := make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			headers[key] = strings.TrimSpace(v)
		}
		n.Headers = headers
	} else {
		n.Headers = nil
	}

	if len(r.Cookies) > 0 {
		cookies := make([]Cookie, len(r.Cookies))
		copy(cookies, r.Cookies)
		sort.Slice(cookies, func(i, j int) bool {
			if cookies[i].Name != cookies[j].Name {
				return cookies[i].Name < cookies[j].Name
			}
			return cookies[i].Domain < cookies[j].Domain
		})
		n.Cookies = cookies
	} else {
		n.Cookies = nil
	}

	return n
}

func normalizeFormat(f Format) Format {
	switch Format(strings.ToLower(strings.TrimSpace(string(f)))) {
	case FormatJPEG, "jpg":
		return FormatJPEG
	case FormatWebP:
		return FormatWebP
	default:
		return FormatPNG
	}
}

func normalizeList(in []string, lower bool) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// Validate checks user-supplied fields after normalization. Failures are
// user-fixable and surface as 4xx responses.
func (r CaptureRequest) Validate() error {
	if r.URL == "" {
		return &ValidationError{Field: "url", Reason: "required"}
	}
	parsed, err := url.Parse(r.URL)
	if err != nil {
		return &ValidationError{Field: "url", Reason: fmt.Sprintf("invalid: %v", err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	if parsed.Host == "" {
		return &ValidationError{Field: "url", Reason: "host required"}
	}
	if len(r.Selector) > 1024 {
		return &ValidationError{Field: "selector", Reason: "too long"}
	}
	if r.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Reason: "required"}
	}
	for _, rt := range r.BlockResourceTypes {
		if !knownResourceTypes[rt] {
			return &ValidationError{Field: "block_resource_types", Reason: "unknown resource type " + rt}
		}
	}
	switch r.ColorScheme {
	case "", ColorSchemeLight, ColorSchemeDark:
	default:
		return &ValidationError{Field: "color_scheme", Reason: "must be light or dark"}
	}
	return nil
}

var knownResourceTypes = map[string]bool{
	"document":    true,
	"stylesheet":  true,
	"image":       true,
	"media":       true,
	"font":        true,
	"script":      true,
	"xhr":         true,
	"fetch":       true,
	"websocket":   true,
	"manifest":    true,
	"eventsource": true,
	"other":       true,
}
