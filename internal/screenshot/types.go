// Package screenshot defines core types shared across subsystems.
package screenshot

import (
	"time"
)

// Format is the encoded output image format.
type Format string

// Supported output formats.
const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// ColorScheme values map onto the prefers-color-scheme media feature.
const (
	ColorSchemeLight = "light"
	ColorSchemeDark  = "dark"
)

// Cookie is a cookie applied to the browser context before navigation.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"http_only,omitempty"`
	SameSite string `json:"same_site,omitempty"`
}

// CaptureRequest captures everything needed to render one screenshot.
// It is treated as an immutable value once normalized.
type CaptureRequest struct {
	URL      string `json:"url"`
	Selector string `json:"selector,omitempty"`

	ViewportWidth     int     `json:"viewport_width"`
	ViewportHeight    int     `json:"viewport_height"`
	DeviceScaleFactor float64 `json:"device_scale_factor"`
	Mobile            bool    `json:"mobile"`
	Landscape         bool    `json:"landscape"`
	Touch             bool    `json:"touch"`

	FullPage         bool `json:"full_page"`
	FullPageScroll   bool `json:"full_page_scroll"`
	ScrollDurationMs int  `json:"scroll_duration_ms"`

	Format  Format `json:"format"`
	Quality int    `json:"quality"`

	BlockAds           bool     `json:"block_ads"`
	BlockTrackers      bool     `json:"block_trackers"`
	BlockCookieBanners bool     `json:"block_cookie_banners"`
	BlockPatterns      []string `json:"block_patterns,omitempty"`
	BlockResourceTypes []string `json:"block_resource_types,omitempty"`

	ColorScheme   string `json:"color_scheme,omitempty"`
	ReducedMotion bool   `json:"reduced_motion"`

	CacheEnabled bool   `json:"cache_enabled"`
	CacheTTLSec  int    `json:"cache_ttl_sec"`
	CacheKey     string `json:"cache_key,omitempty"`

	UserAgent string            `json:"user_agent,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Cookies   []Cookie          `json:"cookies,omitempty"`
	BypassCSP bool              `json:"bypass_csp"`

	TenantID string `json:"tenant_id"`
}

// Record is the durable metadata row persisted for each stored capture.
// Created once on successful upload, deleted only as orphan cleanup.
type Record struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Request    CaptureRequest `json:"request"`
	StorageKey string         `json:"storage_key"`
	DurationMs int64          `json:"duration_ms"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// StorageKey derives the object key for a record id, tenant and format.
func StorageKey(tenantID, recordID string, format Format) string {
	return "screenshots/" + tenantID + "/" + recordID + "." + string(format)
}

// State is the terminal delivery state for one request.
type State string

// Terminal request states; each maps to a cache-header policy.
const (
	StateFound     State = "found"
	StateGenerated State = "generated"
	StateFailed    State = "failed"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock with the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
