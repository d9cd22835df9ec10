package api

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagelens/pagelens/internal/screenshot"
)

func TestParseCaptureRequestFull(t *testing.T) {
	t.Parallel()

	values := url.Values{}
	values.Set("url", "https://example.com/page")
	values.Set("selector", "#hero")
	values.Set("format", "jpeg")
	values.Set("quality", "70")
	values.Set("viewport_width", "390")
	values.Set("viewport_height", "844")
	values.Set("device_scale_factor", "3")
	values.Set("mobile", "true")
	values.Set("landscape", "true")
	values.Set("full_page", "true")
	values.Set("full_page_scroll", "true")
	values.Set("scroll_duration_ms", "2500")
	values.Set("block_ads", "true")
	values.Set("block_patterns", "*.doubleclick.net, banner.js")
	values.Set("block_resource_types", "media,font")
	values.Set("color_scheme", "dark")
	values.Set("cache_ttl", "600")
	values.Set("headers", `{"X-Test":"1"}`)
	values.Set("cookies", `[{"name":"session","value":"abc","domain":"example.com"}]`)

	req, err := parseCaptureRequest(values, "acme")
	require.NoError(t, err)

	require.Equal(t, "https://example.com/page", req.URL)
	require.Equal(t, "#hero", req.Selector)
	require.Equal(t, screenshot.FormatJPEG, req.Format)
	require.Equal(t, 70, req.Quality)
	require.Equal(t, 390, req.ViewportWidth)
	require.Equal(t, 844, req.ViewportHeight)
	require.Equal(t, 3.0, req.DeviceScaleFactor)
	require.True(t, req.Mobile)
	require.True(t, req.Landscape)
	require.True(t, req.FullPage)
	require.True(t, req.FullPageScroll)
	require.Equal(t, 2500, req.ScrollDurationMs)
	require.True(t, req.BlockAds)
	require.Equal(t, []string{"*.doubleclick.net", "banner.js"}, req.BlockPatterns)
	require.Equal(t, []string{"media", "font"}, req.BlockResourceTypes)
	require.Equal(t, "dark", req.ColorScheme)
	require.Equal(t, 600, req.CacheTTLSec)
	require.Equal(t, map[string]string{"X-Test": "1"}, req.Headers)
	require.Len(t, req.Cookies, 1)
	require.Equal(t, "session", req.Cookies[0].Name)
	require.Equal(t, "acme", req.TenantID)
	require.True(t, req.CacheEnabled)
}

func TestParseCaptureRequestDefaultsCacheEnabled(t *testing.T) {
	t.Parallel()

	req, err := parseCaptureRequest(url.Values{"url": {"https://example.com"}}, "t")
	require.NoError(t, err)
	require.True(t, req.CacheEnabled)

	req, err = parseCaptureRequest(url.Values{
		"url":           {"https://example.com"},
		"cache_enabled": {"false"},
	}, "t")
	require.NoError(t, err)
	require.False(t, req.CacheEnabled)
}

func TestParseCaptureRequestRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		key   string
		value string
		field string
	}{
		{"bad int", "viewport_width", "wide", "viewport_width"},
		{"bad float", "device_scale_factor", "x2", "device_scale_factor"},
		{"bad bool", "full_page", "yep", "full_page"},
		{"bad headers json", "headers", "{", "headers"},
		{"bad cookies json", "cookies", `{"name":"a"}`, "cookies"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			values := url.Values{"url": {"https://example.com"}}
			values.Set(tc.key, tc.value)

			_, err := parseCaptureRequest(values, "t")
			var verr *screenshot.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
		})
	}
}
