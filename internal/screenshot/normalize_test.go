package screenshot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAppliesDefaults(t *testing.T) {
	t.Parallel()

	n := CaptureRequest{URL: "https://example.com", TenantID: "t1"}.Normalize()

	require.Equal(t, DefaultViewportWidth, n.ViewportWidth)
	require.Equal(t, DefaultViewportHeight, n.ViewportHeight)
	require.Equal(t, 1.0, n.DeviceScaleFactor)
	require.Equal(t, FormatPNG, n.Format)
	require.Equal(t, 100, n.Quality)
	require.Zero(t, n.ScrollDurationMs)
}

func TestNormalizeClampsRanges(t *testing.T) {
	t.Parallel()

	n := CaptureRequest{
		URL:              "https://example.com",
		ViewportWidth:    100000,
		ViewportHeight:   -5,
		Quality:          300,
		Format:           FormatJPEG,
		FullPage:         true,
		FullPageScroll:   true,
		ScrollDurationMs: 90000,
		CacheTTLSec:      MaxCacheTTLSec * 2,
	}.Normalize()

	require.Equal(t, MaxViewportDimension, n.ViewportWidth)
	require.Equal(t, DefaultViewportHeight, n.ViewportHeight)
	require.Equal(t, 100, n.Quality)
	require.Equal(t, MaxScrollMs, n.ScrollDurationMs)
	require.Equal(t, MaxCacheTTLSec, n.CacheTTLSec)
}

func TestNormalizeFormatAliases(t *testing.T) {
	t.Parallel()

	require.Equal(t, FormatJPEG, CaptureRequest{Format: "JPG"}.Normalize().Format)
	require.Equal(t, FormatWebP, CaptureRequest{Format: " webp "}.Normalize().Format)
	require.Equal(t, FormatPNG, CaptureRequest{Format: "bmp"}.Normalize().Format)
}

func TestNormalizePinsQualityForPNG(t *testing.T) {
	t.Parallel()

	a := CaptureRequest{URL: "https://example.com", Format: FormatPNG, Quality: 30}.Normalize()
	b := CaptureRequest{URL: "https://example.com", Format: FormatPNG, Quality: 90}.Normalize()
	require.Equal(t, a.Quality, b.Quality)
}

func TestNormalizeScrollRequiresFullPage(t *testing.T) {
	t.Parallel()

	n := CaptureRequest{URL: "https://example.com", FullPageScroll: true}.Normalize()
	require.False(t, n.FullPageScroll)
	require.Zero(t, n.ScrollDurationMs)

	n = CaptureRequest{URL: "https://example.com", FullPage: true, FullPageScroll: true}.Normalize()
	require.True(t, n.FullPageScroll)
	require.Equal(t, DefaultScrollMs, n.ScrollDurationMs)
}

func TestNormalizeCanonicalizesLists(t *testing.T) {
	t.Parallel()

	n := CaptureRequest{
		URL:                "https://example.com",
		BlockPatterns:      []string{" b.com", "a.com", "a.com", ""},
		BlockResourceTypes: []string{"Image", "FONT", "image"},
	}.Normalize()

	require.Equal(t, []string{"a.com", "b.com"}, n.BlockPatterns)
	require.Equal(t, []string{"font", "image"}, n.BlockResourceTypes)
}

func TestNormalizeSortsCookies(t *testing.T) {
	t.Parallel()

	n := CaptureRequest{
		URL: "https://example.com",
		Cookies: []Cookie{
			{Name: "z", Domain: "example.com"},
			{Name: "a", Domain: "example.com"},
			{Name: "a", Domain: "api.example.com"},
		},
	}.Normalize()

	require.Equal(t, "a", n.Cookies[0].Name)
	require.Equal(t, "api.example.com", n.Cookies[0].Domain)
	require.Equal(t, "z", n.Cookies[2].Name)
}

func TestNormalizedEquivalentsEncodeIdentically(t *testing.T) {
	t.Parallel()

	a := CaptureRequest{
		URL:           "  https://example.com ",
		TenantID:      "t1",
		BlockPatterns: []string{"b.com", "a.com"},
		ColorScheme:   "DARK",
	}.Normalize()
	b := CaptureRequest{
		URL:           "https://example.com",
		TenantID:      "t1",
		BlockPatterns: []string{"a.com", "b.com", "b.com"},
		ColorScheme:   "dark",
	}.Normalize()

	rawA, err := json.Marshal(a)
	require.NoError(t, err)
	rawB, err := json.Marshal(b)
	require.NoError(t, err)
	require.Equal(t, rawA, rawB)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		mut   func(*CaptureRequest)
		field string
	}{
		{"missing url", func(r *CaptureRequest) { r.URL = "" }, "url"},
		{"bad scheme", func(r *CaptureRequest) { r.URL = "ftp://example.com" }, "url"},
		{"no host", func(r *CaptureRequest) { r.URL = "https://" }, "url"},
		{"missing tenant", func(r *CaptureRequest) { r.TenantID = "" }, "tenant_id"},
		{"unknown resource type", func(r *CaptureRequest) {
			r.BlockResourceTypes = []string{"hologram"}
		}, "block_resource_types"},
		{"bad color scheme", func(r *CaptureRequest) { r.ColorScheme = "sepia" }, "color_scheme"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := CaptureRequest{URL: "https://example.com", TenantID: "t1"}.Normalize()
			tc.mut(&req)

			err := req.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
		})
	}

	valid := CaptureRequest{URL: "https://example.com", TenantID: "t1"}.Normalize()
	require.NoError(t, valid.Validate())
}
