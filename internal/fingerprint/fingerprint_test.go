package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagelens/pagelens/internal/screenshot"
)

func baseRequest() screenshot.CaptureRequest {
	return screenshot.CaptureRequest{
		URL:      "https://example.com",
		TenantID: "t1",
	}.Normalize()
}

func TestNewIsDeterministic(t *testing.T) {
	t.Parallel()

	first, err := New(baseRequest())
	require.NoError(t, err)
	second, err := New(baseRequest())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestNewScopesByTenant(t *testing.T) {
	t.Parallel()

	a := baseRequest()
	b := baseRequest()
	b.TenantID = "t2"

	fpA, err := New(a)
	require.NoError(t, err)
	fpB, err := New(b)
	require.NoError(t, err)
	require.NotEqual(t, fpA, fpB)
}

func TestNewVariesWithCaptureParameters(t *testing.T) {
	t.Parallel()

	base, err := New(baseRequest())
	require.NoError(t, err)

	changed := baseRequest()
	changed.ViewportWidth = 390
	fp, err := New(changed)
	require.NoError(t, err)
	require.NotEqual(t, base, fp)

	changed = baseRequest()
	changed.Format = screenshot.FormatJPEG
	fp, err = New(changed)
	require.NoError(t, err)
	require.NotEqual(t, base, fp)
}

func TestNewIgnoresCachePolicy(t *testing.T) {
	t.Parallel()

	base, err := New(baseRequest())
	require.NoError(t, err)

	withTTL := baseRequest()
	withTTL.CacheTTLSec = 600
	withTTL.CacheEnabled = false
	fp, err := New(withTTL)
	require.NoError(t, err)
	require.Equal(t, base, fp)
}

func TestNewHonorsExplicitCacheKey(t *testing.T) {
	t.Parallel()

	req := baseRequest()
	req.CacheKey = "homepage-v3"
	fp, err := New(req)
	require.NoError(t, err)
	require.Equal(t, Fingerprint("t1-homepage-v3"), fp)

	// The same cache key with different parameters still collides: the
	// client owns identity entirely.
	other := baseRequest()
	other.CacheKey = "homepage-v3"
	other.ViewportWidth = 390
	fpOther, err := New(other)
	require.NoError(t, err)
	require.Equal(t, fp, fpOther)
}

func TestNormalizedEquivalentsShareFingerprint(t *testing.T) {
	t.Parallel()

	a := screenshot.CaptureRequest{
		URL:           "  https://example.com  ",
		TenantID:      "t1",
		BlockPatterns: []string{"b.com", "a.com", "a.com"},
	}.Normalize()
	b := screenshot.CaptureRequest{
		URL:           "https://example.com",
		TenantID:      "t1",
		BlockPatterns: []string{"a.com", "b.com"},
	}.Normalize()

	fpA, err := New(a)
	require.NoError(t, err)
	fpB, err := New(b)
	require.NoError(t, err)
	require.Equal(t, fpA, fpB)
}
