package api

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pagelens/pagelens/internal/screenshot"
)

// parseCaptureRequest maps the snake_case query parameters of
// /v1/screenshots/take onto a CaptureRequest. The result is not yet
// normalized or validated.
func parseCaptureRequest(values url.Values, tenantID string) (screenshot.CaptureRequest, error) {
	req := screenshot.CaptureRequest{
		URL:          values.Get("url"),
		Selector:     values.Get("selector"),
		Format:       screenshot.Format(values.Get("format")),
		ColorScheme:  values.Get("color_scheme"),
		CacheKey:     values.Get("cache_key"),
		UserAgent:    values.Get("user_agent"),
		TenantID:     tenantID,
		CacheEnabled: true,
	}

	var err error
	if req.ViewportWidth, err = intParam(values, "viewport_width"); err != nil {
		return req, err
	}
	if req.ViewportHeight, err = intParam(values, "viewport_height"); err != nil {
		return req, err
	}
	if req.DeviceScaleFactor, err = floatParam(values, "device_scale_factor"); err != nil {
		return req, err
	}
	if req.ScrollDurationMs, err = intParam(values, "scroll_duration_ms"); err != nil {
		return req, err
	}
	if req.Quality, err = intParam(values, "quality"); err != nil {
		return req, err
	}
	if req.CacheTTLSec, err = intParam(values, "cache_ttl"); err != nil {
		return req, err
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"mobile", &req.Mobile},
		{"landscape", &req.Landscape},
		{"touch", &req.Touch},
		{"full_page", &req.FullPage},
		{"full_page_scroll", &req.FullPageScroll},
		{"block_ads", &req.BlockAds},
		{"block_trackers", &req.BlockTrackers},
		{"block_cookie_banners", &req.BlockCookieBanners},
		{"reduced_motion", &req.ReducedMotion},
		{"bypass_csp", &req.BypassCSP},
		{"cache_enabled", &req.CacheEnabled},
	}
	for _, b := range bools {
		if err := boolParam(values, b.name, b.dst); err != nil {
			return req, err
		}
	}

	req.BlockPatterns = listParam(values, "block_patterns")
	req.BlockResourceTypes = listParam(values, "block_resource_types")

	if raw := values.Get("headers"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Headers); err != nil {
			return req, &screenshot.ValidationError{
				Field:  "headers",
				Reason: "must be a JSON object of header name to value",
			}
		}
	}
	if raw := values.Get("cookies"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Cookies); err != nil {
			return req, &screenshot.ValidationError{
				Field:  "cookies",
				Reason: "must be a JSON array of cookie objects",
			}
		}
	}

	return req, nil
}

func intParam(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &screenshot.ValidationError{
			Field:  name,
			Reason: fmt.Sprintf("%q is not an integer", raw),
		}
	}
	return n, nil
}

func floatParam(values url.Values, name string) (float64, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &screenshot.ValidationError{
			Field:  name,
			Reason: fmt.Sprintf("%q is not a number", raw),
		}
	}
	return f, nil
}

func boolParam(values url.Values, name string, dst *bool) error {
	raw := values.Get(name)
	if raw == "" {
		return nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return &screenshot.ValidationError{
			Field:  name,
			Reason: fmt.Sprintf("%q is not a boolean", raw),
		}
	}
	*dst = b
	return nil
}

func listParam(values url.Values, name string) []string {
	raw := values.Get(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
