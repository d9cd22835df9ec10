package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Cache scenarios reported via X-Cache-Scenario.
const (
	scenarioSuccess     = "success"
	scenarioPlaceholder = "placeholder"
	scenarioError       = "error"
)

const (
	// maxFreshBrowserTTL caps the browser TTL for freshly generated
	// content so a bad render does not live a full day in clients.
	maxFreshBrowserTTL = 300 * time.Second

	placeholderTTL        = 45 * time.Second
	placeholderRetryAfter = 30 * time.Second

	errorTTL           = 15 * time.Second
	errorStaleIfError  = 600 * time.Second
	errorRetryAfter    = 15 * time.Second
	cdnStaleRevalidate = 300 * time.Second
	cdnStaleIfError    = 86400 * time.Second
)

// cachePolicy is one resolved set of cache headers.
type cachePolicy struct {
	browser    string
	cdn        string
	retryAfter time.Duration
}

// successPolicy returns the tiered headers for a served screenshot.
// Fresh content gets a short browser TTL; pre-existing content earned
// its full TTL. The CDN tier always gets the full TTL plus staleness
// allowances.
func successPolicy(ttl time.Duration, fresh bool) cachePolicy {
	if ttl <= 0 {
		return cachePolicy{
			browser: "no-store",
			cdn:     "no-store",
		}
	}
	browserTTL := ttl
	if fresh && browserTTL > maxFreshBrowserTTL {
		browserTTL = maxFreshBrowserTTL
	}
	return cachePolicy{
		browser: fmt.Sprintf("public, max-age=%d", int(browserTTL.Seconds())),
		cdn: fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d, stale-if-error=%d",
			int(ttl.Seconds()),
			int(cdnStaleRevalidate.Seconds()),
			int(cdnStaleIfError.Seconds()),
		),
	}
}

// placeholderPolicy encourages the client to retry soon.
func placeholderPolicy() cachePolicy {
	return cachePolicy{
		browser:    fmt.Sprintf("public, max-age=%d", int(placeholderTTL.Seconds())),
		cdn:        fmt.Sprintf("public, max-age=%d", int(placeholderTTL.Seconds())),
		retryAfter: placeholderRetryAfter,
	}
}

// errorPolicy keeps availability: very short positive TTL, long
// stale-if-error so CDNs keep serving the last good copy.
func errorPolicy() cachePolicy {
	return cachePolicy{
		browser: fmt.Sprintf("public, max-age=%d", int(errorTTL.Seconds())),
		cdn: fmt.Sprintf("public, max-age=%d, stale-if-error=%d",
			int(errorTTL.Seconds()),
			int(errorStaleIfError.Seconds()),
		),
		retryAfter: errorRetryAfter,
	}
}

func (p cachePolicy) apply(h http.Header) {
	h.Set("Cache-Control", p.browser)
	h.Set("CDN-Cache-Control", p.cdn)
	if p.retryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(int(p.retryAfter.Seconds())))
	}
}
