package engine

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"

	"github.com/pagelens/pagelens/internal/screenshot"
)

// Rule is one independent blocking predicate. Rules are evaluated in
// order until one matches; each kind stays separately testable.
type Rule interface {
	// Name tags the rule for logging.
	Name() string
	// Blocks reports whether the outgoing request must be aborted.
	Blocks(rawURL, host, resourceType string) bool
}

// ResourceTypeRule blocks requests whose resource type is in the set.
type ResourceTypeRule struct {
	types map[string]struct{}
}

// NewResourceTypeRule builds a rule over lowercase resource type names.
func NewResourceTypeRule(types []string) *ResourceTypeRule {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[strings.ToLower(t)] = struct{}{}
	}
	return &ResourceTypeRule{types: set}
}

// Name implements Rule.
func (r *ResourceTypeRule) Name() string { return "resource_type" }

// Blocks implements Rule.
func (r *ResourceTypeRule) Blocks(_, _, resourceType string) bool {
	_, ok := r.types[strings.ToLower(resourceType)]
	return ok
}

// WildcardRule blocks requests whose URL matches any client-supplied
// wildcard pattern.
type WildcardRule struct {
	patterns []glob.Glob
}

// NewWildcardRule compiles the patterns. A pattern without a wildcard is
// treated as a substring match by wrapping it in '*'.
func NewWildcardRule(patterns []string) (*WildcardRule, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		if !strings.ContainsAny(p, "*?") {
			p = "*" + p + "*"
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile block pattern %q: %w", p, err)
		}
		compiled = append(compiled, g)
	}
	return &WildcardRule{patterns: compiled}, nil
}

// Name implements Rule.
func (r *WildcardRule) Name() string { return "wildcard" }

// Blocks implements Rule.
func (r *WildcardRule) Blocks(rawURL, _, _ string) bool {
	for _, g := range r.patterns {
		if g.Match(rawURL) {
			return true
		}
	}
	return false
}

// FilterListRule blocks requests to hosts on a curated domain list,
// matching the host itself or any parent domain.
type FilterListRule struct {
	name    string
	domains map[string]struct{}
}

// NewFilterListRule builds a rule over a domain list.
func NewFilterListRule(name string, domains []string) *FilterListRule {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[strings.ToLower(d)] = struct{}{}
	}
	return &FilterListRule{name: name, domains: set}
}

// Name implements Rule.
func (r *FilterListRule) Name() string { return r.name }

// Blocks implements Rule.
func (r *FilterListRule) Blocks(_, host, _ string) bool {
	host = strings.ToLower(host)
	for host != "" {
		if _, ok := r.domains[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
	}
	return false
}

// BuildRules assembles the ordered rule chain for one request: explicit
// resource types first, then client wildcards, then the enabled filter
// lists.
func BuildRules(req screenshot.CaptureRequest) ([]Rule, error) {
	var rules []Rule
	if len(req.BlockResourceTypes) > 0 {
		rules = append(rules, NewResourceTypeRule(req.BlockResourceTypes))
	}
	if len(req.BlockPatterns) > 0 {
		wr, err := NewWildcardRule(req.BlockPatterns)
		if err != nil {
			return nil, err
		}
		rules = append(rules, wr)
	}
	if req.BlockAds {
		rules = append(rules, NewFilterListRule("ads", adDomains))
	}
	if req.BlockTrackers {
		rules = append(rules, NewFilterListRule("trackers", trackerDomains))
	}
	if req.BlockCookieBanners {
		rules = append(rules, NewFilterListRule("cookie_banners", cookieBannerDomains))
	}
	return rules, nil
}

// Match runs the chain and returns the name of the first matching rule.
func Match(rules []Rule, rawURL, resourceType string) (string, bool) {
	if len(rules) == 0 {
		return "", false
	}
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
	}
	for _, r := range rules {
		if r.Blocks(rawURL, host, resourceType) {
			return r.Name(), true
		}
	}
	return "", false
}
