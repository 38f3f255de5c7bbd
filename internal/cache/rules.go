// Package cache is the client's runtime cache: an http.RoundTripper that
// classifies outgoing GET requests by URL rule and serves them CacheFirst,
// NetworkFirst or StaleWhileRevalidate out of named, versioned cache groups.
package cache

import (
	"net/http"
	"path"
	"strings"
)

// Strategy is how a matched request is served.
type Strategy string

const (
	CacheFirst           Strategy = "cache-first"
	NetworkFirst         Strategy = "network-first"
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
)

// Logical group names used by the default rules.
const (
	GroupShell  = "shell"
	GroupImages = "images"
	GroupFonts  = "fonts"
	GroupAPI    = "api"
)

// Matcher reports whether a rule applies to a request.
type Matcher func(req *http.Request) bool

// Rule maps requests to a strategy and a logical cache group.
type Rule struct {
	Name     string
	Match    Matcher
	Strategy Strategy
	Group    string
}

// MatchRule returns the first rule matching req, in declaration order.
func MatchRule(rules []Rule, req *http.Request) (Rule, bool) {
	for _, rule := range rules {
		if rule.Match != nil && rule.Match(req) {
			return rule, true
		}
	}
	return Rule{}, false
}

// PathPrefix matches requests whose path starts with any of prefixes.
func PathPrefix(prefixes ...string) Matcher {
	return func(req *http.Request) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(req.URL.Path, p) {
				return true
			}
		}
		return false
	}
}

// Extension matches requests whose path ends in one of exts (".png", ...).
func Extension(exts ...string) Matcher {
	return func(req *http.Request) bool {
		ext := strings.ToLower(path.Ext(req.URL.Path))
		for _, e := range exts {
			if ext == e {
				return true
			}
		}
		return false
	}
}

// Host matches requests sent to any of hosts.
func Host(hosts ...string) Matcher {
	return func(req *http.Request) bool {
		for _, h := range hosts {
			if strings.EqualFold(req.URL.Hostname(), h) {
				return true
			}
		}
		return false
	}
}

// Any matches when at least one matcher does.
func Any(matchers ...Matcher) Matcher {
	return func(req *http.Request) bool {
		for _, m := range matchers {
			if m(req) {
				return true
			}
		}
		return false
	}
}

// All matches every request.
func All() Matcher {
	return func(*http.Request) bool { return true }
}

// DefaultRules returns the rule list used by the client, in match order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "fonts",
			Match:    Any(Host("fonts.googleapis.com", "fonts.gstatic.com"), Extension(".woff", ".woff2", ".ttf", ".otf", ".eot")),
			Strategy: CacheFirst,
			Group:    GroupFonts,
		},
		{
			Name:     "images",
			Match:    Extension(".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico"),
			Strategy: CacheFirst,
			Group:    GroupImages,
		},
		{
			Name:     "backend",
			Match:    PathPrefix("/rest/v1/", "/api/"),
			Strategy: NetworkFirst,
			Group:    GroupAPI,
		},
		{
			Name:     "shell",
			Match:    All(),
			Strategy: StaleWhileRevalidate,
			Group:    GroupShell,
		},
	}
}
