// SPDX-License-Identifier: MIT

// Package urlmatch compiles operator-supplied glob patterns into the
// case-insensitive matchers the engine uses to decide which CONNECTs to
// decrypt and which plaintext requests to admit to the plugin pipeline.
//
// A pattern is a glob over an absolute URL ("https://api.example.com/*")
// optionally prefixed with "!" to mark it as an exclude pattern. Admission
// is: watched iff at least one include matches and no exclude matches.
// Exclude always wins, regardless of how specific the include match is.
package urlmatch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/cases"
)

// UrlToWatch is a compiled glob pattern: the full-URL regex it was built
// for, whether it's an exclude pattern, and the host-only sub-pattern
// derived from it for the pre-decrypt decision. Built once at config load
// and never mutated afterward.
type UrlToWatch struct {
	Raw     string
	Exclude bool
	url     *regexp.Regexp
	host    *regexp.Regexp
}

// HostToWatch is the host-only derivation of a UrlToWatch, usable against a
// bare hostname before any path is available (the CONNECT decision).
type HostToWatch struct {
	Raw     string
	Exclude bool
	host    *regexp.Regexp
}

var foldCaser = cases.Fold()

// Compile builds the ordered list of UrlToWatch entries from raw glob
// patterns. Invalid patterns are rejected here, at load time; once
// compiled, a Matcher's admission checks never fail, only match or not.
func Compile(patterns []string) ([]UrlToWatch, error) {
	out := make([]UrlToWatch, 0, len(patterns))
	for _, raw := range patterns {
		u, err := compileOne(raw)
		if err != nil {
			return nil, fmt.Errorf("urlmatch: invalid pattern %q: %w", raw, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func compileOne(raw string) (UrlToWatch, error) {
	pattern := raw
	exclude := false
	if strings.HasPrefix(pattern, "!") {
		exclude = true
		pattern = pattern[1:]
	}
	if pattern == "" {
		return UrlToWatch{}, fmt.Errorf("empty pattern")
	}

	hostPart := hostPortion(pattern)
	hostRe, err := globToRegexp(hostPart)
	if err != nil {
		return UrlToWatch{}, err
	}
	urlRe, err := globToRegexp(pattern)
	if err != nil {
		return UrlToWatch{}, err
	}

	return UrlToWatch{
		Raw:     raw,
		Exclude: exclude,
		url:     urlRe,
		host:    hostRe,
	}, nil
}

// hostPortion extracts the host[:port]-free authority from a glob pattern:
// everything between "://" and the first "/", with any port stripped. A
// pattern with no scheme is treated as host-only already.
func hostPortion(pattern string) string {
	rest := pattern
	if idx := strings.Index(pattern, "://"); idx >= 0 {
		rest = pattern[idx+3:]
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	if idx := strings.LastIndexByte(rest, ':'); idx >= 0 {
		// Only strip if what follows looks like a port (digits or a glob
		// wildcard), not an IPv6 colon we can't reason about here.
		tail := rest[idx+1:]
		if tail == "*" || isDigits(tail) {
			rest = rest[:idx]
		}
	}
	return rest
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// globToRegexp compiles a shell-style glob ("*" = any run of characters,
// "?" = single character) into an anchored, case-insensitive, Unicode-
// folded regular expression.
func globToRegexp(glob string) (*regexp.Regexp, error) {
	folded := foldCaser.String(glob)

	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range folded {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Matcher evaluates admission for full URLs and, separately, for bare
// hosts, against a compiled pattern list.
type Matcher struct {
	patterns []UrlToWatch
}

// NewMatcher wraps a compiled pattern list for admission queries.
func NewMatcher(patterns []UrlToWatch) *Matcher {
	return &Matcher{patterns: patterns}
}

// URLWatched reports whether rawURL is watched: at least one include
// matches and no exclude matches. An unparsable URL is never watched.
func (m *Matcher) URLWatched(rawURL string) bool {
	normalized, ok := normalizeURL(rawURL)
	if !ok {
		return false
	}
	included := false
	for _, p := range m.patterns {
		if p.url.MatchString(normalized) {
			if p.Exclude {
				return false
			}
			included = true
		}
	}
	return included
}

// HostWatched reports whether host (no scheme, no port) is watched using
// only the host-derived sub-patterns. Used for the pre-decrypt CONNECT
// decision, before any path is visible.
func (m *Matcher) HostWatched(host string) bool {
	normalized, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil {
		normalized = strings.ToLower(host)
	}
	included := false
	for _, p := range m.patterns {
		if p.host.MatchString(normalized) {
			if p.Exclude {
				return false
			}
			included = true
		}
	}
	return included
}

// HostPatterns returns the host-only derivation of each compiled pattern,
// for callers that only ever need the pre-decrypt matcher (e.g. building a
// standalone HostToWatch list for the MITM adapter).
func (m *Matcher) HostPatterns() []HostToWatch {
	out := make([]HostToWatch, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = HostToWatch{Raw: p.Raw, Exclude: p.Exclude, host: p.host}
	}
	return out
}

// normalizeURL lower-cases scheme and host (the user-meaningful parts of a
// glob match) and strips a default port, so "HTTPS://API.x.com:443/a"
// matches a pattern written as "https://api.x.com/a".
func normalizeURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if asciiHost, err := idna.Lookup.ToASCII(host); err == nil {
		host = asciiHost
	}
	port := u.Port()
	if port != "" && !isDefaultPort(scheme, port) {
		host = host + ":" + port
	}
	return scheme + "://" + host + u.EscapedPath() + queryString(u), true
}

func queryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

func isDefaultPort(scheme, port string) bool {
	switch scheme {
	case "http":
		return port == "80"
	case "https":
		return port == "443"
	}
	return false
}
