package auth

import (
	"net/http"
	"strings"
)

// Policy determines which requests need an authenticated user.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
	// ExemptSuffixes match paths guarded by another trust boundary.
	ExemptSuffixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{
		ExemptPaths:    set,
		ExemptPrefixes: exemptPrefixes,
		ExemptSuffixes: []string{"/events/ingest"},
	}
}

// IsExempt returns true when a request should skip user auth.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if r.Method == http.MethodOptions {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	for _, suffix := range p.ExemptSuffixes {
		if strings.HasPrefix(r.URL.Path, "/api/devices/") && strings.HasSuffix(r.URL.Path, suffix) {
			return true
		}
	}
	return false
}

// RequiresUser reports whether the request must carry a user token.
func (p Policy) RequiresUser(r *http.Request) bool {
	if r == nil {
		return false
	}
	path := r.URL.Path
	return strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/ws/")
}

// allowsQueryToken reports whether the token may ride in the query string.
// Browsers cannot set headers on WebSocket or EventSource requests.
func (p Policy) allowsQueryToken(r *http.Request) bool {
	if r == nil || r.Method != http.MethodGet {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/ws/") || r.URL.Path == "/api/devices/stream"
}
