package server

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, X-Admin-Token"
	corsMaxAge  = "600"
)

// corsPolicy lets the configured origins call the API from a browser. With no
// origins configured the server stays same-origin only.
type corsPolicy struct {
	origins []string
}

// allowed supports exact origins, "*.example.com" suffixes and "*".
func (p corsPolicy) allowed(origin string) bool {
	for _, allowed := range p.origins {
		switch {
		case allowed == "*":
			return true
		case strings.HasPrefix(allowed, "*."):
			if strings.HasSuffix(origin, allowed[1:]) {
				return true
			}
		case origin == allowed:
			return true
		}
	}
	return false
}

// apply sets the CORS headers for an allowed origin and reports whether the
// request was a preflight that has already been answered.
func (p corsPolicy) apply(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(p.origins) == 0 {
		return false
	}
	h := w.Header()
	h.Add("Vary", "Origin")
	if !p.allowed(origin) {
		return false
	}

	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", corsMethods)
	h.Set("Access-Control-Allow-Headers", corsHeaders)
	h.Set("Access-Control-Max-Age", corsMaxAge)

	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}
