package server

import "net/http"

// The server only returns JSON, plain text and event streams, so nothing
// needs to load.
const contentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"

func setSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Security-Policy", contentSecurityPolicy)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("X-Robots-Tag", "noindex, nofollow")
}

// adminToken reads the stats secret from the x-admin-token header, or from
// the token query parameter when allowQuery is set (EventSource cannot send
// headers).
func adminToken(r *http.Request, allowQuery bool) string {
	if tok := r.Header.Get("X-Admin-Token"); tok != "" {
		return tok
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}
