package middleware

import (
	"net/http"
	"strings"
)

// AliasHandler serves the same routes under an additional path prefix, for
// deployments behind a reverse proxy that does not strip its mount point.
type AliasHandler struct {
	Prefix  string
	Handler http.Handler
}

func (h *AliasHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/" + strings.Trim(h.Prefix, "/")
	if prefix == "/" {
		h.Handler.ServeHTTP(w, r)
		return
	}
	rest, ok := strings.CutPrefix(r.URL.Path, prefix)
	if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
		h.Handler.ServeHTTP(w, r)
		return
	}
	if rest == "" {
		rest = "/"
	}

	// Clone the request with the prefix removed.
	r2 := r.Clone(r.Context())
	r2.URL.Path = rest
	r2.URL.RawPath = ""
	h.Handler.ServeHTTP(w, r2)
}
