package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	})
}

func TestCorsMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"default localhost", DefaultAllowedOrigins, "http://localhost", "http://localhost"},
		{"default localhost with port", DefaultAllowedOrigins, "http://localhost:5173", "http://localhost:5173"},
		{"default blocks external", DefaultAllowedOrigins, "http://evil.com", ""},
		{"path after port rejected", DefaultAllowedOrigins, "http://localhost:80/evil", ""},
		{"custom origin", []string{"http://example.com"}, "http://example.com", "http://example.com"},
		{"custom blocks other", []string{"http://example.com"}, "http://evil.com", ""},
		{"wildcard", []string{"*"}, "http://anything.io", "*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CorsMiddleware(tt.allowed, okHandler())
			req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCorsMiddleware_Preflight(t *testing.T) {
	h := CorsMiddleware(DefaultAllowedOrigins, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("preflight must not reach the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/v1/predict", nil)
	req.Header.Set("Origin", "http://127.0.0.1")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"http://a", "http://b"}, ParseOrigins(" http://a, ,http://b "))
	assert.Nil(t, ParseOrigins(""))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID("X-Request-Id", http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "client-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "client-42", seen)
	assert.Equal(t, "client-42", rec.Header().Get("X-Request-Id"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "bad\nid")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "bad\nid", seen)
}

func TestAliasHandler(t *testing.T) {
	h := &AliasHandler{Prefix: "/labeling/", Handler: okHandler()}
	tests := map[string]string{
		"/labeling/v1/models": "/v1/models",
		"/labeling":           "/",
		"/v1/models":          "/v1/models",
		"/labelingx/health":   "/labelingx/health",
	}
	for in, want := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, in, nil))
		assert.Equal(t, want, rec.Body.String(), in)
	}
}
