package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireToken(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		query  string
		method string
		want   int
	}{
		{"disabled", "", "", "", http.MethodGet, http.StatusOK},
		{"missing", "s3cret", "", "", http.MethodGet, http.StatusUnauthorized},
		{"valid bearer", "s3cret", "Bearer s3cret", "", http.MethodGet, http.StatusOK},
		{"lowercase scheme", "s3cret", "bearer s3cret", "", http.MethodGet, http.StatusOK},
		{"wrong token", "s3cret", "Bearer nope", "", http.MethodGet, http.StatusUnauthorized},
		{"basic scheme", "s3cret", "Basic s3cret", "", http.MethodGet, http.StatusUnauthorized},
		{"query token", "s3cret", "", "s3cret", http.MethodGet, http.StatusOK},
		{"preflight", "s3cret", "", "", http.MethodOptions, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/x"
			if tt.query != "" {
				target += "?access_token=" + tt.query
			}
			req := httptest.NewRequest(tt.method, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			RequireToken(tt.token)(okHandler()).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		origin     string
		wantHeader string
	}{
		{"allowed origin", "https://app.example.com", "https://app.example.com"},
		{"localhost with port", "http://localhost:5173", "http://localhost:5173"},
		{"localhost lookalike", "http://localhost.evil.com", ""},
		{"unknown origin", "https://evil.com", ""},
		{"no origin", "", ""},
	}

	handler := CORS([]string{"https://app.example.com"})(okHandler())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("expected %q, got %q", tt.wantHeader, got)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	handler := CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || called {
		t.Errorf("expected preflight answered by middleware, code=%d called=%v", rec.Code, called)
	}
}

func TestOriginChecker(t *testing.T) {
	check := OriginChecker([]string{"https://kiosk.example.com"})

	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin", "", "rupx:5000", true},
		{"same host", "http://rupx:5000", "rupx:5000", true},
		{"allowed", "https://kiosk.example.com", "rupx:5000", true},
		{"foreign", "https://evil.com", "rupx:5000", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := check(req); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
