package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestCORS(t *testing.T) {
	e := echo.New()
	e.Use(CORS(CORSConfig{
		AllowOrigins:  []string{"https://desk.example.com", "*.charts.io"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        10 * time.Minute,
	}))
	e.GET("/api/surface", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
		wantMaxAge string
	}{
		{"exact origin", http.MethodGet, "https://desk.example.com", http.StatusOK, "https://desk.example.com", ""},
		{"suffix origin", http.MethodGet, "https://vol.charts.io", http.StatusOK, "https://vol.charts.io", ""},
		{"unknown origin", http.MethodGet, "https://evil.test", http.StatusOK, "", ""},
		{"no origin", http.MethodGet, "", http.StatusOK, "", ""},
		{"preflight", http.MethodOptions, "https://desk.example.com", http.StatusNoContent, "https://desk.example.com", "600"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/surface", nil)
			if tt.origin != "" {
				req.Header.Set(echo.HeaderOrigin, tt.origin)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != tt.wantAllow {
				t.Fatalf("allow origin = %q, want %q", got, tt.wantAllow)
			}
			if got := rec.Header().Get(echo.HeaderAccessControlMaxAge); got != tt.wantMaxAge {
				t.Fatalf("max age = %q, want %q", got, tt.wantMaxAge)
			}
			if tt.wantAllow != "" && rec.Header().Get(echo.HeaderAccessControlExposeHeaders) != "Retry-After" {
				t.Fatalf("expose headers missing")
			}
		})
	}
}
