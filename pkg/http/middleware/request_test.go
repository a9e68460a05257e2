package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"VolSurface/pkg/logger"

	"github.com/labstack/echo/v4"
)

func TestRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, requestID(c))
	})

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"minted", "", false},
		{"forwarded", "abc-123", true},
		{"oversized", strings.Repeat("x", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(echo.HeaderXRequestID, tt.incoming)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			got := rec.Header().Get(echo.HeaderXRequestID)
			if got == "" || got != rec.Body.String() {
				t.Fatalf("header %q, body %q", got, rec.Body.String())
			}
			if (got == tt.incoming) != tt.keep {
				t.Fatalf("id = %q, incoming %q", got, tt.incoming)
			}
		})
	}
}

func TestRecoverLogsAndAnswers500(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(RequestID(), Recover(logger.NewWriter(&buf, "error")))
	e.GET("/boom", func(c echo.Context) error {
		panic("surface exploded")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "surface exploded") || !strings.Contains(buf.String(), rec.Header().Get(echo.HeaderXRequestID)) {
		t.Fatalf("log = %s", buf.String())
	}
}
