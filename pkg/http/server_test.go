package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"VolSurface/pkg/logger"

	"github.com/labstack/echo/v4"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return SuccessResponse(c, "pong") })
}

func TestServerLifecycle(t *testing.T) {
	srv := NewServer(logger.Nop(), []Handler{pingHandler{}, nil},
		WithHost("127.0.0.1"),
		WithPort(0),
		WithMetricsPath(""),
		WithCORSOrigins("https://vol.example"),
	)
	if srv.Addr() != "" {
		t.Fatalf("addr before start = %q", srv.Addr())
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://"+srv.Addr()+"/ping", nil)
	req.Header.Set("Origin", "https://vol.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(body) == 0 {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
	if resp.Header.Get(echo.HeaderXRequestID) == "" {
		t.Fatalf("missing request id")
	}
	if resp.Header.Get(echo.HeaderAccessControlAllowOrigin) != "https://vol.example" {
		t.Fatalf("cors headers = %v", resp.Header)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := http.Get("http://" + srv.Addr() + "/ping"); err == nil {
		t.Fatalf("server still answering after stop")
	}
}

func TestServerStartReportsBusyPort(t *testing.T) {
	first := NewServer(logger.Nop(), nil, WithHost("127.0.0.1"), WithPort(0), WithMetricsPath(""))
	if err := first.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer first.Stop(context.Background())

	_, p, _ := net.SplitHostPort(first.Addr())
	port, _ := strconv.Atoi(p)
	second := NewServer(logger.Nop(), nil, WithHost("127.0.0.1"), WithPort(port), WithMetricsPath(""))
	if err := second.Start(); err == nil {
		second.Stop(context.Background())
		t.Fatalf("expected listen error on a bound port")
	}
}

func TestStopBeforeStart(t *testing.T) {
	if err := NewServer(logger.Nop(), nil).Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
