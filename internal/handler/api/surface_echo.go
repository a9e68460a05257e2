package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"VolSurface/internal/domain/models"
	domrepo "VolSurface/internal/domain/repository"
	"VolSurface/internal/service/ratelimit"
	"VolSurface/internal/services/surface"
	"VolSurface/internal/usecase"
	xhttp "VolSurface/pkg/http"
	xlogger "VolSurface/pkg/logger"
	"VolSurface/pkg/queue"
	"VolSurface/pkg/util"

	"github.com/labstack/echo/v4"
)

// SurfaceAPI is the part of usecase.SurfaceService the handlers use.
type SurfaceAPI interface {
	Live(ctx context.Context, req usecase.BuildRequest) (*models.VolatilitySurface, error)
	Latest(ctx context.Context, ticker string) (*models.Snapshot, error)
	Range(ctx context.Context, ticker string) (*models.TimeRange, error)
	History(ctx context.Context, ticker string, from, to time.Time, limit int) ([]*models.Snapshot, error)
	Diff(ctx context.Context, ticker string, from, to time.Time) (*models.SnapshotDiff, error)
	Replay(ctx context.Context, ticker string, from, to time.Time, limit int) ([]models.ReplayFrame, error)
	TermStructure(ctx context.Context, ticker string, t models.OptionType) ([]models.TermPoint, error)
	Tickers(ctx context.Context) ([]models.Ticker, error)
	SetTicker(ctx context.Context, symbol string, active bool) error
	Health(ctx context.Context) error
}

// SnapshotTaker runs a snapshot inline when no queue is configured.
type SnapshotTaker interface {
	TakeSnapshot(ctx context.Context, ticker string) (*models.Snapshot, error)
}

// SurfaceEchoHandler serves live surfaces and snapshot history.
type SurfaceEchoHandler struct {
	logger  *xlogger.Logger
	svc     SurfaceAPI
	limiter *ratelimit.Limiter
	queue   queue.QueueService
	taker   SnapshotTaker
}

// NewSurfaceEchoHandler wires the handler. A nil limiter disables rate limiting; with a
// nil queue, triggers run on the request goroutine through taker.
func NewSurfaceEchoHandler(logger *xlogger.Logger, svc SurfaceAPI, limiter *ratelimit.Limiter, q queue.QueueService, taker SnapshotTaker) *SurfaceEchoHandler {
	return &SurfaceEchoHandler{logger: logger, svc: svc, limiter: limiter, queue: q, taker: taker}
}

func (h *SurfaceEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/surface", h.Surface)
	g.GET("/surface/chart", h.Chart)
	g.GET("/term-structure", h.TermStructure)
	g.GET("/snapshots", h.Snapshots)
	g.GET("/snapshots/latest", h.Latest)
	g.GET("/snapshots/range", h.Range)
	g.GET("/snapshots/diff", h.Diff)
	g.POST("/snapshots/trigger", h.Trigger)
	g.GET("/replay", h.Replay)
	g.GET("/tickers", h.Tickers)
	g.POST("/tickers", h.SetTicker)
}

func (h *SurfaceEchoHandler) Surface(c echo.Context) error {
	req := &models.SurfaceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ticker := strings.ToUpper(req.Ticker)
	if err := h.allow(ticker); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	br := usecase.BuildRequest{
		Ticker:     ticker,
		GridPoints: req.GridPoints,
		GridMethod: req.GridMethod,
		GridAxis:   req.GridAxis,
		GridType:   req.GridType,
		NoGrid:     req.NoGrid,
	}
	var err error
	if br.RiskFreeRate, err = optFloat(req.RiskFreeRate); err == nil {
		if br.DividendYield, err = optFloat(req.DividendYield); err == nil {
			if br.MinStrikePct, err = optFloat(req.MinStrikePct); err == nil {
				br.MaxStrikePct, err = optFloat(req.MaxStrikePct)
			}
		}
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	surf, err := h.svc.Live(c.Request().Context(), br)
	if err != nil {
		return h.fail(c, "surface", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, surf)
}

func (h *SurfaceEchoHandler) TermStructure(c echo.Context) error {
	req := &models.TermStructureRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	typ, _ := models.ParseOptionType(req.Type)
	res, err := h.svc.TermStructure(c.Request().Context(), req.Ticker, typ)
	if err != nil {
		return h.fail(c, "term structure", err)
	}
	return xhttp.ListResponse(c, res, int64(len(res)))
}

func (h *SurfaceEchoHandler) Latest(c echo.Context) error {
	req := &models.TickerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, err := h.svc.Latest(c.Request().Context(), req.Ticker)
	if err != nil {
		return h.fail(c, "latest snapshot", err)
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *SurfaceEchoHandler) Range(c echo.Context) error {
	req := &models.TickerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tr, err := h.svc.Range(c.Request().Context(), req.Ticker)
	if err != nil {
		return h.fail(c, "snapshot range", err)
	}
	return xhttp.SuccessResponse(c, tr)
}

func (h *SurfaceEchoHandler) Snapshots(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to, err := parseWindow(req.From, req.To)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	snaps, err := h.svc.History(c.Request().Context(), req.Ticker, from, to, req.Limit)
	if err != nil {
		return h.fail(c, "snapshot history", err)
	}
	return xhttp.ListResponse(c, snaps, int64(len(snaps)))
}

func (h *SurfaceEchoHandler) Diff(c echo.Context) error {
	req := &models.DiffRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to, err := parseWindow(req.From, req.To)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	d, err := h.svc.Diff(c.Request().Context(), req.Ticker, from, to)
	if err != nil {
		return h.fail(c, "snapshot diff", err)
	}
	return xhttp.SuccessResponse(c, d)
}

func (h *SurfaceEchoHandler) Replay(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to, err := parseWindow(req.From, req.To)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	frames, err := h.svc.Replay(c.Request().Context(), req.Ticker, from, to, req.Limit)
	if err != nil {
		return h.fail(c, "replay", err)
	}
	return xhttp.ListResponse(c, frames, int64(len(frames)))
}

// Trigger queues an on-demand snapshot, or takes it inline without a queue.
func (h *SurfaceEchoHandler) Trigger(c echo.Context) error {
	req := &models.TriggerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ticker := strings.ToUpper(req.Ticker)
	ctx := c.Request().Context()

	if h.queue != nil {
		payload := usecase.TakeSnapshotPayload{Ticker: ticker, RequestedBy: req.RequestedBy}
		err := h.queue.PublishMessage(ctx, usecase.JobTakeSnapshot, payload)
		switch {
		case errors.Is(err, queue.ErrDuplicate):
			return xhttp.AcceptedResponse(c, map[string]string{"ticker": ticker, "status": "already_queued"})
		case err != nil:
			h.logger.Error("enqueue snapshot", xlogger.String("ticker", ticker), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("snapshot queue unavailable").WithError(err))
		}
		return xhttp.AcceptedResponse(c, map[string]string{"ticker": ticker, "status": "queued"})
	}
	if h.taker == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("snapshots are not enabled"))
	}

	snap, err := h.taker.TakeSnapshot(ctx, ticker)
	if err != nil {
		return h.fail(c, "trigger snapshot", err)
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *SurfaceEchoHandler) Tickers(c echo.Context) error {
	list, err := h.svc.Tickers(c.Request().Context())
	if err != nil {
		return h.fail(c, "tickers", err)
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

// SetTicker adds a symbol, or flips its active flag. A missing flag means active.
func (h *SurfaceEchoHandler) SetTicker(c echo.Context) error {
	req := &models.SetTickerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	active := req.Active == nil || *req.Active
	symbol := strings.ToUpper(req.Symbol)
	if err := h.svc.SetTicker(c.Request().Context(), symbol, active); err != nil {
		return h.fail(c, "set ticker", err)
	}
	h.logger.Info("ticker updated", xlogger.String("symbol", symbol), xlogger.Bool("active", active))
	return xhttp.SuccessResponse(c, models.Ticker{Symbol: symbol, Active: active, UpdatedAt: time.Now().UTC()})
}

func (h *SurfaceEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.svc.Health(ctx); err != nil {
		h.logger.Warn("health check failed", xlogger.Error(err))
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]string{"store": err.Error()})
	}
	return xhttp.SuccessResponse(c, map[string]string{"store": "ok"})
}

func (h *SurfaceEchoHandler) allow(ticker string) error {
	if h.limiter == nil || h.limiter.Allow(ticker) {
		return nil
	}
	return xhttp.TooManyRequestsError(fmt.Sprintf("too many surface builds for %s", ticker), h.limiter.RetryAfter(ticker))
}

// fail maps usecase errors onto the response envelope.
func (h *SurfaceEchoHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, domrepo.ErrSnapshotNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no snapshots stored for this ticker").WithError(err))
	case errors.Is(err, usecase.ErrNotEnoughSnapshots):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()))
	case errors.Is(err, usecase.ErrEmptySurface):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()))
	case errors.Is(err, surface.ErrInvalidBuildConfig), errors.Is(err, surface.ErrMalformedQuote):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("upstream timed out").WithError(err))
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		h.logger.Error(op+" upstream error", xlogger.Int("status", se.Code), xlogger.Error(err))
		if se.Code == http.StatusNotFound {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundError("unknown ticker"))
		}
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("market data unavailable").WithError(err))
	}
	h.logger.Error(op+" failed", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, err)
}

func optFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return &v, nil
}

func parseWindow(fromS, toS string) (time.Time, time.Time, error) {
	var from, to time.Time
	var ok bool
	if fromS != "" {
		if from, ok = util.ParseTime(fromS); !ok {
			return time.Time{}, time.Time{}, xhttp.BadRequestError(fmt.Sprintf("invalid time %q", fromS))
		}
	}
	if toS != "" {
		if to, ok = util.ParseTime(toS); !ok {
			return time.Time{}, time.Time{}, xhttp.BadRequestError(fmt.Sprintf("invalid time %q", toS))
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, xhttp.BadRequestError("to must not be before from")
	}
	return from, to, nil
}
