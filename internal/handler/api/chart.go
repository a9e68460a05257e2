package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strings"

	"VolSurface/internal/domain/models"
	"VolSurface/internal/usecase"
	xhttp "VolSurface/pkg/http"
	xlogger "VolSurface/pkg/logger"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/labstack/echo/v4"
)

// Chart renders the gridded live surface as an interactive 3-D page. Vols are shown
// in percent.
func (h *SurfaceEchoHandler) Chart(c echo.Context) error {
	req := &models.ChartRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ticker := strings.ToUpper(req.Ticker)
	if err := h.allow(ticker); err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	surf, err := h.svc.Live(c.Request().Context(), usecase.BuildRequest{
		Ticker:     ticker,
		GridPoints: req.Points,
		GridMethod: req.Method,
		GridType:   req.Type,
	})
	if err != nil {
		return h.fail(c, "surface chart", err)
	}
	if surf.Grid == nil || len(surf.Grid.Rows) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no %s quotes solved for %s", req.Type, ticker))
	}

	var buf bytes.Buffer
	if err := renderSurface(&buf, surf); err != nil {
		h.logger.Error("render chart", xlogger.String("ticker", ticker), xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func renderSurface(buf *bytes.Buffer, surf *models.VolatilitySurface) error {
	g := surf.Grid
	subtitle := fmt.Sprintf("spot %.2f, valued %s",
		surf.UnderlyingPrice, surf.ValuationTime.Format("2006-01-02 15:04 MST"))

	chart := charts.NewSurface3D()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: surf.Ticker + " implied volatility",
			Width:     "1200px",
			Height:    "800px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s %s implied volatility", surf.Ticker, g.Type),
			Subtitle: subtitle,
		}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: string(g.Axis)}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "days"}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "IV %"}),
	)
	chart.AddSeries("iv", surfaceData(surf))
	return chart.Render(buf)
}

// surfaceData flattens the grid row by row. Cells outside a row's strike range are
// sent as "-", which echarts leaves as holes.
func surfaceData(surf *models.VolatilitySurface) []opts.Chart3DData {
	g := surf.Grid
	out := make([]opts.Chart3DData, 0, len(g.X)*len(g.Rows))
	for _, row := range g.Rows {
		days := math.Round(row.TimeToExpiry*365*100) / 100
		for i, x := range g.X {
			var z interface{} = "-"
			if v := row.Values[i]; !math.IsNaN(v) {
				z = math.Round(v*100*1e4) / 1e4
			}
			out = append(out, opts.Chart3DData{Value: []interface{}{x, days, z}})
		}
	}
	return out
}
