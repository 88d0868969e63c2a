package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"CreditChain/internal/domain/models"
	"CreditChain/internal/domain/service"
	"CreditChain/internal/services/markov"
	xhttp "CreditChain/pkg/http"
	xlogger "CreditChain/pkg/logger"
)

// ForecastService is what the HTTP layer needs from the engine.
type ForecastService interface {
	service.Forecaster
	service.MatrixBuilder
	Classify(score float64) (models.RiskState, error)
}

// HealthCheck reports the status of one dependency.
type HealthCheck func(ctx context.Context) error

type ForecastEchoHandler struct {
	logger *xlogger.Logger
	svc    ForecastService
	checks map[string]HealthCheck
}

func NewForecastEchoHandler(logger *xlogger.Logger, svc ForecastService, checks map[string]HealthCheck) *ForecastEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &ForecastEchoHandler{logger: logger, svc: svc, checks: checks}
}

func (h *ForecastEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/forecast", h.Forecast)
	g.GET("/matrix", h.Matrix)
	g.GET("/classify", h.Classify)
	e.GET("/healthz", h.Health)
}

func (h *ForecastEchoHandler) Forecast(c echo.Context) error {
	req := &models.ForecastHTTPRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	rec, err := h.svc.ComprehensiveAnalysis(c.Request().Context(), req.ToDomain())
	if err != nil {
		return h.fail(c, "forecast", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

type matrixResponse struct {
	States []string `json:"states"`
	models.TransitionMatrix
}

func (h *ForecastEchoHandler) Matrix(c echo.Context) error {
	req := &models.MatrixRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	m, err := h.svc.BuildMatrix(c.Request().Context(), req.Sector, req.PostEvent, models.NormalizeSource(req.Source))
	if err != nil {
		return h.fail(c, "matrix", err)
	}
	states := make([]string, 0, models.NumStates)
	for _, s := range models.AllStates() {
		states = append(states, s.String())
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, matrixResponse{States: states, TransitionMatrix: m})
}

func (h *ForecastEchoHandler) Classify(c echo.Context) error {
	req := &models.ClassifyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	score, err := strconv.ParseFloat(req.Score, 64)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("score %q is not a number", req.Score).WithField("score"))
	}

	state, err := h.svc.Classify(score)
	if err != nil {
		return h.fail(c, "classify", err)
	}
	return xhttp.SuccessResponse(c, map[string]any{"score": score, "state": state})
}

func (h *ForecastEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	out := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", xlogger.String("dependency", name), xlogger.Error(err))
			out[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		out[name] = "ok"
	}
	return xhttp.DataResponse(c, status, out)
}

// fail maps engine input errors to 400 and hides everything else behind a 500.
func (h *ForecastEchoHandler) fail(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.Is(err, markov.ErrScoreOutOfRange):
		appErr = xhttp.BadRequestError(err.Error()).WithField("score")
	case errors.Is(err, markov.ErrInvalidHorizon):
		appErr = xhttp.BadRequestError(err.Error()).WithField("horizons")
	case errors.Is(err, markov.ErrInvalidRuns):
		appErr = xhttp.BadRequestError(err.Error()).WithField("monte_carlo_runs")
	default:
		h.logger.Error(op+" usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.AppErrorResponse(c, appErr.WithError(err))
}
