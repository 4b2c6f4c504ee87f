package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"TPMForge/internal/domain/models"
	"TPMForge/internal/service/metrics"
	"TPMForge/internal/service/ratelimit"
	"TPMForge/internal/usecase"
	xhttp "TPMForge/pkg/http"
	xlogger "TPMForge/pkg/logger"
)

// ForgeEchoHandler serves the frame, agent, detector and validation routes.
type ForgeEchoHandler struct {
	logger  *xlogger.Logger
	cycle   *usecase.ForgeCycle
	bank    *usecase.DetectorBank
	ticks   usecase.TickProcessor
	runner  *usecase.ValidationRunner
	limiter *ratelimit.Limiter

	breakers BreakerReporter
}

// BreakerReporter exposes per-source circuit breaker states.
type BreakerReporter interface {
	BreakerStates() map[string]string
}

func NewForgeEchoHandler(
	logger *xlogger.Logger,
	cycle *usecase.ForgeCycle,
	bank *usecase.DetectorBank,
	ticks usecase.TickProcessor,
	runner *usecase.ValidationRunner,
	limiter *ratelimit.Limiter,
) *ForgeEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	metrics.Register()
	return &ForgeEchoHandler{
		logger:  logger,
		cycle:   cycle,
		bank:    bank,
		ticks:   ticks,
		runner:  runner,
		limiter: limiter,
	}
}

// SetBreakers enables GET /api/sources/breakers.
func (h *ForgeEchoHandler) SetBreakers(b BreakerReporter) { h.breakers = b }

func (h *ForgeEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/frame", h.Frame)
	g.POST("/tick", h.Tick, h.rateLimited)
	g.GET("/agents", h.ListAgents)
	g.POST("/agents", h.AddAgent)
	g.GET("/detectors", h.Detectors)
	g.GET("/sources/breakers", h.Breakers)
	g.POST("/ticks", h.IngestTick, h.rateLimited)
	g.GET("/validation", h.LastValidation)
	g.POST("/validation", h.RunValidation)
}

func (h *ForgeEchoHandler) rateLimited(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter == nil {
			return next(c)
		}
		ok, wait := h.limiter.Allow(c.Path() + "|" + c.RealIP())
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			c.Response().Header().Set("Retry-After", strconv.Itoa(max(1, secs)))
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded"))
		}
		return next(c)
	}
}

// Frame returns the latest frame.
func (h *ForgeEchoHandler) Frame(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.cycle.Latest(c.Request().Context()))
}

// Tick runs one cycle now and returns its frame.
func (h *ForgeEchoHandler) Tick(c echo.Context) error {
	ctx := c.Request().Context()
	frame, err := h.cycle.Tick(ctx)
	switch {
	case errors.Is(err, usecase.ErrCycleBusy):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("", "a cycle is already running"))
	case err != nil:
		h.logger.Error("tick usecase error", xlogger.Error(err))
		h.cycle.RecordFailure(ctx, err)
		return xhttp.AppErrorResponse(c, xhttp.InternalError("cycle failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, frame)
}

func (h *ForgeEchoHandler) ListAgents(c echo.Context) error {
	agents := h.cycle.Agents().List()
	return xhttp.ListResponse(c, agents, int64(len(agents)))
}

// AddAgent registers a new agent; it is polled from the next cycle on.
func (h *ForgeEchoHandler) AddAgent(c echo.Context) error {
	req := &models.AgentSpec{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	err := h.cycle.Agents().Add(*req)
	switch {
	case errors.Is(err, usecase.ErrAgentExists):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("name", "agent already exists"))
	case errors.Is(err, usecase.ErrUnknownSourceKind):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	case err != nil:
		return xhttp.AppErrorResponse(c, xhttp.InternalError("agent not added").WithError(err))
	}
	h.logger.Info("agent added",
		xlogger.String("agent", req.Name),
		xlogger.String("domain", req.Domain),
		xlogger.Int("sources", len(req.Sources)),
	)
	return xhttp.CreatedResponse(c, req)
}

// Detectors lists live detector state; ?limit caps the rows, total counts all.
func (h *ForgeEchoHandler) Detectors(c echo.Context) error {
	if h.bank == nil {
		return xhttp.ListResponse(c, []usecase.SeriesSnapshot{}, 0)
	}
	snaps := h.bank.Snapshots()
	total := int64(len(snaps))
	if limit := xhttp.QueryInt(c, "limit", 500, 1, 5000); len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return xhttp.ListResponse(c, snaps, total)
}

func (h *ForgeEchoHandler) Breakers(c echo.Context) error {
	if h.breakers == nil {
		return xhttp.SuccessResponse(c, map[string]string{})
	}
	return xhttp.SuccessResponse(c, h.breakers.BreakerStates())
}

type tickRequest struct {
	Series string     `json:"series" validate:"required,max=64"`
	Index  int64      `json:"index" validate:"gte=0"`
	Value  *float64   `json:"value" validate:"required"`
	At     *time.Time `json:"at"`
}

// IngestTick feeds one value to the live detectors. A tick the pipeline
// buffered for retry is still accepted.
func (h *ForgeEchoHandler) IngestTick(c echo.Context) error {
	req := &tickRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if math.IsNaN(*req.Value) || math.IsInf(*req.Value, 0) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("value must be finite"))
	}
	if models.IsAgentSeries(req.Series) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("series prefix "+models.AgentSeriesPrefix+" is reserved"))
	}
	t := &models.Tick{Series: req.Series, Index: req.Index, Value: *req.Value}
	if req.At != nil {
		t.At = req.At.UTC()
	}
	if err := h.ticks.Process(c.Request().Context(), t); err != nil {
		h.logger.Warn("tick buffered", xlogger.String("series", t.Series), xlogger.Error(err))
	}
	return xhttp.AcceptedResponse(c, t)
}

type validationRequest struct {
	Ticks          *int   `json:"n_ticks" validate:"omitempty,gte=2,lte=200000"`
	Seed           *int64 `json:"seed"`
	Permutations   *int   `json:"n_permutations" validate:"omitempty,gte=1,lte=5000"`
	PreEventWindow *int   `json:"pre_event_window" validate:"omitempty,gte=1"`
	Write          bool   `json:"write"`
}

// RunValidation runs the synthetic harness with optional overrides.
func (h *ForgeEchoHandler) RunValidation(c echo.Context) error {
	req := &validationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	cfg := h.runner.Defaults()
	if req.Ticks != nil {
		cfg.Ticks = *req.Ticks
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	if req.Permutations != nil {
		cfg.Permutations = *req.Permutations
	}
	if req.PreEventWindow != nil {
		cfg.PreEventWindow = *req.PreEventWindow
	}
	if err := cfg.Validate(); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	res, err := h.runner.Run(c.Request().Context(), cfg, req.Write)
	switch {
	case errors.Is(err, usecase.ErrValidationRunning):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("", "a validation run is in progress"))
	case err != nil:
		h.logger.Error("validation usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("validation failed").WithError(err))
	}
	metrics.ValidationPassed.Set(float64(res.Report.PassCount))
	return xhttp.SuccessResponse(c, res)
}

func (h *ForgeEchoHandler) LastValidation(c echo.Context) error {
	res := h.runner.Last()
	if res == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no validation run yet"))
	}
	return xhttp.DataResponse(c, http.StatusOK, res)
}
