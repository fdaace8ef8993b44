package api

import (
	"context"

	"github.com/labstack/echo/v4"

	models "SignalCore/internal/domain/models"
	xhttp "SignalCore/pkg/http"
	xlogger "SignalCore/pkg/logger"
)

// StateReader is the read side of the projection.
type StateReader interface {
	Weights(ctx context.Context) ([]models.SignalWeight, error)
	SignalWeight(ctx context.Context, source string) (models.SignalWeight, bool, error)
	DecayState(ctx context.Context, source string) (models.DecayState, error)
	Capacity(ctx context.Context, strategy string) (models.CapacityState, bool, error)
	Regime(ctx context.Context, instrument string) (models.RegimeState, bool, error)
	Regimes(ctx context.Context) ([]models.RegimeState, error)
	Correlation(ctx context.Context) (models.CorrelationSnapshot, bool, error)
	Allocations(ctx context.Context) (models.AllocationSnapshot, bool, error)
}

type sourceRequest struct {
	Source string `param:"source" validate:"required,max=128"`
}

type strategyRequest struct {
	Strategy string `param:"strategy" validate:"required,max=128"`
}

type instrumentRequest struct {
	Instrument string `param:"instrument" validate:"required,max=64"`
}

type correlationRequest struct {
	Horizon int `query:"horizon" default:"0" validate:"gte=0,lte=1440"`
}

// StateEchoHandler serves the projected state over HTTP.
type StateEchoHandler struct {
	logger *xlogger.Logger
	state  StateReader
}

var _ xhttp.Handler = (*StateEchoHandler)(nil)

func NewStateEchoHandler(logger *xlogger.Logger, state StateReader) *StateEchoHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &StateEchoHandler{logger: logger, state: state}
}

func (h *StateEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/weights", h.Weights)
	g.GET("/weights/:source", h.Weight)
	g.GET("/decay/:source", h.Decay)
	g.GET("/capacity/:strategy", h.Capacity)
	g.GET("/regime", h.Regimes)
	g.GET("/regime/:instrument", h.Regime)
	g.GET("/correlation", h.Correlation)
	g.GET("/allocations", h.Allocations)
}

// Health reports ok once the projection store answers.
func (h *StateEchoHandler) Health(c echo.Context) error {
	if _, _, err := h.state.Allocations(c.Request().Context()); err != nil {
		return h.unavailable(c, "health", err)
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *StateEchoHandler) Weights(c echo.Context) error {
	ws, err := h.state.Weights(c.Request().Context())
	if err != nil {
		return h.unavailable(c, "weights", err)
	}
	return xhttp.SuccessResponse(c, ws)
}

func (h *StateEchoHandler) Weight(c echo.Context) error {
	req := &sourceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	w, ok, err := h.state.SignalWeight(c.Request().Context(), req.Source)
	if err != nil {
		return h.unavailable(c, "weight", err)
	}
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no weight for source %q", req.Source))
	}
	return xhttp.SuccessResponse(c, w)
}

func (h *StateEchoHandler) Decay(c echo.Context) error {
	req := &sourceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, err := h.state.DecayState(c.Request().Context(), req.Source)
	if err != nil {
		return h.unavailable(c, "decay", err)
	}
	if s.Source == "" {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no decay state for source %q", req.Source))
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *StateEchoHandler) Capacity(c echo.Context) error {
	req := &strategyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, ok, err := h.state.Capacity(c.Request().Context(), req.Strategy)
	if err != nil {
		return h.unavailable(c, "capacity", err)
	}
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no capacity estimate for strategy %q", req.Strategy))
	}
	return xhttp.SuccessResponse(c, s)
}

func (h *StateEchoHandler) Regimes(c echo.Context) error {
	rs, err := h.state.Regimes(c.Request().Context())
	if err != nil {
		return h.unavailable(c, "regimes", err)
	}
	return xhttp.SuccessResponse(c, rs)
}

func (h *StateEchoHandler) Regime(c echo.Context) error {
	req := &instrumentRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	s, ok, err := h.state.Regime(c.Request().Context(), req.Instrument)
	if err != nil {
		return h.unavailable(c, "regime", err)
	}
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no regime for instrument %q", req.Instrument))
	}
	return xhttp.SuccessResponse(c, s)
}

// Correlation returns the whole snapshot, or one matrix when horizon is set.
func (h *StateEchoHandler) Correlation(c echo.Context) error {
	req := &correlationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap, ok, err := h.state.Correlation(c.Request().Context())
	if err != nil {
		return h.unavailable(c, "correlation", err)
	}
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no correlation snapshot yet"))
	}
	if req.Horizon == 0 {
		return xhttp.SuccessResponse(c, snap)
	}
	m, ok := snap.Matrix(req.Horizon)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no matrix for horizon %d", req.Horizon))
	}
	return xhttp.SuccessResponse(c, m)
}

func (h *StateEchoHandler) Allocations(c echo.Context) error {
	snap, ok, err := h.state.Allocations(c.Request().Context())
	if err != nil {
		return h.unavailable(c, "allocations", err)
	}
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no allocation yet"))
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *StateEchoHandler) unavailable(c echo.Context, what string, err error) error {
	h.logger.Error("state read failed", xlogger.String("what", what), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.UnavailableError(err))
}
