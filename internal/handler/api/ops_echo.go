package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/internal/usecase"
	"AlphaDesk/internal/usecase/alpha"
	"AlphaDesk/internal/usecase/execution"
	"AlphaDesk/internal/usecase/portfolio"
	"AlphaDesk/internal/usecase/risk"
	"AlphaDesk/internal/usecase/trading"
	xhttp "AlphaDesk/pkg/http"
	xlogger "AlphaDesk/pkg/logger"
	"AlphaDesk/pkg/util"
)

// Alpha is the alpha engine as seen by the API.
type Alpha interface {
	ComputeAlpha(ctx context.Context, symbol string) (*models.AlphaResult, error)
	Last(symbol string) (*models.AlphaResult, bool)
}

// Weights exposes the meta-allocator state.
type Weights interface {
	States() []models.PodState
}

// Risk is the risk manager as seen by the API.
type Risk interface {
	ValidateSignal(ctx context.Context, sig *models.TradeSignal) models.ValidationResult
	CalculatePositionSize(sig *models.TradeSignal) float64
	Config() models.RiskConfig
	UpdateConfig(ctx context.Context, cfg models.RiskConfig) error
	AddBlackout(b models.BlackoutPeriod) error
	Blackouts() []models.BlackoutPeriod
	ComputePortfolioRisk(ctx context.Context) (models.PortfolioRisk, error)
	Violations(ctx context.Context, from, to time.Time, limit int) ([]models.RiskViolation, error)
}

// Execution is the execution engine as seen by the API.
type Execution interface {
	Submit(sig *models.TradeSignal) error
	Status() models.Status
	Positions() []models.Position
	ClosePosition(id string) error
	SetMode(mode string) error
	Pause() error
	Resume() error
	Reset() error
	EmergencyStop(ctx context.Context) error
}

// Router prices and routes alpha results the way the live pipeline does.
type Router interface {
	Handle(ctx context.Context, res *models.AlphaResult) bool
	Price(symbol string) float64
}

// Candles serves stored OHLCV history.
type Candles interface {
	GetCandles(ctx context.Context, p usecase.GetCandlesParams) (*usecase.GetCandlesResult, error)
}

// Deps are the collaborators behind the ops API. Candles may be nil.
type Deps struct {
	Alpha     Alpha
	Weights   Weights
	Risk      Risk
	Execution Execution
	Router    Router
	Candles   Candles
}

var (
	_ Alpha     = (*alpha.Engine)(nil)
	_ Weights   = (*alpha.Allocator)(nil)
	_ Risk      = (*risk.Manager)(nil)
	_ Execution = (*execution.Engine)(nil)
	_ Router    = (*trading.Pipeline)(nil)
)

// OpsHandler serves the operator API over the alpha, risk and execution
// engines.
type OpsHandler struct {
	logger *xlogger.Logger
	deps   Deps
	now    func() time.Time
	newID  func() string
}

func NewOpsHandler(logger *xlogger.Logger, deps Deps) *OpsHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &OpsHandler{
		logger: logger.Component("api"),
		deps:   deps,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.POST("/alpha/:symbol", h.ComputeAlpha)
	g.GET("/alpha/:symbol", h.LastAlpha)
	g.GET("/pods", h.Pods)

	g.POST("/risk/validate", h.ValidateSignal)
	g.POST("/risk/size", h.PositionSize)
	g.GET("/risk/config", h.RiskConfig)
	g.PUT("/risk/config", h.UpdateRiskConfig)
	g.GET("/risk/blackouts", h.Blackouts)
	g.POST("/risk/blackouts", h.AddBlackout)
	g.GET("/risk/portfolio", h.PortfolioRisk)
	g.GET("/risk/violations", h.Violations)

	g.GET("/status", h.Status)
	g.GET("/positions", h.Positions)
	g.DELETE("/positions/:id", h.ClosePosition)
	g.POST("/signals", h.SubmitSignal)
	g.PUT("/execution/mode", h.SetMode)
	g.POST("/execution/pause", h.Pause)
	g.POST("/execution/resume", h.Resume)
	g.POST("/execution/emergency-stop", h.EmergencyStop)
	g.POST("/execution/reset", h.Reset)

	if h.deps.Candles != nil {
		g.GET("/candles/:symbol", h.Candles)
	}
}

func (h *OpsHandler) Health(c echo.Context) error {
	st := h.deps.Execution.Status()
	return xhttp.SuccessResponse(c, map[string]string{"state": st.State, "mode": st.Mode})
}

// fail maps domain errors onto AppErrors. Anything unrecognised is logged
// and reported as a 500.
func (h *OpsHandler) fail(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return xhttp.AppErrorResponse(c, appErr)
	}
	switch {
	case errors.Is(err, execution.ErrInvalidMode),
		errors.Is(err, execution.ErrInvalidSignal),
		errors.Is(err, risk.ErrInvalidRiskConfig),
		errors.Is(err, risk.ErrInvalidBlackout),
		errors.Is(err, usecase.ErrInvalidCandlesQuery):
		appErr = xhttp.BadRequestError(err.Error())
	case errors.Is(err, portfolio.ErrPositionNotFound):
		appErr = xhttp.NotFoundError(err.Error())
	case errors.Is(err, execution.ErrInvalidState),
		errors.Is(err, execution.ErrNotAccepting),
		errors.Is(err, execution.ErrDuplicateSignal),
		errors.Is(err, execution.ErrVenueUnavailable),
		errors.Is(err, portfolio.ErrPositionClosing):
		appErr = xhttp.ConflictError(err.Error())
	case errors.Is(err, execution.ErrQueueFull):
		appErr = xhttp.UnavailableError(err.Error())
	default:
		h.logger.Error(op+" failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.AppErrorResponse(c, appErr.WithError(err))
}

func (h *OpsHandler) ComputeAlpha(c echo.Context) error {
	req := &models.AlphaRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	res, err := h.deps.Alpha.ComputeAlpha(ctx, req.Symbol)
	if err != nil {
		return h.fail(c, "compute alpha", err)
	}
	out := models.AlphaResponse{Symbol: req.Symbol, Actionable: res != nil, Result: res}
	if res != nil && req.Execute {
		out.Queued = h.deps.Router.Handle(ctx, res)
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *OpsHandler) LastAlpha(c echo.Context) error {
	symbol := c.Param("symbol")
	res, ok := h.deps.Alpha.Last(symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no alpha for %s", symbol))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *OpsHandler) Pods(c echo.Context) error {
	states := h.deps.Weights.States()
	return xhttp.ListResponse(c, states, int64(len(states)))
}

func (h *OpsHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.deps.Execution.Status())
}

func (h *OpsHandler) Positions(c echo.Context) error {
	pos := h.deps.Execution.Positions()
	return xhttp.ListResponse(c, pos, int64(len(pos)))
}

func (h *OpsHandler) ClosePosition(c echo.Context) error {
	req := &models.ClosePositionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.deps.Execution.ClosePosition(req.ID); err != nil {
		return h.fail(c, "close position", err)
	}
	return xhttp.AcceptedResponse(c, map[string]string{"position_id": req.ID})
}

func (h *OpsHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to := util.Range(req.From, req.To, 24*time.Hour, h.now())
	res, err := h.deps.Candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:    req.Symbol,
		From:      from,
		To:        to,
		Timeframe: domrepo.NormalizeTimeframe(req.TF),
		Limit:     req.Limit,
	})
	if err != nil {
		return h.fail(c, "get candles", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}
