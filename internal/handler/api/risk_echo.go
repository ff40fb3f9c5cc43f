package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"AlphaDesk/internal/domain/models"
	xhttp "AlphaDesk/pkg/http"
	"AlphaDesk/pkg/util"
)

// signal builds a trade signal from a request, pricing it at the last
// observed tick when the request carries no price.
func (h *OpsHandler) signal(id string, req models.ValidateSignalRequest) (*models.TradeSignal, error) {
	if req.Price <= 0 {
		req.Price = h.deps.Router.Price(req.Symbol)
	}
	if req.Price <= 0 {
		return nil, xhttp.BadRequestErrorf("no price for %s", req.Symbol).WithParam("symbol", req.Symbol)
	}
	return req.Signal(id, h.now().UTC()), nil
}

func (h *OpsHandler) ValidateSignal(c echo.Context) error {
	req := &models.ValidateSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig, err := h.signal(h.newID(), *req)
	if err != nil {
		return h.fail(c, "validate signal", err)
	}
	return xhttp.SuccessResponse(c, h.deps.Risk.ValidateSignal(c.Request().Context(), sig))
}

func (h *OpsHandler) PositionSize(c echo.Context) error {
	req := &models.ValidateSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig, err := h.signal(h.newID(), *req)
	if err != nil {
		return h.fail(c, "position size", err)
	}
	size := h.deps.Risk.CalculatePositionSize(sig)
	return xhttp.SuccessResponse(c, models.SizeResponse{
		Symbol:   sig.Symbol,
		Price:    sig.Price,
		Size:     size,
		Notional: size * sig.Price,
	})
}

func (h *OpsHandler) RiskConfig(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.deps.Risk.Config())
}

// UpdateRiskConfig applies the body over the current config, so fields
// left out keep their values.
func (h *OpsHandler) UpdateRiskConfig(c echo.Context) error {
	cfg := h.deps.Risk.Config()
	if err := c.Bind(&cfg); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("malformed risk config").WithError(err))
	}
	if err := h.deps.Risk.UpdateConfig(c.Request().Context(), cfg); err != nil {
		return h.fail(c, "update risk config", err)
	}
	return xhttp.SuccessResponse(c, h.deps.Risk.Config())
}

func (h *OpsHandler) Blackouts(c echo.Context) error {
	bs := h.deps.Risk.Blackouts()
	return xhttp.ListResponse(c, bs, int64(len(bs)))
}

func (h *OpsHandler) AddBlackout(c echo.Context) error {
	b := models.BlackoutPeriod{}
	if err := c.Bind(&b); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("malformed blackout").WithError(err))
	}
	if err := h.deps.Risk.AddBlackout(b); err != nil {
		return h.fail(c, "add blackout", err)
	}
	return xhttp.CreatedResponse(c, b)
}

func (h *OpsHandler) PortfolioRisk(c echo.Context) error {
	pr, err := h.deps.Risk.ComputePortfolioRisk(c.Request().Context())
	if err != nil {
		return h.fail(c, "portfolio risk", err)
	}
	return xhttp.SuccessResponse(c, pr)
}

func (h *OpsHandler) Violations(c echo.Context) error {
	req := &models.ViolationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, to := util.Range(req.From, req.To, 24*time.Hour, h.now())
	if from.After(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from after to"))
	}
	vs, err := h.deps.Risk.Violations(c.Request().Context(), from, to, req.Limit)
	if err != nil {
		return h.fail(c, "query violations", err)
	}
	return xhttp.ListResponse(c, vs, int64(len(vs)))
}
