package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"AlphaDesk/internal/domain/models"
	xhttp "AlphaDesk/pkg/http"
	xlogger "AlphaDesk/pkg/logger"
)

// SubmitSignal validates a manual signal and queues it for execution. A
// rejection is reported with status 422 and nothing is queued.
func (h *OpsHandler) SubmitSignal(c echo.Context) error {
	req := &models.SubmitSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	id := req.ID
	if id == "" {
		id = h.newID()
	}
	sig, err := h.signal(id, req.ValidateSignalRequest)
	if err != nil {
		return h.fail(c, "submit signal", err)
	}

	res := models.SubmitResponse{SignalID: id, Validation: h.deps.Risk.ValidateSignal(c.Request().Context(), sig)}
	if !res.Validation.Approved {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_SIGNAL_REJECTED", "", "signal rejected by risk", http.StatusUnprocessableEntity).
			WithParam("reason", res.Validation.Reason).
			WithParam("signal_id", id))
	}
	if err := h.deps.Execution.Submit(sig); err != nil {
		return h.fail(c, "submit signal", err)
	}
	h.logger.Info("manual signal queued",
		xlogger.String("signal_id", id),
		xlogger.String("symbol", sig.Symbol),
		xlogger.String("side", string(sig.Side)))
	return xhttp.AcceptedResponse(c, res)
}

func (h *OpsHandler) SetMode(c echo.Context) error {
	req := &models.SetModeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.deps.Execution.SetMode(req.Mode); err != nil {
		return h.fail(c, "set mode", err)
	}
	return xhttp.SuccessResponse(c, h.deps.Execution.Status())
}

func (h *OpsHandler) Pause(c echo.Context) error {
	return h.transition(c, "pause", h.deps.Execution.Pause)
}

func (h *OpsHandler) Resume(c echo.Context) error {
	return h.transition(c, "resume", h.deps.Execution.Resume)
}

func (h *OpsHandler) Reset(c echo.Context) error {
	return h.transition(c, "reset", h.deps.Execution.Reset)
}

// EmergencyStop halts the engine and liquidates. The engine stays halted
// even when liquidation fails, so the response carries the status either way.
func (h *OpsHandler) EmergencyStop(c echo.Context) error {
	h.logger.Warn("emergency stop requested", xlogger.String("remote", c.RealIP()))
	if err := h.deps.Execution.EmergencyStop(c.Request().Context()); err != nil {
		h.logger.Error("emergency stop liquidation failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("liquidation incomplete").
			WithParam("state", h.deps.Execution.Status().State).
			WithError(err))
	}
	return xhttp.SuccessResponse(c, h.deps.Execution.Status())
}

func (h *OpsHandler) transition(c echo.Context, op string, fn func() error) error {
	if err := fn(); err != nil {
		return h.fail(c, op, err)
	}
	st := h.deps.Execution.Status()
	h.logger.Info("execution state changed", xlogger.String("op", op), xlogger.String("state", st.State))
	return xhttp.SuccessResponse(c, st)
}
