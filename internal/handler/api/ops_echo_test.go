package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/internal/usecase"
	"AlphaDesk/internal/usecase/execution"
	"AlphaDesk/internal/usecase/portfolio"
	"AlphaDesk/internal/usecase/risk"
)

type fakeAlpha struct {
	res *models.AlphaResult
	err error
}

func (f *fakeAlpha) ComputeAlpha(context.Context, string) (*models.AlphaResult, error) {
	return f.res, f.err
}

func (f *fakeAlpha) Last(string) (*models.AlphaResult, bool) { return f.res, f.res != nil }

type fakeWeights []models.PodState

func (f fakeWeights) States() []models.PodState { return f }

type fakeRisk struct {
	verdict   models.ValidationResult
	cfg       models.RiskConfig
	validated []*models.TradeSignal
	from, to  time.Time
	limit     int
}

func (f *fakeRisk) ValidateSignal(_ context.Context, sig *models.TradeSignal) models.ValidationResult {
	f.validated = append(f.validated, sig)
	return f.verdict
}

func (f *fakeRisk) CalculatePositionSize(*models.TradeSignal) float64 { return 1000 }

func (f *fakeRisk) Config() models.RiskConfig { return f.cfg }

func (f *fakeRisk) UpdateConfig(_ context.Context, cfg models.RiskConfig) error {
	if err := risk.ValidateConfig(cfg); err != nil {
		return err
	}
	f.cfg = cfg
	return nil
}

func (f *fakeRisk) AddBlackout(models.BlackoutPeriod) error { return nil }

func (f *fakeRisk) Blackouts() []models.BlackoutPeriod { return nil }

func (f *fakeRisk) ComputePortfolioRisk(context.Context) (models.PortfolioRisk, error) {
	return models.PortfolioRisk{VaR: 120, Method: "historical"}, nil
}

func (f *fakeRisk) Violations(_ context.Context, from, to time.Time, limit int) ([]models.RiskViolation, error) {
	f.from, f.to, f.limit = from, to, limit
	return []models.RiskViolation{{ID: "v1", Type: models.ViolationVaR}}, nil
}

type fakeExec struct {
	state     string
	submitted []*models.TradeSignal
	submitErr error
	closeErr  error
}

func (f *fakeExec) Submit(sig *models.TradeSignal) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, sig)
	return nil
}

func (f *fakeExec) Status() models.Status {
	return models.Status{State: f.state, Mode: models.ModePaper}
}

func (f *fakeExec) Positions() []models.Position { return []models.Position{{ID: "p1"}} }

func (f *fakeExec) ClosePosition(string) error { return f.closeErr }

func (f *fakeExec) SetMode(mode string) error {
	if mode == models.ModeLive {
		return execution.ErrVenueUnavailable
	}
	return nil
}

func (f *fakeExec) Pause() error {
	if f.state != models.StateRunning {
		return execution.ErrInvalidState
	}
	f.state = models.StatePaused
	return nil
}

func (f *fakeExec) Resume() error {
	f.state = models.StateRunning
	return nil
}

func (f *fakeExec) Reset() error { return nil }

func (f *fakeExec) EmergencyStop(context.Context) error {
	f.state = models.StateEmergencyStopped
	return nil
}

type fakeRouter struct {
	price  float64
	routed []*models.AlphaResult
}

func (f *fakeRouter) Handle(_ context.Context, res *models.AlphaResult) bool {
	f.routed = append(f.routed, res)
	return true
}

func (f *fakeRouter) Price(string) float64 { return f.price }

type fakeStore struct{ from, to time.Time }

func (f *fakeStore) GetCandles(_ context.Context, symbol string, from, to time.Time, _ domrepo.Timeframe) ([]models.Candle, error) {
	f.from, f.to = from, to
	return []models.Candle{{Symbol: symbol, Close: 1.1}, {Symbol: symbol, Close: 1.2}, {Symbol: symbol, Close: 1.3}}, nil
}

func (f *fakeStore) GetLatestNCandles(context.Context, string, int, domrepo.Timeframe) ([]models.Candle, error) {
	return nil, nil
}

type harness struct {
	e      *echo.Echo
	alpha  *fakeAlpha
	risk   *fakeRisk
	exec   *fakeExec
	router *fakeRouter
	store  *fakeStore
}

var testNow = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := models.RiskConfig{}
	require.NoError(t, defaults.Set(&cfg))
	hs := &harness{
		e:      echo.New(),
		alpha:  &fakeAlpha{},
		risk:   &fakeRisk{verdict: models.Approve(), cfg: cfg},
		exec:   &fakeExec{state: models.StateRunning},
		router: &fakeRouter{price: 1.1},
		store:  &fakeStore{},
	}
	h := NewOpsHandler(nil, Deps{
		Alpha:     hs.alpha,
		Weights:   fakeWeights{{Name: "trend", Weight: 0.5}, {Name: "mean_reversion", Weight: 0.5}},
		Risk:      hs.risk,
		Execution: hs.exec,
		Router:    hs.router,
		Candles:   usecase.NewCandlesUseCase(hs.store),
	})
	h.now = func() time.Time { return testNow }
	h.newID = func() string { return "sig-1" }
	h.RegisterRoutes(hs.e)
	return hs
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (hs *harness) do(t *testing.T, method, target, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	hs.e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestComputeAlpha(t *testing.T) {
	hs := newHarness(t)

	code, env := hs.do(t, http.MethodPost, "/api/alpha/EURUSD", "")
	require.Equal(t, http.StatusOK, code)
	var out models.AlphaResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "EURUSD", out.Symbol)
	assert.False(t, out.Actionable)

	hs.alpha.res = &models.AlphaResult{Symbol: "EURUSD", Signal: 0.4, Confidence: 0.8}
	code, env = hs.do(t, http.MethodPost, "/api/alpha/EURUSD", `{"execute":true}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.True(t, out.Actionable)
	assert.True(t, out.Queued)
	require.Len(t, hs.router.routed, 1)

	code, _ = hs.do(t, http.MethodGet, "/api/alpha/EURUSD", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestSubmitSignal(t *testing.T) {
	hs := newHarness(t)

	code, env := hs.do(t, http.MethodPost, "/api/signals", `{"symbol":"EURUSD","side":"buy","confidence":0.8}`)
	require.Equal(t, http.StatusAccepted, code, string(env.Data))
	require.Len(t, hs.exec.submitted, 1)
	sig := hs.exec.submitted[0]
	assert.Equal(t, "sig-1", sig.ID)
	assert.Equal(t, 1.1, sig.Price)
	assert.Equal(t, 1.0, sig.Strength)
	assert.Equal(t, "manual", sig.Strategy)

	hs.exec.submitErr = execution.ErrDuplicateSignal
	code, _ = hs.do(t, http.MethodPost, "/api/signals", `{"id":"sig-1","symbol":"EURUSD","side":"buy","confidence":0.8}`)
	assert.Equal(t, http.StatusConflict, code)

	hs.risk.verdict = models.Reject(models.ReasonConfidence)
	code, env = hs.do(t, http.MethodPost, "/api/signals", `{"symbol":"EURUSD","side":"sell","confidence":0.2}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, string(env.Data), models.ReasonConfidence)
	assert.Len(t, hs.exec.submitted, 1)

	code, _ = hs.do(t, http.MethodPost, "/api/signals", `{"symbol":"EURUSD","side":"hold"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	hs.router.price = 0
	code, _ = hs.do(t, http.MethodPost, "/api/signals", `{"symbol":"AUDUSD","side":"buy","confidence":0.9}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRiskEndpoints(t *testing.T) {
	hs := newHarness(t)

	code, env := hs.do(t, http.MethodPost, "/api/risk/size", `{"symbol":"EURUSD","side":"buy","confidence":0.7,"price":1.25}`)
	require.Equal(t, http.StatusOK, code)
	var size models.SizeResponse
	require.NoError(t, json.Unmarshal(env.Data, &size))
	assert.Equal(t, 1000.0, size.Size)
	assert.Equal(t, 1250.0, size.Notional)

	code, _ = hs.do(t, http.MethodPost, "/api/risk/validate", `{"symbol":"EURUSD","side":"buy","confidence":0.7}`)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, hs.risk.validated, 1)

	before := hs.risk.cfg
	code, _ = hs.do(t, http.MethodPut, "/api/risk/config", `{"max_positions":9}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 9, hs.risk.cfg.MaxPositions)
	assert.Equal(t, before.VaRLimit, hs.risk.cfg.VaRLimit)

	code, _ = hs.do(t, http.MethodPut, "/api/risk/config", `{"var_confidence":0.2}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, before.VaRConfidence, hs.risk.cfg.VaRConfidence)

	code, _ = hs.do(t, http.MethodGet, "/api/risk/violations?limit=5", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5, hs.risk.limit)
	assert.Equal(t, testNow, hs.risk.to)
	assert.Equal(t, testNow.Add(-24*time.Hour), hs.risk.from)

	code, _ = hs.do(t, http.MethodGet, "/api/risk/violations?from=2024-03-06T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = hs.do(t, http.MethodGet, "/api/risk/portfolio", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestExecutionControls(t *testing.T) {
	hs := newHarness(t)

	code, _ := hs.do(t, http.MethodPost, "/api/execution/pause", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatePaused, hs.exec.state)

	code, env := hs.do(t, http.MethodPost, "/api/execution/pause", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, http.StatusConflict, env.Status)

	code, _ = hs.do(t, http.MethodPut, "/api/execution/mode", `{"mode":"live"}`)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = hs.do(t, http.MethodPut, "/api/execution/mode", `{"mode":"demo"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = hs.do(t, http.MethodPost, "/api/execution/emergency-stop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StateEmergencyStopped, hs.exec.state)

	hs.exec.closeErr = portfolio.ErrPositionNotFound
	code, _ = hs.do(t, http.MethodDelete, "/api/positions/p9", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, env = hs.do(t, http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"total":1`)
}

func TestCandles(t *testing.T) {
	hs := newHarness(t)

	code, env := hs.do(t, http.MethodGet, "/api/candles/EURUSD?tf=5m&limit=2&from=2024-03-05T10:03:00Z", "")
	require.Equal(t, http.StatusOK, code)
	var res usecase.GetCandlesResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 1.3, res.Candles[1].Close)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), hs.store.from)
	assert.Equal(t, testNow, hs.store.to)

	code, _ = hs.do(t, http.MethodGet, "/api/candles/EURUSD?tf=1h", "")
	assert.Equal(t, http.StatusBadRequest, code)
}
