package analytics

import (
	"context"
	"fmt"
	"time"

	"AlphaDesk/internal/domain/models"
	domsvc "AlphaDesk/internal/domain/service"
	xhttp "AlphaDesk/pkg/http"
)

const retryStep = 50 * time.Millisecond

// HTTPPredictor calls the model service's /predict endpoint. Server errors
// and transport failures are retried with linear backoff; 4xx answers are
// final.
type HTTPPredictor struct {
	baseURL string
	client  *xhttp.Client
	retries int
}

var _ domsvc.Predictor = (*HTTPPredictor)(nil)

// NewHTTPPredictor builds a predictor; timeout defaults to 3s.
func NewHTTPPredictor(baseURL string, timeout time.Duration, retries int) *HTTPPredictor {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPPredictor{
		baseURL: baseURL,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
		retries: retries,
	}
}

func (p *HTTPPredictor) post(ctx context.Context, path string, body, dest interface{}) error {
	opts := &xhttp.RequestOptions{Method: xhttp.MethodPost, URL: p.baseURL + path, Body: body}
	var err error
	for attempt := 0; ; attempt++ {
		if err = p.client.SendAndParse(ctx, opts, dest); err == nil || xhttp.IsClientError(err) || attempt >= p.retries {
			return err
		}
		select {
		case <-time.After(time.Duration(attempt+1) * retryStep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type predictReq struct {
	Symbol    string             `json:"symbol"`
	Features  map[string]float64 `json:"features"`
	Timestamp time.Time          `json:"timestamp"`
}

type predictResp struct {
	Symbol     string                 `json:"symbol"`
	Prediction float64                `json:"prediction"`
	Confidence float64                `json:"confidence"`
	ModelName  string                 `json:"model_name"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata"`
}

func (p *HTTPPredictor) Predict(ctx context.Context, symbol string, features map[string]float64) (models.Prediction, error) {
	var pr predictResp
	req := predictReq{Symbol: symbol, Features: features, Timestamp: time.Now().UTC()}
	if err := p.post(ctx, "/predict", req, &pr); err != nil {
		return models.Prediction{}, fmt.Errorf("predict %s: %w", symbol, err)
	}
	if pr.Confidence < 0 || pr.Confidence > 1 {
		return models.Prediction{}, fmt.Errorf("predict %s: confidence %.4f out of range", symbol, pr.Confidence)
	}
	ts := pr.Timestamp
	if ts.IsZero() {
		ts = req.Timestamp
	}
	return models.Prediction{
		Symbol:     symbol,
		Value:      pr.Prediction,
		Confidence: pr.Confidence,
		ModelName:  pr.ModelName,
		Timestamp:  ts,
		Metadata:   pr.Metadata,
	}, nil
}
