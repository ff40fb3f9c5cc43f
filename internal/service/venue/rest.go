package venue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sony/gobreaker"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/internal/service/ratelimit"
	"AlphaDesk/pkg/config"
	xhttp "AlphaDesk/pkg/http"
	"AlphaDesk/pkg/logger"
)

// REST talks JSON to a broker gateway:
//
//	POST   {base}/orders       submit
//	DELETE {base}/orders/{id}  cancel
//
// Submissions are rate limited per symbol and go through a circuit breaker
// that trips on consecutive transport or 5xx failures. A 4xx answer is the
// venue rejecting the order, not the venue failing.
type REST struct {
	baseURL string
	apiKey  string
	client  *xhttp.Client
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger
}

var _ domrepo.OrderVenue = (*REST)(nil)

type RESTOption func(*REST)

func WithHTTPClient(c *xhttp.Client) RESTOption { return func(r *REST) { r.client = c } }

func WithLogger(l *logger.Logger) RESTOption { return func(r *REST) { r.log = l.Component("venue") } }

func NewREST(cfg config.VenueConfig, opts ...RESTOption) *REST {
	r := &REST{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		limiter: ratelimit.New(cfg.RateLimit, cfg.Burst),
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 3
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "venue",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || xhttp.IsClientError(err)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			r.log.Warn("venue breaker state changed",
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return r
}

func (r *REST) Name() string { return models.ModeLive }

type submitBody struct {
	ClientOrderID string   `json:"client_order_id"`
	Symbol        string   `json:"symbol"`
	Side          string   `json:"side"`
	Type          string   `json:"type"`
	Qty           float64  `json:"qty"`
	Price         *float64 `json:"price,omitempty"`
}

type submitResp struct {
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
	FillPrice float64 `json:"fill_price"`
	FilledQty float64 `json:"filled_qty"`
	Reason    string  `json:"reason"`
}

func (r *REST) SubmitOrder(ctx context.Context, req domrepo.OrderRequest) (domrepo.OrderAck, error) {
	if err := r.limiter.Wait(ctx, req.Symbol); err != nil {
		return domrepo.OrderAck{}, fmt.Errorf("rate limit: %w", err)
	}

	var resp submitResp
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method:  xhttp.MethodPost,
			URL:     r.baseURL + "/orders",
			Headers: r.headers(),
			Body: submitBody{
				ClientOrderID: req.LinkID,
				Symbol:        req.Symbol,
				Side:          string(req.Side),
				Type:          req.Type,
				Qty:           req.Qty,
				Price:         req.Price,
			},
		}, &resp)
	})
	if err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) && xhttp.IsClientError(err) {
			return domrepo.OrderAck{Status: models.OrderRejected, Reason: fmt.Sprintf("http_%d", se.Code)}, nil
		}
		return domrepo.OrderAck{}, fmt.Errorf("submit order: %w", err)
	}

	return domrepo.OrderAck{
		OrderID:   resp.OrderID,
		Status:    parseStatus(resp.Status),
		FillPrice: resp.FillPrice,
		FilledQty: resp.FilledQty,
		Reason:    resp.Reason,
	}, nil
}

func (r *REST) CancelOrder(ctx context.Context, orderID string) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method:  xhttp.MethodDelete,
			URL:     r.baseURL + "/orders/" + orderID,
			Headers: r.headers(),
		}, nil)
	})
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

// State reports the breaker state for health checks.
func (r *REST) State() string { return r.breaker.State().String() }

func (r *REST) headers() map[string]string {
	if r.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + r.apiKey}
}

func parseStatus(s string) models.OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return models.OrderFilled
	case "rejected":
		return models.OrderRejected
	case "cancelled", "canceled":
		return models.OrderCancelled
	}
	return models.OrderPending
}
