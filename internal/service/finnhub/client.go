package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"AlphaDesk/internal/domain/models"
	drepo "AlphaDesk/internal/domain/repository"
	"AlphaDesk/pkg/logger"
)

var ErrNotConnected = errors.New("finnhub not connected")

// Client implements a TickStream backed by the Finnhub WebSocket.
type Client struct {
	apiKey         string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

var _ drepo.TickStream = (*Client)(nil)

type Option func(*Client)

func WithLogger(l *logger.Logger) Option { return func(c *Client) { c.log = l.Component("finnhub") } }

// New creates a Finnhub tick stream. Symbols are venue symbols such as
// "OANDA:EUR_USD"; ticks carry the normalized form "EURUSD".
func New(apiKey, websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration, opts ...Option) *Client {
	c := &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("connected", logger.String("url", c.websocketURL))
	return nil
}

// Subscribe subscribes to configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return ErrNotConnected
	}
	for _, s := range c.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.log.Info("subscribed", logger.Strings("symbols", c.symbols))
	return nil
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

// NormalizeSymbol strips the exchange prefix and separators:
// "OANDA:EUR_USD" becomes "EURUSD".
func NormalizeSymbol(s string) string {
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.NewReplacer("_", "", "/", "", "-", "").Replace(s)
	return strings.ToUpper(s)
}

// Read streams ticks and errors until ctx is done or the connection fails.
func (c *Client) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		errs <- ErrNotConnected
		close(errs)
		close(ticks)
		return ticks, errs
	}

	readCtx, stop := context.WithCancel(ctx)
	go c.ping(readCtx, conn)

	go func() {
		defer stop()
		defer close(ticks)
		defer close(errs)
		for {
			if readCtx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				if readCtx.Err() == nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			var m fhMessage
			if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
				continue
			}
			for _, d := range m.Data {
				t := &models.Tick{
					Symbol:    NormalizeSymbol(d.S),
					Last:      d.P,
					Volume:    d.V,
					Timestamp: time.UnixMilli(d.T).UTC(),
				}
				select {
				case ticks <- t:
				default:
					c.log.Debug("tick dropped on backpressure", logger.String("symbol", t.Symbol))
				}
			}
		}
	}()

	return ticks, errs
}

func (c *Client) ping(ctx context.Context, conn *websocket.Conn) {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Reconnect closes and reconnects after the configured delay.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.reconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
