package clickhouse

import (
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// ClientConfig holds connection and pool settings. Zero fields take the
// tag default when the client is built.
type ClientConfig struct {
	Host            string        `validate:"required"`
	Port            int           `default:"9000" validate:"gte=1,lte=65535"`
	Database        string        `default:"default" validate:"required"`
	User            string        `default:"default"`
	Password        string
	MaxOpenConns    int           `default:"10" validate:"gte=1"`
	MaxIdleConns    int           `default:"5" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `default:"5m"`
	DialTimeout     time.Duration `default:"5s"`
	ReadTimeout     time.Duration `default:"10s"`
	UseHTTP         bool
	AsyncInsert     bool
	WaitForAsync    bool
	MaxExecTime     time.Duration
}

var validate = validator.New()

func (c *ClientConfig) complete() error {
	if err := defaults.Set(c); err != nil {
		return err
	}
	return validate.Struct(c)
}

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// WithAddr sets the server address.
func WithAddr(host string, port int) ClientOption {
	return func(c *ClientConfig) { c.Host, c.Port = host, port }
}

// WithDatabase selects the database and the credentials used for it.
func WithDatabase(name, user, password string) ClientOption {
	return func(c *ClientConfig) { c.Database, c.User, c.Password = name, user, password }
}

// WithPool sizes the connection pool.
func WithPool(maxOpen, maxIdle int, lifetime time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.MaxOpenConns, c.MaxIdleConns, c.ConnMaxLifetime = maxOpen, maxIdle, lifetime
	}
}

func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *ClientConfig) { c.DialTimeout, c.ReadTimeout = dial, read }
}

// WithHTTP switches to the HTTP interface (port 8123 by convention).
func WithHTTP(useHTTP bool) ClientOption {
	return func(c *ClientConfig) { c.UseHTTP = useHTTP }
}

// WithAsyncInsert sets async_insert and, with wait, wait_for_async_insert.
func WithAsyncInsert(enabled, wait bool) ClientOption {
	return func(c *ClientConfig) { c.AsyncInsert, c.WaitForAsync = enabled, wait }
}

// WithMaxExecutionTime caps server-side query time. Zero leaves the server default.
func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.MaxExecTime = d }
}
