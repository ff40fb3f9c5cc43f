package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"AlphaDesk/pkg/logger"
)

// RequestLogging logs each request at debug level, client errors at warn
// and server errors at error.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	if l == nil {
		l = logger.Nop()
	}
	l = l.Component("http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("route", routeOf(c)),
				logger.String("uri", req.RequestURI),
				logger.String("remote", c.RealIP()),
				logger.Int("status", res.Status),
				logger.Int64("bytes", res.Size),
				logger.Duration("latency", time.Since(start)),
			}
			switch {
			case res.Status >= 500:
				if err != nil {
					fields = append(fields, logger.Error(err))
				}
				l.Error("http request", fields...)
			case res.Status >= 400:
				l.Warn("http request", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}

func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
