package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	applogger "CreditChain/pkg/logger"
)

// RequestLogging logs every request at debug, 5xx at error and slow requests at warn.
func RequestLogging(l *applogger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if l == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			latency := time.Since(start)
			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("route", routeLabel(c)),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("duration_ms", latency),
				applogger.String("remote", c.RealIP()),
			}
			switch {
			case c.Response().Status >= 500:
				l.Error("http request failed", fields...)
			case slowThreshold > 0 && latency >= slowThreshold:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
