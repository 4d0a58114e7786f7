// Package server owns the HTTP surface: an echo instance with the shared
// middleware stack and the v1 API routes mounted under /api/v1.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/pulseplan/pulse/internal/profile"
	apiv1 "github.com/pulseplan/pulse/server/router/api/v1"
)

// Server wraps the echo instance and its lifecycle.
type Server struct {
	echo    *echo.Echo
	profile *profile.Profile
}

// NewServer assembles the middleware stack and mounts the API.
func NewServer(_ context.Context, p *profile.Profile, api *apiv1.APIV1Service) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.Gzip())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
			)
			return nil
		},
	}))
	e.Use(rateLimiter(api.Config.Get().RateLimitRequestsPerMinute))

	api.Register(e)

	return &Server{echo: e, profile: p}, nil
}

// rateLimiter throttles per client identity: the user_id when one is
// present, otherwise the remote IP.
func rateLimiter(perMinute int) echo.MiddlewareFunc {
	if perMinute <= 0 {
		perMinute = 120
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(float64(perMinute) / 60.0),
			Burst:     perMinute,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if user := c.QueryParam("user_id"); user != "" {
				return user, nil
			}
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, _ error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"message": "rate limit exceeded"})
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"message": "rate limit exceeded"})
		},
	})
}

// Start blocks serving HTTP until the listener closes.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	if s.profile.UNIXSock != "" {
		addr = s.profile.UNIXSock
	}
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests with a short grace period.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down server", "err", err)
	}
	slog.Info("server stopped")
}

// Echo exposes the underlying instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
