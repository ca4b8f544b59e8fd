package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the Echo application exposing the RPC surface as a single
// POST /rpc endpoint, matching spec.md §6's "request/answer packet pair"
// rather than a resource-oriented REST API.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// NewServer constructs an Echo app wired to handler.
func NewServer(handler *Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, handler: handler}
	e.GET("/health", s.handleHealth)
	e.POST("/rpc", s.handleRPC)
	return s
}

// requestLogger logs each HTTP request via slog, matching the teacher's
// httpapi middleware.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			slog.Info("rpc request",
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRPC(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request: "+err.Error())
	}
	answer := s.handler.Handle(c.Request().Context(), req)
	return c.JSON(http.StatusOK, answer)
}

// Run starts the server and blocks until ctx cancellation or startup
// failure, matching the teacher's graceful-shutdown shape.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down rpc server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("rpc server stopped")
		return nil
	}
}
