// Package http serves the gateway's REST API.
package http

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server wraps the echo instance shared by the REST API and the WebSocket endpoint.
type Server struct {
	echo *echo.Echo
}

// NewServer creates an echo server with the standard middleware.
func NewServer() *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	return &Server{echo: e}
}

// Echo exposes the router for route registration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
