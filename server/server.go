// Package server wires the HTTP surface of the search engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/mailsense/mailsense/internal/profile"
	"github.com/mailsense/mailsense/plugin/search"
	"github.com/mailsense/mailsense/server/middleware"
	apiv1 "github.com/mailsense/mailsense/server/router/api/v1"
	"github.com/mailsense/mailsense/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	logger     *slog.Logger
}

func NewServer(ctx context.Context, profile *profile.Profile, st *store.Store, searchService *search.Service, logger *slog.Logger) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(middleware.RateLimit(middleware.NewRateLimiter(10, 20)))

	s := &Server{
		Profile:    profile,
		Store:      st,
		echoServer: e,
		logger:     logger,
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	apiService := apiv1.NewAPIV1Service(profile, st, searchService, logger)
	apiService.RegisterRoutes(e)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	s.logger.Info("server started", slog.String("address", address), slog.String("mode", s.Profile.Mode))
	if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "failed to start server")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
	}
	if err := s.Store.Close(); err != nil {
		s.logger.Error("failed to close store", slog.String("error", err.Error()))
	}
	s.logger.Info("server stopped")
}
