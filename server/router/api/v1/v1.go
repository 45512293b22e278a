// Package v1 exposes the search API over HTTP.
package v1

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/mailsense/mailsense/internal/profile"
	"github.com/mailsense/mailsense/plugin/search"
	"github.com/mailsense/mailsense/store"
)

type APIV1Service struct {
	Profile       *profile.Profile
	Store         *store.Store
	SearchService *search.Service
	Logger        *slog.Logger
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, searchService *search.Service, logger *slog.Logger) *APIV1Service {
	return &APIV1Service{
		Profile:       profile,
		Store:         store,
		SearchService: searchService,
		Logger:        logger,
	}
}

// RegisterRoutes mounts the v1 API on the Echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	group := e.Group("/api/v1")
	group.POST("/search", s.HandleSearch)
	group.POST("/cache/warm", s.HandleWarmCache)
	group.GET("/threads/:id/embedding", s.HandleGetThreadEmbedding)
}
