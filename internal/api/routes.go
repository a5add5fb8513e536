package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"atlas-system/internal/api/types"
	v1 "atlas-system/internal/api/v1"
)

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	baseHandler := NewHandler(s.engine, s.storage)

	apiGroup := s.router.Group("/api")

	apiGroup.GET("/ping", baseHandler.Ping)
	apiGroup.GET("/health", baseHandler.Health)

	v1.SetupRoutes(apiGroup.Group("/v1"), s.deps)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, types.ErrorResponse("NOT_FOUND", "Route not found", c.Request.URL.Path))
	})
}
