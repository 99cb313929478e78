package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/omnidesk/omnidesk/pkg/database"
	"github.com/omnidesk/omnidesk/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only omnidesk's own storage decides between healthy and unhealthy.
// Collaborator problems (responder, delivery, events) surface as warnings
// and mark the service degraded, never unhealthy.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:        healthStatusHealthy,
		Version:       version.GitCommit,
		Configuration: s.cfg.Stats(),
		Warnings:      s.warnings.GetWarnings(),
	}
	if len(resp.Warnings) > 0 {
		resp.Status = healthStatusDegraded
	}

	if s.db != nil {
		dbHealth, err := database.Health(reqCtx, s.db)
		resp.Database = dbHealth
		if err != nil {
			resp.Status = healthStatusUnhealthy
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}

	c.JSON(http.StatusOK, resp)
}
