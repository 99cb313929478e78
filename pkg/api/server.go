// Package api exposes the conversation core over HTTP: the channel webhook,
// normalized inbound messages, session operations, health and metrics.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/inbound"
	"github.com/omnidesk/omnidesk/pkg/metrics"
	"github.com/omnidesk/omnidesk/pkg/services"
)

// Request body size limit for all endpoints.
const maxBodyBytes = 1 << 20

// Dependencies are the collaborators served by the HTTP API.
type Dependencies struct {
	Pipeline *inbound.Pipeline
	Sessions *services.SessionService
	Messages *services.MessageService
	Warnings *services.SystemWarningsService // nil-safe
	Metrics  *metrics.Metrics                // nil disables /metrics and request metrics
	DB       *sql.DB                         // nil skips the database health check
	Config   *config.Config
}

// Server is the HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	validate   *validator.Validate

	pipeline *inbound.Pipeline
	sessions *services.SessionService
	messages *services.MessageService
	warnings *services.SystemWarningsService
	metrics  *metrics.Metrics
	db       *sql.DB
	cfg      *config.Config
}

// NewServer creates the API server and registers its routes.
func NewServer(d Dependencies) *Server {
	s := &Server{
		engine:   gin.New(),
		validate: newValidator(),
		pipeline: d.Pipeline,
		sessions: d.Sessions,
		messages: d.Messages,
		warnings: d.Warnings,
		metrics:  d.Metrics,
		db:       d.DB,
		cfg:      d.Config,
	}
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	s.setupRoutes()
	return s
}

// newValidator reports JSON field names in validation failures.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func (s *Server) setupRoutes() {
	e := s.engine
	e.Use(gin.Recovery())
	e.Use(securityHeaders())
	e.Use(requestLogger())
	if s.metrics != nil {
		e.Use(s.requestMetrics())
	}
	e.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		c.Next()
	})

	e.GET("/health", s.healthHandler)
	if s.metrics != nil {
		e.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := e.Group("/api/v1")
	v1.POST("/webhooks/waha/:org_id", s.wahaWebhookHandler)

	org := v1.Group("/orgs/:org_id")
	org.POST("/inbound", handle(s.inboundHandler))
	org.GET("/sessions/:id", handle(s.getSessionHandler))
	org.GET("/sessions/:id/messages", handle(s.listMessagesHandler))
	org.POST("/sessions/:id/handover", handle(s.handoverHandler))
	org.POST("/sessions/:id/escalate", handle(s.escalateHandler))
	org.POST("/sessions/:id/transfer", handle(s.transferHandler))
	org.POST("/sessions/:id/replies", handle(s.agentReplyHandler))
	org.POST("/sessions/:id/end", handle(s.endSessionHandler))
	org.POST("/sessions/:id/rating", handle(s.ratingHandler))
}

// Handler returns the HTTP handler (used by tests and embedding servers).
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on addr and blocks until the server stops.
// http.ErrServerClosed after Shutdown is not reported as an error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
