package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// InboundMessageRequest is the HTTP request body for
// POST /api/v1/orgs/:org_id/inbound.
type InboundMessageRequest struct {
	From             string         `json:"from" validate:"required,max=64"`
	Name             string         `json:"name,omitempty" validate:"max=200"`
	Text             string         `json:"text" validate:"required,max=4096"`
	ChannelMessageID string         `json:"channel_message_id,omitempty"`
	ChannelMetadata  map[string]any `json:"channel_metadata,omitempty"`
}

// HandoverRequest is the HTTP request body for POST .../sessions/:id/handover.
type HandoverRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
	Reason  string `json:"reason,omitempty" validate:"max=500"`
}

// EscalateRequest is the HTTP request body for POST .../sessions/:id/escalate.
type EscalateRequest struct {
	Reason   string `json:"reason,omitempty" validate:"max=500"`
	Priority string `json:"priority,omitempty" validate:"omitempty,oneof=normal medium high"`
}

// TransferRequest is the HTTP request body for POST .../sessions/:id/transfer.
type TransferRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
	Reason  string `json:"reason,omitempty" validate:"max=500"`
}

// AgentReplyRequest is the HTTP request body for POST .../sessions/:id/replies.
type AgentReplyRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
	Text    string `json:"text" validate:"required,max=4096"`
}

// EndSessionRequest is the HTTP request body for POST .../sessions/:id/end.
type EndSessionRequest struct {
	ResolutionType string `json:"resolution_type,omitempty"`
	Notes          string `json:"notes,omitempty" validate:"max=2000"`
}

// RatingRequest is the HTTP request body for POST .../sessions/:id/rating.
type RatingRequest struct {
	Rating int `json:"rating" validate:"required,min=1,max=5"`
}

// WAHAWebhook is the envelope WAHA posts for every gateway event.
type WAHAWebhook struct {
	Event   string       `json:"event"`
	Session string       `json:"session"`
	Payload *WAHAMessage `json:"payload"`
}

// WAHAMessage is the payload of a WAHA "message" event.
type WAHAMessage struct {
	ID       string         `json:"id"`
	From     string         `json:"from"`
	Body     string         `json:"body"`
	FromMe   bool           `json:"fromMe"`
	HasMedia bool           `json:"hasMedia"`
	Data     map[string]any `json:"_data,omitempty"`
}

// bind decodes the JSON body into req and validates it. An empty body
// leaves req at its zero value.
func (s *Server) bind(c *gin.Context, req any) error {
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(req); err != nil {
			return newHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
		}
	}
	if err := s.validate.Struct(req); err != nil {
		return newHTTPError(http.StatusBadRequest, validationMessage(err))
	}
	return nil
}

// validationMessage renders validator failures as "field: constraint" pairs.
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
	}
	return "invalid request: " + strings.Join(parts, "; ")
}
