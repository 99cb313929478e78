package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/omnidesk/omnidesk/pkg/inbound"
)

const (
	webhookProcessed = "processed"
	webhookIgnored   = "ignored"
	webhookFailed    = "failed"
)

// inboundHandler handles POST /api/v1/orgs/:org_id/inbound.
func (s *Server) inboundHandler(c *gin.Context) error {
	var req InboundMessageRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	res, err := s.pipeline.Process(c.Request.Context(), inbound.RawMessage{
		OrganizationID:   c.Param("org_id"),
		From:             req.From,
		Name:             req.Name,
		Text:             req.Text,
		ChannelMessageID: req.ChannelMessageID,
		ChannelMetadata:  req.ChannelMetadata,
	})
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, res)
	return nil
}

// wahaWebhookHandler handles POST /api/v1/webhooks/waha/:org_id.
// It always answers 200 so the gateway does not redeliver; the outcome
// is reported in the body.
func (s *Server) wahaWebhookHandler(c *gin.Context) {
	orgID := c.Param("org_id")
	log := slog.With("organization_id", orgID)

	var hook WAHAWebhook
	if err := c.ShouldBindJSON(&hook); err != nil {
		log.Warn("Malformed WAHA webhook", "error", err)
		c.JSON(http.StatusOK, WebhookResponse{Status: webhookIgnored, Reason: "malformed payload"})
		return
	}
	if reason := ignoreReason(&hook); reason != "" {
		log.Debug("Ignoring WAHA webhook", "event", hook.Event, "reason", reason)
		c.JSON(http.StatusOK, WebhookResponse{Status: webhookIgnored, Reason: reason})
		return
	}

	msg := hook.Payload
	meta := map[string]any{inbound.MetaChannelSession: hook.Session}
	name, _ := msg.Data["notifyName"].(string)

	res, err := s.pipeline.Process(c.Request.Context(), inbound.RawMessage{
		OrganizationID:   orgID,
		From:             msg.From,
		Name:             name,
		Text:             msg.Body,
		ChannelMessageID: msg.ID,
		ChannelMetadata:  meta,
	})
	if err != nil {
		he := mapServiceError(err)
		log.Warn("Inbound WhatsApp message not processed", "from", msg.From, "error", err)
		c.JSON(http.StatusOK, WebhookResponse{Status: webhookFailed, Reason: he.Message})
		return
	}
	c.JSON(http.StatusOK, WebhookResponse{Status: webhookProcessed, Result: res})
}

// ignoreReason returns why a webhook carries nothing to process, or "".
func ignoreReason(hook *WAHAWebhook) string {
	switch {
	case hook.Event != "message":
		return "unsupported event " + hook.Event
	case hook.Payload == nil:
		return "missing payload"
	case hook.Payload.FromMe:
		return "outgoing message"
	case strings.HasSuffix(hook.Payload.From, "@g.us"):
		return "group chat"
	case strings.TrimSpace(hook.Payload.Body) == "":
		return "no text"
	}
	return ""
}
