package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/omnidesk/omnidesk/pkg/escalation"
	"github.com/omnidesk/omnidesk/pkg/models"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

// sessionFromPath loads the session named by :id inside :org_id.
// Sessions of other organizations are reported as not found.
func (s *Server) sessionFromPath(c *gin.Context) (*models.ChatSession, error) {
	sessionID := c.Param("id")
	if sessionID == "" {
		return nil, newHTTPError(http.StatusBadRequest, "session id is required")
	}
	return s.sessions.Get(c.Request.Context(), c.Param("org_id"), sessionID)
}

// getSessionHandler handles GET /api/v1/orgs/:org_id/sessions/:id.
func (s *Server) getSessionHandler(c *gin.Context) error {
	sess, err := s.sessionFromPath(c)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
	return nil
}

// listMessagesHandler handles GET /api/v1/orgs/:org_id/sessions/:id/messages.
func (s *Server) listMessagesHandler(c *gin.Context) error {
	limit := defaultMessageLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxMessageLimit {
			return newHTTPError(http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxMessageLimit))
		}
		limit = n
	}

	sess, err := s.sessionFromPath(c)
	if err != nil {
		return err
	}
	msgs, err := s.messages.List(c.Request.Context(), sess.ID, limit)
	if err != nil {
		return err
	}
	out := make([]*MessageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageResponse(m)
	}
	c.JSON(http.StatusOK, out)
	return nil
}

// handoverHandler handles POST /api/v1/orgs/:org_id/sessions/:id/handover.
func (s *Server) handoverHandler(c *gin.Context) error {
	var req HandoverRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	sess, err := s.sessionFromPath(c)
	if err != nil {
		return err
	}
	updated, err := s.sessions.Handover(c.Request.Context(), sess.ID, req.AgentID, req.Reason)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, toSessionResponse(updated))
	return nil
}

// escalateHandler handles POST /api/v1/orgs/:org_id/sessions/:id/escalate.
func (s *Server) escalateHandler(c *gin.Context) error {
	var req EscalateRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	sess, err := s.sessionFromPath(c)
	if err != nil {
		return err
	}
	out, err := s.sessions.Escalate(c.Request.Context(), sess.ID,
		escalation.Manual(req.Reason, models.Priority(req.Priority)))
	if err != nil {
		return err
	}
	resp := &EscalationResponse{
		Session:  toSessionResponse(out.Session),
		Queued:   out.Queued,
		Attempts: out.Attempts,
	}
	if out.Agent != nil {
		resp.AgentID = out.Agent.ID
	}
	c.JSON(http.StatusOK, resp)
	return nil
}

// transferHandler handles POST /api/v1/orgs/:org_id/sessions/:id/transfer.
func (s *Server) transferHandler(c *gin.Context) error {
	var req TransferRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	sess, err := s.sessionFromPath(c)
	if err != nil {
		return err
	}
	updated, err := s.sessions.Transfer(c.Request.Context(), sess.ID, req.AgentID, req.Reason)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, toSessionResponse(updated))
	return nil
}

// agentReplyHandler handles POST /api/v1/orgs/:org_id/sessions/:id/replies.
func (s *Server) agentReplyHandler(c *gin.Context) error {
	var req AgentReplyRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	out, err := s.pipeline.SendAgentReply(c.Request.Context(), c.Param("org_id"), c.Param("id"), req.AgentID, req.Text)
	if err != nil {
		return err
	}
	c.JSON(http.StatusCreated, &AgentReplyResponse{
		Message:   toMessageResponse(out.Message),
		Delivered: out.Delivered,
		Warnings:  out.Warnings,
	})
	return nil
}

// endSessionHandler handles POST /api/v1/orgs/:org_id/sessions/:id/end.
func (s *Server) endSessionHandler(c *gin.Context) error {
	var req EndSessionRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	sess, err := s.sessionFromPath(c)
	if err != nil {
		return err
	}
	updated, err := s.sessions.End(c.Request.Context(), sess.ID, models.ResolutionType(req.ResolutionType), req.Notes)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, toSessionResponse(updated))
	return nil
}

// ratingHandler handles POST /api/v1/orgs/:org_id/sessions/:id/rating.
func (s *Server) ratingHandler(c *gin.Context) error {
	var req RatingRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	sess, err := s.sessionFromPath(c)
	if err != nil {
		return err
	}
	updated, err := s.sessions.Rate(c.Request.Context(), sess.ID, req.Rating)
	if err != nil {
		return err
	}
	c.JSON(http.StatusOK, toSessionResponse(updated))
	return nil
}
