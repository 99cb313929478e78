package inbound

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/omnidesk/omnidesk/pkg/models"
)

// AgentReplyResult reports a stored and (possibly) delivered agent reply.
type AgentReplyResult struct {
	Message   *models.Message     `json:"-"`
	Session   *models.ChatSession `json:"-"`
	Delivered bool                `json:"delivered"`
	Warnings  []string            `json:"warnings,omitempty"`
}

// SendAgentReply stores a reply from the session's assigned agent and
// delivers it to the customer. Delivery problems are warnings.
func (p *Pipeline) SendAgentReply(ctx context.Context, organizationID, sessionID, agentID, text string) (*AgentReplyResult, error) {
	sess, err := p.d.Sessions.Get(ctx, organizationID, sessionID)
	if err != nil {
		return nil, err
	}
	customer, err := p.d.Customers.Get(ctx, organizationID, sess.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer of session %s: %w", sessionID, err)
	}

	msg, sess, err := p.d.Messages.RecordAgentReply(ctx, sessionID, agentID, text)
	if err != nil {
		return nil, err
	}

	res := &Result{SessionID: sess.ID, MessageID: msg.ID}
	log := slog.With("session_id", sess.ID, "organization_id", sess.OrganizationID, "agent_id", agentID)
	delivered := p.deliver(ctx, customer, sess, msg.Content, res, log)

	return &AgentReplyResult{
		Message:   msg,
		Session:   sess,
		Delivered: delivered,
		Warnings:  res.Warnings,
	}, nil
}
