// Package delivery sends bot and agent replies back to the customer's
// messaging channel.
package delivery

import (
	"context"
	"errors"
)

// ErrDisabled is returned by senders that are not configured.
var ErrDisabled = errors.New("outbound delivery is disabled")

// OutboundMessage is one text reply addressed to a customer.
type OutboundMessage struct {
	OrganizationID string
	SessionID      string
	// To is the customer's normalized phone number (digits, optional leading '+').
	To   string
	Text string
	// Channel overrides the sender's default channel session, when set.
	Channel string
}

// Receipt is what the channel reports after accepting a message.
type Receipt struct {
	ChannelMessageID string
}

// Sender delivers outbound messages.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (*Receipt, error)
}

// Disabled is a Sender that rejects every message.
type Disabled struct{}

// Send implements Sender.
func (Disabled) Send(context.Context, OutboundMessage) (*Receipt, error) {
	return nil, ErrDisabled
}
