// Package responder talks to the external bot responder that drafts
// replies for bot-owned sessions.
//
// The wire contract is a single unary gRPC method carrying
// google.protobuf.Struct in both directions, so responders can be written
// in any language without sharing generated stubs:
//
//	/omnidesk.responder.v1.Responder/Generate
//
// Request fields: organization_id, session_id, customer_id, bot_id,
// message, intent, sentiment, history[{role, content}].
// Reply fields: text, confidence, failed.
package responder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName    = "omnidesk.responder.v1.Responder"
	generateMethod = "/" + serviceName + "/Generate"
)

// ErrEmptyReply is returned when the responder answers without text and
// without flagging the reply as failed.
var ErrEmptyReply = errors.New("responder returned an empty reply")

// Turn is one prior message given to the responder as context.
type Turn struct {
	Role    string // customer, bot, agent, system
	Content string
}

// Request asks for a reply to the latest customer message.
type Request struct {
	OrganizationID string
	SessionID      string
	CustomerID     string
	BotID          string
	Message        string
	Intent         string
	Sentiment      string
	History        []Turn
}

// Reply is the responder's answer.
type Reply struct {
	Text       string
	Confidence float64
	Failed     bool
}

// Responder generates bot replies.
type Responder interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
}

// GRPCResponder implements Responder over gRPC.
type GRPCResponder struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// NewGRPCResponder creates a client for the responder at addr.
// Each Generate call is bounded by timeout (0 means no extra bound).
func NewGRPCResponder(addr string, timeout time.Duration) (*GRPCResponder, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to responder at %s: %w", addr, err)
	}
	return NewGRPCResponderFromConn(conn, timeout), nil
}

// NewGRPCResponderFromConn wraps an existing connection. Close closes it.
func NewGRPCResponderFromConn(conn *grpc.ClientConn, timeout time.Duration) *GRPCResponder {
	return &GRPCResponder{conn: conn, timeout: timeout}
}

// Generate sends req and waits for the reply.
func (c *GRPCResponder) Generate(ctx context.Context, req Request) (*Reply, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, generateMethod, in, out); err != nil {
		return nil, fmt.Errorf("responder Generate call failed: %w", err)
	}

	reply := fromStruct(out)
	if reply.Text == "" && !reply.Failed {
		return nil, ErrEmptyReply
	}
	return reply, nil
}

// Close releases the gRPC connection.
func (c *GRPCResponder) Close() error {
	return c.conn.Close()
}

// ────────────────────────────────────────────────────────────
// Struct conversion helpers
// ────────────────────────────────────────────────────────────

func toStruct(req Request) (*structpb.Struct, error) {
	history := make([]any, len(req.History))
	for i, t := range req.History {
		history[i] = map[string]any{"role": t.Role, "content": t.Content}
	}
	s, err := structpb.NewStruct(map[string]any{
		"organization_id": req.OrganizationID,
		"session_id":      req.SessionID,
		"customer_id":     req.CustomerID,
		"bot_id":          req.BotID,
		"message":         req.Message,
		"intent":          req.Intent,
		"sentiment":       req.Sentiment,
		"history":         history,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode responder request: %w", err)
	}
	return s, nil
}

func requestFromStruct(s *structpb.Struct) Request {
	f := s.GetFields()
	req := Request{
		OrganizationID: f["organization_id"].GetStringValue(),
		SessionID:      f["session_id"].GetStringValue(),
		CustomerID:     f["customer_id"].GetStringValue(),
		BotID:          f["bot_id"].GetStringValue(),
		Message:        f["message"].GetStringValue(),
		Intent:         f["intent"].GetStringValue(),
		Sentiment:      f["sentiment"].GetStringValue(),
	}
	for _, v := range f["history"].GetListValue().GetValues() {
		tf := v.GetStructValue().GetFields()
		req.History = append(req.History, Turn{
			Role:    tf["role"].GetStringValue(),
			Content: tf["content"].GetStringValue(),
		})
	}
	return req
}

func toReplyStruct(r *Reply) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"text":       r.Text,
		"confidence": r.Confidence,
		"failed":     r.Failed,
	})
}

func fromStruct(s *structpb.Struct) *Reply {
	f := s.GetFields()
	return &Reply{
		Text:       f["text"].GetStringValue(),
		Confidence: f["confidence"].GetNumberValue(),
		Failed:     f["failed"].GetBoolValue(),
	}
}
