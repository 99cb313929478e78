package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/version"
)

const (
	sendTextPath = "/api/sendText"
	chatIDSuffix = "@c.us"
	// maxErrorBody caps how much of an error response is kept in the error.
	maxErrorBody = 512
)

// WAHAClient delivers text messages through a WAHA (WhatsApp HTTP API) gateway.
type WAHAClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	session    string
	logger     *slog.Logger
}

// NewWAHAClient creates a client from cfg. The API key is read from the
// environment variable named by cfg.APIKeyEnv and may be empty.
func NewWAHAClient(cfg *config.WAHAConfig) *WAHAClient {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &WAHAClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     apiKey,
		session:    cfg.Session,
		logger:     slog.Default(),
	}
}

type sendTextRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}

type sendTextResponse struct {
	ID any `json:"id"`
}

// Send posts msg to the gateway's sendText endpoint.
func (c *WAHAClient) Send(ctx context.Context, msg OutboundMessage) (*Receipt, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	session := c.session
	if msg.Channel != "" {
		session = msg.Channel
	}

	body, err := json.Marshal(sendTextRequest{
		Session: session,
		ChatID:  ChatID(msg.To),
		Text:    msg.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("encode sendText request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendTextPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.Full())
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("WAHA returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out sendTextResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		// The message was accepted; a body we cannot read only loses the id.
		c.logger.Debug("Failed to decode sendText response", "session_id", msg.SessionID, "error", err)
	}
	return &Receipt{ChannelMessageID: messageID(out.ID)}, nil
}

func (c *WAHAClient) setAuthHeader(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}

// ChatID converts a phone number into a WAHA chat id ("15551234567@c.us").
func ChatID(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	return strings.TrimPrefix(phone, "+") + chatIDSuffix
}

// messageID extracts the id from a sendText response. WAHA engines report
// either a plain string or an object with a "_serialized" field.
func messageID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case map[string]any:
		if s, ok := id["_serialized"].(string); ok {
			return s
		}
		if s, ok := id["id"].(string); ok {
			return s
		}
	}
	return ""
}
