package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/pkg/events"
	"github.com/omnidesk/omnidesk/pkg/responder"
)

// ScriptedResponder plays queued replies in order and falls back to a
// fixed confident answer once the script runs out.
type ScriptedResponder struct {
	mu       sync.Mutex
	script   []scriptedReply
	requests []responder.Request
}

type scriptedReply struct {
	reply *responder.Reply
	err   error
}

// NewScriptedResponder creates a responder with an empty script.
func NewScriptedResponder() *ScriptedResponder {
	return &ScriptedResponder{}
}

// Reply queues a successful reply.
func (r *ScriptedResponder) Reply(text string, confidence float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script = append(r.script, scriptedReply{reply: &responder.Reply{Text: text, Confidence: confidence}})
}

// Fail queues a responder error.
func (r *ScriptedResponder) Fail(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script = append(r.script, scriptedReply{err: errors.New(msg)})
}

// Generate implements responder.Responder.
func (r *ScriptedResponder) Generate(_ context.Context, req responder.Request) (*responder.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if len(r.script) == 0 {
		return &responder.Reply{Text: "How can I help?", Confidence: 0.9}, nil
	}
	next := r.script[0]
	r.script = r.script[1:]
	return next.reply, next.err
}

// Requests returns the requests received so far.
func (r *ScriptedResponder) Requests() []responder.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]responder.Request(nil), r.requests...)
}

// SentText is one message accepted by FakeWAHA.
type SentText struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
	APIKey  string `json:"-"`
}

// FakeWAHA is an in-process WhatsApp gateway that records sendText calls.
type FakeWAHA struct {
	server *httptest.Server

	mu     sync.Mutex
	sent   []SentText
	status int
}

// NewFakeWAHA starts the gateway and registers its shutdown with t.Cleanup.
func NewFakeWAHA(t *testing.T) *FakeWAHA {
	t.Helper()
	w := &FakeWAHA{status: http.StatusCreated}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sendText", w.sendText)
	w.server = httptest.NewServer(mux)
	t.Cleanup(w.server.Close)
	return w
}

func (w *FakeWAHA) sendText(rw http.ResponseWriter, r *http.Request) {
	var msg SentText
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	msg.APIKey = r.Header.Get("X-Api-Key")

	w.mu.Lock()
	status := w.status
	if status < 300 {
		w.sent = append(w.sent, msg)
	}
	w.mu.Unlock()

	if status >= 300 {
		http.Error(rw, "gateway unavailable", status)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]any{
		"id": map[string]any{"_serialized": "true_" + msg.ChatID + "_" + time.Now().Format("150405.000000")},
	})
}

// URL is the gateway base URL.
func (w *FakeWAHA) URL() string {
	return w.server.URL
}

// FailWith makes subsequent sends answer with status.
func (w *FakeWAHA) FailWith(status int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
}

// Sent returns the accepted messages.
func (w *FakeWAHA) Sent() []SentText {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]SentText(nil), w.sent...)
}

// EventRecorder LISTENs on an organization channel and keeps every event.
type EventRecorder struct {
	t        *testing.T
	listener *events.NotifyListener

	mu     sync.Mutex
	events []events.Event
}

// NewEventRecorder subscribes to the organization channel before returning,
// so no event published afterwards is missed.
func NewEventRecorder(t *testing.T, connString, organizationID string) *EventRecorder {
	t.Helper()
	r := &EventRecorder{t: t}
	r.listener = events.NewNotifyListener(connString, func(_ string, evt events.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, evt)
	})

	// The receive loop lives as long as the Start context.
	require.NoError(t, r.listener.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		r.listener.Stop(stopCtx)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.listener.Subscribe(ctx, events.OrganizationChannel(organizationID)))
	return r
}

// Types returns the event types received for a session, in arrival order.
func (r *EventRecorder) Types(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, evt := range r.events {
		if evt.SessionID == sessionID {
			out = append(out, evt.Type)
		}
	}
	return out
}

// WaitFor blocks until an event of eventType arrived for the session and
// returns it.
func (r *EventRecorder) WaitFor(sessionID, eventType string) events.Event {
	r.t.Helper()
	var found events.Event
	require.Eventually(r.t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, evt := range r.events {
			if evt.SessionID == sessionID && evt.Type == eventType {
				found = evt
				return true
			}
		}
		return false
	}, 10*time.Second, 50*time.Millisecond, "no %s event for session %s", eventType, sessionID)
	return found
}
