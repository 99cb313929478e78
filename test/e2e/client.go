package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/pkg/api"
	"github.com/omnidesk/omnidesk/pkg/inbound"
)

// Do sends a JSON request to the app and returns the status and raw body.
func (a *TestApp) Do(method, path string, body any) (int, []byte) {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(a.t.Context(), method, a.BaseURL+path, reader)
	require.NoError(a.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	return resp.StatusCode, raw
}

// MustDo is Do that requires wantStatus and decodes the body into T.
func MustDo[T any](a *TestApp, method, path string, body any, wantStatus int) T {
	a.t.Helper()
	status, raw := a.Do(method, path, body)
	require.Equal(a.t, wantStatus, status, "%s %s: %s", method, path, raw)
	var out T
	require.NoError(a.t, json.Unmarshal(raw, &out))
	return out
}

// OrgPath prefixes path with the app's organization.
func (a *TestApp) OrgPath(path string) string {
	return "/api/v1/orgs/" + a.OrgID + path
}

// Inbound posts a customer message through the HTTP API.
func (a *TestApp) Inbound(from, text string) *inbound.Result {
	a.t.Helper()
	res := MustDo[inbound.Result](a, http.MethodPost, a.OrgPath("/inbound"),
		api.InboundMessageRequest{From: from, Text: text}, http.StatusOK)
	return &res
}

// Session fetches a session through the HTTP API.
func (a *TestApp) Session(id string) *api.SessionResponse {
	a.t.Helper()
	s := MustDo[api.SessionResponse](a, http.MethodGet, a.OrgPath("/sessions/"+id), nil, http.StatusOK)
	return &s
}

// Messages lists a session's messages through the HTTP API.
func (a *TestApp) Messages(id string) []api.MessageResponse {
	a.t.Helper()
	return MustDo[[]api.MessageResponse](a, http.MethodGet, a.OrgPath("/sessions/"+id+"/messages"), nil, http.StatusOK)
}
