// Package e2e boots complete omnidesk instances against PostgreSQL for
// end-to-end tests: HTTP API, gRPC bot responder, WAHA gateway and
// pg_notify events are all real; only the remote peers are scripted.
package e2e

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/omnidesk/omnidesk/pkg/api"
	"github.com/omnidesk/omnidesk/pkg/classifier"
	"github.com/omnidesk/omnidesk/pkg/clock"
	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/database"
	"github.com/omnidesk/omnidesk/pkg/delivery"
	"github.com/omnidesk/omnidesk/pkg/escalation"
	"github.com/omnidesk/omnidesk/pkg/events"
	"github.com/omnidesk/omnidesk/pkg/inbound"
	"github.com/omnidesk/omnidesk/pkg/metrics"
	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/queue"
	"github.com/omnidesk/omnidesk/pkg/responder"
	"github.com/omnidesk/omnidesk/pkg/services"
	"github.com/omnidesk/omnidesk/pkg/store"
	"github.com/omnidesk/omnidesk/pkg/store/postgres"
	"github.com/omnidesk/omnidesk/pkg/store/storetest"
	testdb "github.com/omnidesk/omnidesk/test/database"
)

// TestApp is one omnidesk replica wired like `omnidesk serve`.
type TestApp struct {
	OrgID  string
	Config *config.Config

	DB       *database.Client
	Store    *postgres.Store
	Sessions *services.SessionService
	Pipeline *inbound.Pipeline
	Sweeper  *queue.Sweeper

	Responder *ScriptedResponder
	WAHA      *FakeWAHA
	Events    *EventRecorder

	BaseURL string

	t *testing.T
}

type testAppConfig struct {
	cfg      *config.Config
	shared   *testdb.SharedTestDB
	orgID    string
	noEvents bool
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithSharedDB attaches the app to an existing schema, so several apps act
// as replicas of one deployment.
func WithSharedDB(db *testdb.SharedTestDB) TestAppOption {
	return func(c *testAppConfig) { c.shared = db }
}

// WithOrg fixes the organization the app serves. Replicas must share it.
func WithOrg(orgID string) TestAppOption {
	return func(c *testAppConfig) { c.orgID = orgID }
}

// WithoutEventListener skips the LISTEN connection.
func WithoutEventListener() TestAppOption {
	return func(c *testAppConfig) { c.noEvents = true }
}

// NewTestApp boots a replica and registers its shutdown with t.Cleanup.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()
	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = config.Default()
	}
	if tc.shared == nil {
		tc.shared = testdb.NewSharedTestDB(t)
	}
	if tc.orgID == "" {
		// pg_notify channels are database-wide; a unique org keeps parallel
		// tests from seeing each other's events.
		tc.orgID = "org-" + uuid.NewString()[:8]
	}
	ctx := context.Background()

	app := &TestApp{
		OrgID:     tc.orgID,
		Config:    tc.cfg,
		DB:        tc.shared.NewClient(t),
		Responder: NewScriptedResponder(),
		WAHA:      NewFakeWAHA(t),
		t:         t,
	}
	app.Store = postgres.New(app.DB.DB())

	var publisher events.Publisher = events.NopPublisher{}
	if !tc.noEvents {
		publisher = events.NewNotifyPublisher(app.DB.DB())
		app.Events = NewEventRecorder(t, tc.shared.ConnString(), app.OrgID)
	}

	m := metrics.NewRegistry()
	clk := clock.NewMonotonic(nil)
	deps := services.Deps{Store: app.Store, Events: publisher, Metrics: m, Clock: clk}
	app.Sessions = services.NewSessionService(deps, nil, tc.cfg.Escalation)
	messages := services.NewMessageService(deps)
	cls := classifier.FromConfig(tc.cfg)
	warnings := services.NewSystemWarningsService()

	t.Setenv("E2E_WAHA_KEY", "e2e-key")
	app.Pipeline = inbound.NewPipeline(inbound.Dependencies{
		Customers:  services.NewCustomerService(deps),
		Sessions:   app.Sessions,
		Messages:   messages,
		Classifier: cls,
		Engine:     escalation.NewEngine(cls, tc.cfg.Escalation),
		Responder:  startResponder(t, app.Responder, tc.cfg.Responder.Timeout),
		Sender: delivery.NewWAHAClient(&config.WAHAConfig{
			BaseURL:   app.WAHA.URL(),
			APIKeyEnv: "E2E_WAHA_KEY",
			Session:   "default",
			Timeout:   5 * time.Second,
		}),
		Warnings: warnings,
		Events:   publisher,
		Metrics:  m,
		Clock:    clk,
	}, tc.cfg.Responder)

	// Tests drive sweeps explicitly through Sweep.
	app.Sweeper = queue.NewSweeper(app.Store, app.Pipeline, 0, tc.cfg.Escalation.QueueSweepBatch)

	server := api.NewServer(api.Dependencies{
		Pipeline: app.Pipeline,
		Warnings: warnings,
		Sessions: app.Sessions,
		Messages: messages,
		Metrics:  m,
		DB:       app.DB.DB(),
		Config:   tc.cfg,
	})
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)
	app.BaseURL = httpServer.URL

	app.seedBot(ctx)
	return app
}

// seedBot gives the organization a default bot unless a replica already did.
func (a *TestApp) seedBot(ctx context.Context) {
	a.t.Helper()
	_, err := a.Store.DefaultBotPersonality(ctx, a.OrgID)
	if err == nil {
		return
	}
	require.ErrorIs(a.t, err, store.ErrNotFound)
	require.NoError(a.t, a.Store.CreateBotPersonality(ctx, &models.BotPersonality{
		ID:             "bot-" + a.OrgID,
		OrganizationID: a.OrgID,
		Name:           "Helper",
		IsActive:       true,
		IsDefault:      true,
		CreatedAt:      time.Now().UTC(),
	}))
}

// AddAgent creates an online agent of the app's organization.
func (a *TestApp) AddAgent(id string, maxChats int) {
	a.t.Helper()
	agent := storetest.NewAgent(a.OrgID, id, 0, maxChats)
	require.NoError(a.t, a.Store.CreateAgent(context.Background(), agent))
}

// Agent reloads an agent.
func (a *TestApp) Agent(id string) *models.Agent {
	a.t.Helper()
	agent, err := a.Store.GetAgent(context.Background(), id)
	require.NoError(a.t, err)
	return agent
}

// startResponder serves impl over an in-memory gRPC connection and returns
// the production client bound to it.
func startResponder(t *testing.T, impl responder.Responder, timeout time.Duration) responder.Responder {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	responder.RegisterServer(srv, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	client := responder.NewGRPCResponderFromConn(conn, timeout)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
