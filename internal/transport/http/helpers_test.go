package http

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tg11/boundless/internal/access"
	"github.com/tg11/boundless/internal/auth"
	"github.com/tg11/boundless/internal/config"
	"github.com/tg11/boundless/internal/core"
	"github.com/tg11/boundless/internal/metrics"
	"github.com/tg11/boundless/internal/proto"
	"github.com/tg11/boundless/internal/store"
	"github.com/tg11/boundless/internal/store/sqlite"
)

type testServer struct {
	ts      *httptest.Server
	store   *sqlite.SQLiteStore
	hub     *core.Hub
	metrics *metrics.Metrics

	aliceToken string // server owner
	bobToken   string // member
	carolToken string // not a member

	serverID   string
	categoryID string
	general    *store.Channel
	staff      *store.Channel // restricted to mods
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = "test-secret"
	cfg.JWTIssuer = "test"
	cfg.JWTAudience = "test"
	cfg.IdleTimeout = 0
	cfg.WriteTimeout = time.Second
	return cfg
}

func startTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	})

	env := &testServer{store: st, metrics: metrics.New()}
	env.aliceToken, err = authService.Register(ctx, "alice", "Alice", "password123")
	require.NoError(t, err)
	env.bobToken, err = authService.Register(ctx, "bob", "Bob", "password123")
	require.NoError(t, err)
	env.carolToken, err = authService.Register(ctx, "carol", "", "password123")
	require.NoError(t, err)

	alice, err := st.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	bob, err := st.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)

	srv, err := st.CreateServer(ctx, alice.ID, "boundless")
	require.NoError(t, err)
	require.NoError(t, st.AddMember(ctx, srv.ID, bob.ID))
	env.serverID = srv.ID

	env.categoryID, err = st.CreateCategory(ctx, srv.ID, "text")
	require.NoError(t, err)
	modsID, err := st.CreateRole(ctx, srv.ID, "mods")
	require.NoError(t, err)
	require.NoError(t, st.AssignRole(ctx, modsID, alice.ID))

	env.general = &store.Channel{ServerID: srv.ID, CategoryID: env.categoryID, Name: "general"}
	require.NoError(t, st.CreateChannel(ctx, env.general))
	env.staff = &store.Channel{ServerID: srv.ID, CategoryID: env.categoryID, Name: "staff", Private: true, AllowedRoles: []string{modsID}}
	require.NoError(t, st.CreateChannel(ctx, env.staff))

	logger := zerolog.Nop()
	policy := access.NewPolicy(st, env.metrics)
	env.hub = core.NewHub(st, st, policy, core.Options{
		QueueSize:    cfg.SendQueueSize,
		MaxBodyChars: cfg.MaxBodyChars,
		HistoryLimit: cfg.HistoryLimit,
		Metrics:      env.metrics,
		Logger:       &logger,
	})

	hubCtx, cancel := context.WithCancel(context.Background())
	go env.hub.Run(hubCtx)

	server := NewServer(Deps{Hub: env.hub, Auth: authService, Metrics: env.metrics}, &cfg, &logger)
	env.ts = httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		cancel()
		env.ts.Close()
	})

	return env
}

func (e *testServer) wsURL(ch *store.Channel, token string) string {
	base := strings.Replace(e.ts.URL, "http", "ws", 1)
	u := fmt.Sprintf("%s/ws/servers/%s/%s/%s", base, ch.ServerID, ch.CategoryID, ch.ID)
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// dial connects to ch and consumes the initial history frame.
func (e *testServer) dial(t *testing.T, ctx context.Context, ch *store.Channel, token string) (*websocket.Conn, proto.Outbound) {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, e.wsURL(ch, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	var history proto.Outbound
	require.NoError(t, wsjson.Read(ctx, conn, &history))
	require.Equal(t, proto.EventHistory, history.Event)
	return conn, history
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) proto.Outbound {
	t.Helper()

	for {
		var out proto.Outbound
		require.NoError(t, wsjson.Read(ctx, conn, &out))
		if out.Event == event {
			return out
		}
	}
}
