package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tg11/boundless/internal/access"
	"github.com/tg11/boundless/internal/store"
	"github.com/tg11/boundless/internal/store/sqlite"
)

type testEnv struct {
	store   *sqlite.SQLiteStore
	hub     *Hub
	alice   Identity
	bob     Identity
	carol   Identity // not a member
	route   ChannelRef
	private ChannelRef
	general *store.Channel
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	alice, err := st.CreateUser(ctx, "alice", "Alice", "x")
	require.NoError(t, err)
	bob, err := st.CreateUser(ctx, "bob", "Bob", "x")
	require.NoError(t, err)
	carol, err := st.CreateUser(ctx, "carol", "Carol", "x")
	require.NoError(t, err)

	srv, err := st.CreateServer(ctx, alice.ID, "boundless")
	require.NoError(t, err)
	require.NoError(t, st.AddMember(ctx, srv.ID, bob.ID))

	categoryID, err := st.CreateCategory(ctx, srv.ID, "text")
	require.NoError(t, err)
	modsID, err := st.CreateRole(ctx, srv.ID, "mods")
	require.NoError(t, err)
	require.NoError(t, st.AssignRole(ctx, modsID, alice.ID))

	general := &store.Channel{ServerID: srv.ID, CategoryID: categoryID, Name: "general"}
	require.NoError(t, st.CreateChannel(ctx, general))
	staff := &store.Channel{ServerID: srv.ID, CategoryID: categoryID, Name: "staff", Private: true, AllowedRoles: []string{modsID}}
	require.NoError(t, st.CreateChannel(ctx, staff))

	policy := access.NewPolicy(st, nil)
	hub := NewHub(st, st, policy, opts)

	return &testEnv{
		store:   st,
		hub:     hub,
		alice:   Identity{ID: alice.ID, Name: "Alice"},
		bob:     Identity{ID: bob.ID, Name: "Bob"},
		carol:   Identity{ID: carol.ID, Name: "Carol"},
		route:   ChannelRef{ServerID: srv.ID, CategoryID: categoryID, ChannelID: general.ID},
		private: ChannelRef{ServerID: srv.ID, CategoryID: categoryID, ChannelID: staff.ID},
		general: general,
	}
}

func (e *testEnv) connect(t *testing.T, user Identity, ref ChannelRef) *Session {
	t.Helper()
	s, err := e.hub.Connect(context.Background(), user, ref)
	require.NoError(t, err)
	t.Cleanup(func() { e.hub.Disconnect(s, CloseReasonClient) })
	return s
}

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func assertNoEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
