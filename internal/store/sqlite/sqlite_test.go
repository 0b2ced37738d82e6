package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tg11/boundless/internal/store"
)

type fixture struct {
	store   *SQLiteStore
	alice   *store.User
	bob     *store.User
	server  *store.Server
	general *store.Channel
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewWithSetup(":memory:", Migrate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := newTestStore(t)

	alice, err := s.CreateUser(ctx, "alice", "Alice", "hash")
	require.NoError(t, err)
	bob, err := s.CreateUser(ctx, "bob", "", "hash")
	require.NoError(t, err)

	srv, err := s.CreateServer(ctx, alice.ID, "boundless")
	require.NoError(t, err)
	require.NoError(t, s.AddMember(ctx, srv.ID, bob.ID))

	categoryID, err := s.CreateCategory(ctx, srv.ID, "text")
	require.NoError(t, err)

	general := &store.Channel{ServerID: srv.ID, CategoryID: categoryID, Name: "general"}
	require.NoError(t, s.CreateChannel(ctx, general))

	return &fixture{store: s, alice: alice, bob: bob, server: srv, general: general}
}

func TestAppendAndListPreservesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := range 5 {
		_, err := f.store.Append(ctx, f.general.ID, f.bob.ID, fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
	}

	messages, err := f.store.ListChannel(ctx, f.general.ID, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i, msg := range messages {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), msg.Body)
		assert.Equal(t, f.bob.ID, msg.SenderID)
	}
}

func TestAppendTimestampsNeverGoBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	f.store.SetClock(func() time.Time { return base })
	first, err := f.store.Append(ctx, f.general.ID, f.alice.ID, "first")
	require.NoError(t, err)

	// Clock jumps backwards.
	f.store.SetClock(func() time.Time { return base.Add(-time.Hour) })
	second, err := f.store.Append(ctx, f.general.ID, f.alice.ID, "second")
	require.NoError(t, err)

	assert.False(t, second.CreatedAt.Before(first.CreatedAt))
	assert.Greater(t, second.ID, first.ID)

	messages, err := f.store.ListChannel(ctx, f.general.ID, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Body)
	assert.Equal(t, "second", messages[1].Body)
}

func TestAppendUnknownChannel(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Append(context.Background(), "missing", f.alice.ID, "hi")
	require.ErrorIs(t, err, store.ErrChannelNotFound)
}

func TestEditRecordsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.store.Append(ctx, f.general.ID, f.alice.ID, "hi")
	require.NoError(t, err)

	edited, err := f.store.Edit(ctx, msg.ID, f.alice.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Body)
	require.NotNil(t, edited.EditedAt)
	assert.Equal(t, msg.CreatedAt, edited.CreatedAt)

	history, err := f.store.History(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].OldBody)
	assert.Equal(t, f.alice.ID, history[0].EditorID)

	messages, err := f.store.ListChannel(ctx, f.general.ID, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Body)
	assert.NotNil(t, messages[0].EditedAt)
}

func TestEditErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.store.Append(ctx, f.general.ID, f.alice.ID, "hi")
	require.NoError(t, err)

	_, err = f.store.Edit(ctx, 9999, f.alice.ID, "x")
	require.ErrorIs(t, err, store.ErrMessageNotFound)

	_, err = f.store.Edit(ctx, msg.ID, f.bob.ID, "x")
	require.ErrorIs(t, err, store.ErrNotOwner)

	_, err = f.store.SoftDelete(ctx, msg.ID, f.alice.ID)
	require.NoError(t, err)

	_, err = f.store.Edit(ctx, msg.ID, f.alice.ID, "x")
	require.ErrorIs(t, err, store.ErrAlreadyDeleted)

	history, err := f.store.History(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "failed edits must not leave history rows")

	got, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Body)
}

func TestHistoryIsMostRecentFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.store.Append(ctx, f.general.ID, f.bob.ID, "v0")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		_, err := f.store.Edit(ctx, msg.ID, f.bob.ID, fmt.Sprintf("v%d", i))
		require.NoError(t, err)
	}

	history, err := f.store.History(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "v2", history[0].OldBody)
	assert.Equal(t, "v1", history[1].OldBody)
	assert.Equal(t, "v0", history[2].OldBody)

	_, err = f.store.History(ctx, 4242)
	require.ErrorIs(t, err, store.ErrMessageNotFound)
}

func TestConcurrentEditsAreLinearized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.store.Append(ctx, f.general.ID, f.bob.ID, "start")
	require.NoError(t, err)

	const editors = 10
	var wg sync.WaitGroup
	for i := range editors {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.store.Edit(ctx, msg.ID, f.bob.ID, fmt.Sprintf("edit-%d", n))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := f.store.History(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, history, editors)

	current, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)

	// Walking history oldest-first, each prior body is the body the next
	// edit replaced, ending at the current body.
	assert.Equal(t, "start", history[len(history)-1].OldBody)
	for i := 0; i < len(history)-1; i++ {
		assert.NotEqual(t, history[i].OldBody, history[i+1].OldBody)
	}
	assert.NotEqual(t, "start", current.Body)
	assert.NotEqual(t, current.Body, history[0].OldBody)
}

func TestSoftDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keep, err := f.store.Append(ctx, f.general.ID, f.bob.ID, "keep")
	require.NoError(t, err)
	gone, err := f.store.Append(ctx, f.general.ID, f.bob.ID, "gone")
	require.NoError(t, err)

	deleted, err := f.store.SoftDelete(ctx, gone.ID, f.bob.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	require.NotNil(t, deleted.DeletedAt)

	messages, err := f.store.ListChannel(ctx, f.general.ID, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, keep.ID, messages[0].ID)

	all, err := f.store.ListChannel(ctx, f.general.ID, store.ListOptions{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := f.store.GetMessage(ctx, gone.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, "gone", got.Body)

	_, err = f.store.SoftDelete(ctx, gone.ID, f.bob.ID)
	require.ErrorIs(t, err, store.ErrAlreadyDeleted)

	again, err := f.store.GetMessage(ctx, gone.ID)
	require.NoError(t, err)
	assert.True(t, again.Deleted)
	assert.Equal(t, got.DeletedAt, again.DeletedAt)
}

func TestSoftDeleteOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mallory, err := f.store.CreateUser(ctx, "mallory", "", "hash")
	require.NoError(t, err)

	msg, err := f.store.Append(ctx, f.general.ID, f.bob.ID, "hello")
	require.NoError(t, err)

	_, err = f.store.SoftDelete(ctx, msg.ID, mallory.ID)
	require.ErrorIs(t, err, store.ErrNotOwner)

	_, err = f.store.SoftDelete(ctx, 31337, f.bob.ID)
	require.ErrorIs(t, err, store.ErrMessageNotFound)

	// alice owns the server and may moderate.
	_, err = f.store.SoftDelete(ctx, msg.ID, f.alice.ID)
	require.NoError(t, err)
}

func TestListChannelCursorAndLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var appended []*store.Message
	for i := range 6 {
		msg, err := f.store.Append(ctx, f.general.ID, f.alice.ID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		appended = append(appended, msg)
	}

	after := &store.Cursor{CreatedAt: appended[2].CreatedAt, ID: appended[2].ID}
	tail, err := f.store.ListChannel(ctx, f.general.ID, store.ListOptions{After: after})
	require.NoError(t, err)
	require.Len(t, tail, 3)
	assert.Equal(t, "m3", tail[0].Body)
	assert.Equal(t, "m5", tail[2].Body)

	newest, err := f.store.ListChannel(ctx, f.general.ID, store.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "m4", newest[0].Body)
	assert.Equal(t, "m5", newest[1].Body)

	empty, err := f.store.ListChannel(ctx, "no-such-channel", store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetChannelAndMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	modsID, err := f.store.CreateRole(ctx, f.server.ID, "mods")
	require.NoError(t, err)
	require.NoError(t, f.store.AssignRole(ctx, modsID, f.bob.ID))

	staff := &store.Channel{
		ServerID:     f.server.ID,
		CategoryID:   f.general.CategoryID,
		Name:         "staff",
		Private:      true,
		AllowedRoles: []string{modsID},
	}
	require.NoError(t, f.store.CreateChannel(ctx, staff))

	got, err := f.store.GetChannel(ctx, staff.ID)
	require.NoError(t, err)
	assert.True(t, got.Private)
	assert.Equal(t, []string{modsID}, got.AllowedRoles)
	assert.Equal(t, f.server.ID, got.ServerID)

	_, err = f.store.GetChannel(ctx, "nope")
	require.ErrorIs(t, err, store.ErrChannelNotFound)

	m, err := f.store.GetMembership(ctx, f.bob.ID, f.server.ID)
	require.NoError(t, err)
	assert.True(t, m.Member)
	assert.False(t, m.Owner)
	assert.Contains(t, m.Roles, modsID)
	assert.Len(t, m.Roles, 2) // @everyone + mods

	owner, err := f.store.GetMembership(ctx, f.alice.ID, f.server.ID)
	require.NoError(t, err)
	assert.True(t, owner.Member)
	assert.True(t, owner.Owner)

	require.NoError(t, f.store.RemoveMember(ctx, f.server.ID, f.bob.ID))
	m, err = f.store.GetMembership(ctx, f.bob.ID, f.server.ID)
	require.NoError(t, err)
	assert.False(t, m.Member)
	assert.Empty(t, m.Roles)

	unknown, err := f.store.GetMembership(ctx, f.bob.ID, "no-server")
	require.NoError(t, err)
	assert.False(t, unknown.Member)
}

func TestUserLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name())

	b, err := f.store.GetUserByID(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", b.Name())

	_, err = f.store.GetUserByID(ctx, 777)
	require.ErrorIs(t, err, store.ErrUserNotFound)
}
