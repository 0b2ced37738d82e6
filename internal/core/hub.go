package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/tg11/boundless/internal/access"
	"github.com/tg11/boundless/internal/store"
)

// Close reasons reported by the hub.
const (
	CloseReasonDenied       = "access denied"
	CloseReasonSlowConsumer = "slow consumer"
	CloseReasonShutdown     = "server shutdown"
	CloseReasonClient       = "client closed"
)

const (
	defaultQueueSize    = 64
	defaultMaxBodyChars = 4000
	defaultHistoryLimit = 50
)

// Authorizer loads channels and decides channel access.
type Authorizer interface {
	Channel(ctx context.Context, channelID string) (*store.Channel, error)
	AuthorizeChannel(ctx context.Context, userID int64, ch store.Channel) (access.Decision, error)
}

// Options tunes a Hub. Zero values fall back to defaults.
type Options struct {
	QueueSize    int
	MaxBodyChars int
	HistoryLimit int
	Metrics      Metrics
	Logger       *zerolog.Logger
}

// Hub coordinates sessions, the group registry and the message store.
type Hub struct {
	messages store.MessageStore
	users    store.UserStore
	policy   Authorizer

	registry *Registry
	bus      *Bus
	metrics  Metrics
	log      *zerolog.Logger

	queueSize    int
	maxBodyChars int
	historyLimit int

	sessions sync.Map // session id -> *Session

	mu     sync.Mutex // guards closed and session registration
	closed bool
}

// NewHub creates a hub. users may be nil, in which case senders are shown by id.
func NewHub(messages store.MessageStore, users store.UserStore, policy Authorizer, opts Options) *Hub {
	h := &Hub{
		messages:     messages,
		users:        users,
		policy:       policy,
		registry:     NewRegistry(),
		metrics:      opts.Metrics,
		log:          opts.Logger,
		queueSize:    opts.QueueSize,
		maxBodyChars: opts.MaxBodyChars,
		historyLimit: opts.HistoryLimit,
	}
	if h.metrics == nil {
		h.metrics = NopMetrics{}
	}
	if h.log == nil {
		nop := zerolog.Nop()
		h.log = &nop
	}
	if h.queueSize <= 0 {
		h.queueSize = defaultQueueSize
	}
	if h.maxBodyChars <= 0 {
		h.maxBodyChars = defaultMaxBodyChars
	}
	if h.historyLimit <= 0 {
		h.historyLimit = defaultHistoryLimit
	}
	h.bus = NewBus(h.registry, h.metrics, func(s *Session) {
		h.Disconnect(s, CloseReasonSlowConsumer)
	})
	return h
}

// Registry exposes the hub's group registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Bus exposes the hub's broadcast bus.
func (h *Hub) Bus() *Bus {
	return h.bus
}

// Run blocks until ctx is done, then disconnects every session. Connect
// fails with ErrShuttingDown from then on.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.sessions.Range(func(_, v any) bool {
		h.Disconnect(v.(*Session), CloseReasonShutdown)
		return true
	})
}

// Connect authorizes user for the channel named by ref and subscribes a new
// session to it. A deny returns a *DeniedError and leaves the registry as it was.
func (h *Hub) Connect(ctx context.Context, user Identity, ref ChannelRef) (*Session, error) {
	s := NewSession(user, ref.ChannelID, h.queueSize)

	ch, err := h.policy.Channel(ctx, ref.ChannelID)
	if err != nil {
		s.close("connect failed", nil)
		return nil, fmt.Errorf("load channel: %w", err)
	}
	if ch.ServerID != ref.ServerID || ch.CategoryID != ref.CategoryID {
		s.close("connect failed", nil)
		return nil, fmt.Errorf("load channel: %w", store.ErrChannelNotFound)
	}

	if err := h.checkAccess(ctx, user.ID, *ch); err != nil {
		s.close(CloseReasonDenied, nil)
		h.log.Info().Int64("user_id", user.ID).Str("channel", ch.ID).Err(err).Msg("connect rejected")
		return nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.close(CloseReasonShutdown, nil)
		return nil, ErrShuttingDown
	}
	h.registry.Join(ch.ID, s)
	s.setState(StateJoined)
	h.sessions.Store(s.ID, s)
	h.mu.Unlock()
	h.metrics.SessionOpened()

	h.log.Debug().
		Str("session", s.ID).
		Int64("user_id", user.ID).
		Str("channel", ch.ID).
		Msg("session joined")
	return s, nil
}

// Backfill lists the channel's history for s, oldest first, and marks it as
// delivered so the same messages are not written again from the live queue.
func (h *Hub) Backfill(ctx context.Context, s *Session, after *store.Cursor, limit int) ([]Message, error) {
	if s.State() != StateJoined {
		return nil, ErrNotJoined
	}
	out, err := h.list(ctx, s.ChannelID, after, limit)
	if err != nil {
		return nil, err
	}
	for _, m := range out {
		s.markBackfilled(m.ID)
	}
	return out, nil
}

// ListChannel returns a page of channel history, oldest first, if actor may
// read the channel.
func (h *Hub) ListChannel(ctx context.Context, actor Identity, channelID string, after *store.Cursor, limit int) ([]Message, error) {
	if err := h.authorize(ctx, actor.ID, channelID); err != nil {
		return nil, err
	}
	return h.list(ctx, channelID, after, limit)
}

// GetMessage looks up one message, deleted ones included. A deleted
// message comes back with Deleted set and an empty Text; the body itself
// stays in the store for audit.
func (h *Hub) GetMessage(ctx context.Context, actor Identity, messageID int64) (*Message, error) {
	m, err := h.lookup(ctx, "", messageID)
	if err != nil {
		return nil, err
	}
	if err := h.authorize(ctx, actor.ID, m.ChannelID); err != nil {
		return nil, err
	}
	msg := messageFromStore(m, h.displayName(ctx, m.SenderID))
	return &msg, nil
}

// MessageHistory returns the edit history of a message, most recent first.
func (h *Hub) MessageHistory(ctx context.Context, actor Identity, messageID int64) ([]store.MessageEdit, error) {
	m, err := h.lookup(ctx, "", messageID)
	if err != nil {
		return nil, err
	}
	if err := h.authorize(ctx, actor.ID, m.ChannelID); err != nil {
		return nil, err
	}
	edits, err := h.messages.History(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("message history: %w", err)
	}
	return edits, nil
}

// CursorAt returns the exact history position of messageID in channelID,
// for resuming a listing after that message.
func (h *Hub) CursorAt(ctx context.Context, actor Identity, channelID string, messageID int64) (*store.Cursor, error) {
	if err := h.authorize(ctx, actor.ID, channelID); err != nil {
		return nil, err
	}
	m, err := h.lookup(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	return &store.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}, nil
}

func (h *Hub) list(ctx context.Context, channelID string, after *store.Cursor, limit int) ([]Message, error) {
	if limit <= 0 || limit > h.historyLimit {
		limit = h.historyLimit
	}

	list, err := h.messages.ListChannel(ctx, channelID, store.ListOptions{After: after, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list channel: %w", err)
	}

	names := make(map[int64]string)
	out := make([]Message, 0, len(list))
	for i := range list {
		m := &list[i]
		name, ok := names[m.SenderID]
		if !ok {
			name = h.displayName(ctx, m.SenderID)
			names[m.SenderID] = name
		}
		out = append(out, messageFromStore(m, name))
	}
	return out, nil
}

// Send persists body as a new message from s and broadcasts it to the
// channel. Nothing is broadcast if the message could not be stored.
func (h *Hub) Send(ctx context.Context, s *Session, body string) (*Message, error) {
	if s.State() != StateJoined {
		return nil, ErrNotJoined
	}
	if err := h.validateBody(body); err != nil {
		return nil, err
	}
	if err := h.authorize(ctx, s.User.ID, s.ChannelID); err != nil {
		return nil, err
	}

	stored, err := h.messages.Append(ctx, s.ChannelID, s.User.ID, body)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	msg := messageFromStore(stored, s.User.Name)
	n := h.bus.Publish(s.ChannelID, &Event{Kind: EventMessage, Channel: s.ChannelID, Message: msg})
	h.log.Debug().Int64("id", msg.ID).Str("channel", s.ChannelID).Int("delivered", n).Msg("message published")
	return &msg, nil
}

// Edit replaces the body of messageID on behalf of actor. When channelID is
// set the message must belong to it.
func (h *Hub) Edit(ctx context.Context, actor Identity, channelID string, messageID int64, body string) (*Message, error) {
	if err := h.validateBody(body); err != nil {
		return nil, err
	}
	current, err := h.lookup(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if err := h.authorize(ctx, actor.ID, current.ChannelID); err != nil {
		return nil, err
	}

	stored, err := h.messages.Edit(ctx, messageID, actor.ID, body)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}

	msg := messageFromStore(stored, h.displayName(ctx, stored.SenderID))
	h.bus.Publish(stored.ChannelID, &Event{Kind: EventMessageEdited, Channel: stored.ChannelID, Message: msg})
	return &msg, nil
}

// Delete soft-deletes messageID on behalf of actor.
func (h *Hub) Delete(ctx context.Context, actor Identity, channelID string, messageID int64) (*Message, error) {
	current, err := h.lookup(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if err := h.authorize(ctx, actor.ID, current.ChannelID); err != nil {
		return nil, err
	}

	stored, err := h.messages.SoftDelete(ctx, messageID, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}

	msg := messageFromStore(stored, h.displayName(ctx, stored.SenderID))
	h.bus.Publish(stored.ChannelID, &Event{Kind: EventMessageDeleted, Channel: stored.ChannelID, Message: msg})
	return &msg, nil
}

// Handle executes a client command for s. Failures are queued to s as an
// error event and also returned.
func (h *Hub) Handle(ctx context.Context, s *Session, cmd *Command) error {
	var err error
	switch cmd.Kind {
	case CommandSendMessage:
		_, err = h.Send(ctx, s, cmd.Text)
	case CommandEditMessage:
		_, err = h.Edit(ctx, s.User, s.ChannelID, cmd.MessageID, cmd.Text)
	case CommandDeleteMessage:
		_, err = h.Delete(ctx, s.User, s.ChannelID, cmd.MessageID)
	default:
		err = coreError(ErrCodeBadRequest, "unknown command")
	}
	if err != nil {
		h.Notify(s, err)
	}
	return err
}

// Notify queues an error event for s.
func (h *Hub) Notify(s *Session, err error) {
	ce := ToCoreError(err)
	if ce == nil {
		return
	}
	if !s.enqueue(&Event{Kind: EventError, Channel: s.ChannelID, Error: ce}) {
		h.log.Debug().Str("session", s.ID).Str("code", ce.Code).Msg("error event dropped")
	}
}

// Disconnect closes s and removes it from its group. It is idempotent and
// safe to call while a send for s is in flight.
func (h *Hub) Disconnect(s *Session, reason string) {
	s.close(reason, func() {
		h.registry.Leave(s.ChannelID, s)
		h.sessions.Delete(s.ID)
		h.metrics.SessionClosed(reason)
		h.log.Debug().Str("session", s.ID).Str("reason", reason).Msg("session closed")
	})
}

// Sessions returns the number of live sessions.
func (h *Hub) Sessions() int {
	n := 0
	h.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (h *Hub) validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > h.maxBodyChars {
		return ErrMessageTooLong
	}
	return nil
}

func (h *Hub) lookup(ctx context.Context, channelID string, messageID int64) (*store.Message, error) {
	m, err := h.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if channelID != "" && m.ChannelID != channelID {
		return nil, fmt.Errorf("get message: %w", store.ErrMessageNotFound)
	}
	return m, nil
}

func (h *Hub) authorize(ctx context.Context, userID int64, channelID string) error {
	ch, err := h.policy.Channel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}
	return h.checkAccess(ctx, userID, *ch)
}

func (h *Hub) checkAccess(ctx context.Context, userID int64, ch store.Channel) error {
	d, err := h.policy.AuthorizeChannel(ctx, userID, ch)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &DeniedError{Reason: d.Reason}
	}
	return nil
}

func (h *Hub) displayName(ctx context.Context, userID int64) string {
	if h.users != nil {
		u, err := h.users.GetUserByID(ctx, userID)
		if err == nil {
			return u.Name()
		}
		if !errors.Is(err, store.ErrUserNotFound) {
			h.log.Warn().Err(err).Int64("user_id", userID).Msg("display name lookup failed")
		}
	}
	return fmt.Sprintf("user-%d", userID)
}
