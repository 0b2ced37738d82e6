package core

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is a session's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one client connection subscribed to one channel.
//
// Events are queued by the Bus and drained by the transport's writer, which
// is the only code allowed to touch the underlying connection.
type Session struct {
	ID        string
	User      Identity
	ChannelID string

	state  atomic.Int32
	events chan *Event
	done   chan struct{}

	closeOnce sync.Once
	reason    atomic.Value // string

	// backfillMark is the highest message id already delivered as history.
	backfillMark atomic.Int64

	// regMu serializes registry bookkeeping for this session; joined is the
	// channel whose group currently holds it.
	regMu  sync.Mutex
	joined string
}

// NewSession constructs a session in the Connecting state.
func NewSession(user Identity, channelID string, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Session{
		ID:        uuid.NewString(),
		User:      user,
		ChannelID: channelID,
		events:    make(chan *Event, queueSize),
		done:      make(chan struct{}),
	}
}

// Events returns the outbound queue in delivery order.
func (s *Session) Events() <-chan *Event {
	return s.events
}

// Done is closed once the session reaches the Closed state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// CloseReason returns why the session was closed, if it was.
func (s *Session) CloseReason() string {
	r, _ := s.reason.Load().(string)
	return r
}

// Deliverable reports whether a queued event should still be written.
// Live message events already covered by the join-time backfill are skipped.
func (s *Session) Deliverable(ev *Event) bool {
	if ev == nil {
		return false
	}
	if ev.Kind == EventMessage && ev.Message.ID <= s.backfillMark.Load() {
		return false
	}
	return true
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) markBackfilled(id int64) {
	for {
		cur := s.backfillMark.Load()
		if id <= cur || s.backfillMark.CompareAndSwap(cur, id) {
			return
		}
	}
}

// enqueue never blocks. It returns false if the session is closed or its
// queue is full.
func (s *Session) enqueue(ev *Event) bool {
	if s.State() == StateClosed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// close moves the session to Closed exactly once; fn runs inside the once
// before done is closed.
func (s *Session) close(reason string, fn func()) bool {
	closed := false
	s.closeOnce.Do(func() {
		s.reason.Store(reason)
		s.setState(StateClosed)
		if fn != nil {
			fn()
		}
		close(s.done)
		closed = true
	})
	return closed
}
