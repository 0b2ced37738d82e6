package core

import (
	"sync"

	"github.com/samber/lo"
)

// group is the live member set of one channel.
type group struct {
	mu      sync.Mutex
	members map[string]*Session
	// dead is set once the group was emptied and is being dropped from the
	// registry; joiners must fetch a fresh group.
	dead bool

	// pubMu serializes publishes so every member sees the same order.
	pubMu sync.Mutex
}

func newGroup() *group {
	return &group{members: make(map[string]*Session)}
}

func (g *group) snapshot() []*Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return lo.Values(g.members)
}

// Registry tracks which sessions are subscribed to which channel.
// Lock order: Session.regMu, then Registry.mu, then group.mu.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]*group)}
}

// Join adds s to the channel's group, creating it if needed. A session
// belongs to at most one group: joining another channel leaves the previous
// one first. Joining the current group again is a no-op.
func (r *Registry) Join(channelID string, s *Session) {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	if s.joined == channelID {
		return
	}
	if s.joined != "" {
		r.leave(s.joined, s)
		s.joined = ""
	}

	for {
		g := r.groupFor(channelID)
		g.mu.Lock()
		if g.dead {
			g.mu.Unlock()
			continue
		}
		g.members[s.ID] = s
		g.mu.Unlock()
		break
	}
	s.joined = channelID
}

// Leave removes s from the channel's group. Leaving a group the session is
// not in does nothing.
func (r *Registry) Leave(channelID string, s *Session) {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	if s.joined != channelID {
		return
	}
	r.leave(channelID, s)
	s.joined = ""
}

// MembersOf returns a snapshot of the channel's members.
func (r *Registry) MembersOf(channelID string) []*Session {
	g := r.lookup(channelID)
	if g == nil {
		return nil
	}
	return g.snapshot()
}

// Count returns the number of sessions in the channel's group.
func (r *Registry) Count(channelID string) int {
	g := r.lookup(channelID)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Channels lists the channels that currently have at least one member.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.groups)
}

func (r *Registry) lookup(channelID string) *group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups[channelID]
}

// groupFor returns the live group for channelID, replacing a dead one.
func (r *Registry) groupFor(channelID string) *group {
	if g := r.lookup(channelID); g != nil && !g.isDead() {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[channelID]
	if !ok || g.isDead() {
		g = newGroup()
		r.groups[channelID] = g
	}
	return g
}

func (g *group) isDead() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dead
}

func (r *Registry) leave(channelID string, s *Session) {
	g := r.lookup(channelID)
	if g == nil {
		return
	}

	g.mu.Lock()
	delete(g.members, s.ID)
	empty := len(g.members) == 0
	if empty {
		g.dead = true
	}
	g.mu.Unlock()

	if !empty {
		return
	}
	r.mu.Lock()
	if r.groups[channelID] == g {
		delete(r.groups, channelID)
	}
	r.mu.Unlock()
}
