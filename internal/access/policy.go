// Package access decides whether a user may read or write a channel.
package access

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/tg11/boundless/internal/store"
)

// Reason explains a deny decision.
type Reason string

const (
	// ReasonNone accompanies allow decisions.
	ReasonNone Reason = ""
	// ReasonNotMember: the user is not a member of the channel's server.
	ReasonNotMember Reason = "not-a-member"
	// ReasonRoleRestricted: the user holds none of the channel's allowed roles.
	ReasonRoleRestricted Reason = "role-restricted"
)

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool
	Reason  Reason
	Private bool
}

// Allow is the allow decision for ch.
func Allow(ch store.Channel) Decision {
	return Decision{Allowed: true, Private: ch.Private}
}

// Deny is a deny decision for ch with the given reason.
func Deny(ch store.Channel, reason Reason) Decision {
	return Decision{Reason: reason, Private: ch.Private}
}

// Decide applies the channel access rule to an already resolved membership.
func Decide(m store.Membership, ch store.Channel) Decision {
	if !m.Member || m.ServerID != ch.ServerID {
		return Deny(ch, ReasonNotMember)
	}
	if len(ch.AllowedRoles) == 0 {
		return Allow(ch)
	}
	if lo.Some(ch.AllowedRoles, m.Roles) {
		return Allow(ch)
	}
	return Deny(ch, ReasonRoleRestricted)
}

// Observer is notified about every deny decision.
type Observer interface {
	AccessDenied(reason string)
}

// Policy resolves access data and applies Decide.
type Policy struct {
	store    store.AccessStore
	observer Observer
}

// NewPolicy creates a policy backed by the given access data. observer may be nil.
func NewPolicy(st store.AccessStore, observer Observer) *Policy {
	return &Policy{store: st, observer: observer}
}

// Channel loads a channel without deciding anything.
func (p *Policy) Channel(ctx context.Context, channelID string) (*store.Channel, error) {
	return p.store.GetChannel(ctx, channelID)
}

// Authorize decides whether userID may use channelID. A deny is reported in
// the decision, never as an error; errors mean the channel is unknown or the
// access data could not be read.
func (p *Policy) Authorize(ctx context.Context, userID int64, channelID string) (Decision, *store.Channel, error) {
	ch, err := p.store.GetChannel(ctx, channelID)
	if err != nil {
		return Decision{}, nil, err
	}
	d, err := p.AuthorizeChannel(ctx, userID, *ch)
	return d, ch, err
}

// AuthorizeChannel is Authorize for an already loaded channel.
func (p *Policy) AuthorizeChannel(ctx context.Context, userID int64, ch store.Channel) (Decision, error) {
	m, err := p.store.GetMembership(ctx, userID, ch.ServerID)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve membership: %w", err)
	}

	d := Decide(*m, ch)
	if !d.Allowed && p.observer != nil {
		p.observer.AccessDenied(string(d.Reason))
	}
	return d, nil
}
