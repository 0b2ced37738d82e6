package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrChannelNotFound is returned when a channel does not exist.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrMessageNotFound is returned when a message does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotOwner is returned when a non-owner tries to mutate a message.
	ErrNotOwner = errors.New("not the message owner")
	// ErrAlreadyDeleted is returned when mutating a soft-deleted message.
	ErrAlreadyDeleted = errors.New("message already deleted")
	// ErrUnavailable wraps persistence backend failures.
	ErrUnavailable = errors.New("store unavailable")
)

// User represents an account as seen by the realtime layer.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Server is a community container grouping channels, roles and members.
type Server struct {
	ID        string
	OwnerID   int64
	Name      string
	CreatedAt time.Time
}

// Channel is a named sub-space of a server where messages are exchanged.
type Channel struct {
	ID           string
	ServerID     string
	CategoryID   string
	Name         string
	Private      bool
	AllowedRoles []string // role ids; empty means server-wide access
	CreatedAt    time.Time
}

// Membership describes a user's standing in a server.
type Membership struct {
	UserID   int64
	ServerID string
	Member   bool
	Owner    bool
	Roles    []string // role ids held in ServerID
}

// Message represents a persisted chat message.
type Message struct {
	ID        int64
	ChannelID string
	SenderID  int64
	Body      string
	CreatedAt time.Time
	EditedAt  *time.Time
	Deleted   bool
	DeletedAt *time.Time
}

// MessageEdit is one append-only record of a message body before an edit.
type MessageEdit struct {
	ID        int64
	MessageID int64
	EditorID  int64
	OldBody   string
	EditedAt  time.Time
}

// Cursor marks a position in a channel's (created_at, id) ordering.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// ListOptions narrows ListChannel results.
type ListOptions struct {
	// After returns only messages strictly after the cursor.
	After *Cursor
	// Limit keeps the newest Limit messages after the cursor. Zero means no limit.
	Limit int
	// IncludeDeleted also returns soft-deleted messages.
	IncludeDeleted bool
}

// UserStore handles user lookup.
type UserStore interface {
	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// AccessStore exposes the read-only access control data owned by the
// surrounding application.
type AccessStore interface {
	// GetChannel retrieves a channel with its allowed roles.
	GetChannel(ctx context.Context, id string) (*Channel, error)

	// GetMembership resolves a user's membership and roles in a server.
	GetMembership(ctx context.Context, userID int64, serverID string) (*Membership, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// Append persists a new message with a server-assigned id and timestamp.
	Append(ctx context.Context, channelID string, senderID int64, body string) (*Message, error)

	// Edit replaces a message body and records the prior body in its history.
	Edit(ctx context.Context, messageID, editorID int64, body string) (*Message, error)

	// SoftDelete marks a message deleted without removing it.
	SoftDelete(ctx context.Context, messageID, requesterID int64) (*Message, error)

	// GetMessage retrieves a message by ID, deleted or not.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// History lists a message's prior bodies, most recent edit first.
	History(ctx context.Context, messageID int64) ([]MessageEdit, error)

	// ListChannel lists channel messages ordered by (created_at, id).
	ListChannel(ctx context.Context, channelID string, opts ListOptions) ([]Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	AccessStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
