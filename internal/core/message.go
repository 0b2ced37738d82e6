package core

import (
	"time"

	"github.com/tg11/boundless/internal/store"
)

// Message is the domain model for a chat message as delivered to clients.
type Message struct {
	ID        int64
	Channel   string
	SenderID  int64
	From      string
	Text      string
	CreatedAt time.Time
	EditedAt  *time.Time
	Deleted   bool
}

// Identity is an authenticated user as seen by the core layer.
type Identity struct {
	ID   int64
	Name string
}

// ChannelRef is the route a connection asks for.
type ChannelRef struct {
	ServerID   string
	CategoryID string
	ChannelID  string
}

func messageFromStore(m *store.Message, from string) Message {
	msg := Message{
		ID:        m.ID,
		Channel:   m.ChannelID,
		SenderID:  m.SenderID,
		From:      from,
		Text:      m.Body,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
		Deleted:   m.Deleted,
	}
	if msg.Deleted {
		msg.Text = ""
	}
	return msg
}
