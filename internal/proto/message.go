// Package proto defines the JSON frames exchanged over the channel socket.
package proto

// Inbound is a frame sent by the client. A frame without an action posts
// Message as a new chat message.
type Inbound struct {
	Action  string `json:"action,omitempty"`
	ID      int64  `json:"id,omitempty"`
	Message string `json:"message"`
}

const (
	ActionSend   = "send"
	ActionEdit   = "edit"
	ActionDelete = "delete"
)

const (
	EventMessage = "message"
	EventEdited  = "edited"
	EventDeleted = "deleted"
	EventHistory = "history"
	EventError   = "error"
)

// Outbound is a frame sent to the client.
type Outbound struct {
	Event    string    `json:"event"`
	Message  string    `json:"message,omitempty"`
	User     string    `json:"user,omitempty"`
	ID       int64     `json:"id,omitempty"`
	Channel  string    `json:"channel,omitempty"`
	TS       int64     `json:"ts,omitempty"`
	EditedTS int64     `json:"edited_ts,omitempty"`
	Deleted  bool      `json:"deleted,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	Error    *Error    `json:"error,omitempty"`
}

// Message is one entry of a history frame or REST listing.
type Message struct {
	ID       int64  `json:"id"`
	Channel  string `json:"channel"`
	Message  string `json:"message"`
	User     string `json:"user"`
	TS       int64  `json:"ts"`
	EditedTS int64  `json:"edited_ts,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
