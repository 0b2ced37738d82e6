package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessage notifies clients about a new chat message in a channel.
	EventMessage EventKind = iota
	// EventMessageEdited notifies clients that a message body changed.
	EventMessageEdited
	// EventMessageDeleted notifies clients that a message was soft-deleted.
	EventMessageDeleted
	// EventHistory delivers message history to a client upon joining a channel.
	EventHistory
	// EventError notifies clients about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Channel  string
	Message  Message
	Messages []Message // For EventHistory
	Error    *CoreError
}
