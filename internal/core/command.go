package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendMessage posts a new message to the session's channel.
	CommandSendMessage CommandKind = iota
	// CommandEditMessage replaces the body of one of the sender's messages.
	CommandEditMessage
	// CommandDeleteMessage soft-deletes a message.
	CommandDeleteMessage
)

// Command represents an action requested by a client.
type Command struct {
	Kind      CommandKind
	MessageID int64
	Text      string
}
