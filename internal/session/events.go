package session

import (
	"encoding/json"

	"github.com/classpoll/backend/internal/polls"
)

// Conn identifies the connection an event came from and its classroom.
type Conn struct {
	ID   string
	Room string
}

func (c Conn) origin() Conn { return c }

// Event is one of the inbound events handled by the coordinator. The set is
// closed: only types in this package implement it.
type Event interface {
	origin() Conn
}

// Connect registers an anonymous connection.
type Connect struct {
	Conn
}

// Join binds a username to the connection.
type Join struct {
	Conn
	Username string
}

// CreatePoll starts a poll in the connection's room.
type CreatePoll struct {
	Conn
	Params polls.CreateParams
}

// SubmitAnswer is a vote. Events with a blank field, or naming a poll other
// than the room's current one, are dropped.
type SubmitAnswer struct {
	Conn
	Username string
	Option   string
	PollID   uint
}

// Kick disconnects the first connection joined as Username.
type Kick struct {
	Conn
	Username string
}

// ChatMessage is relayed verbatim to the room.
type ChatMessage struct {
	Conn
	Payload json.RawMessage
}

// StudentLogin is acknowledged to the sender only.
type StudentLogin struct {
	Conn
	Username string
}

// EndPoll completes a poll before everybody answered. A zero PollID means the
// room's current poll.
type EndPoll struct {
	Conn
	PollID uint
}

// Disconnect removes the connection. Repeating it has no effect.
type Disconnect struct {
	Conn
}

type timerExpired struct {
	Conn
	pollID uint
}

type snapshotRequest struct {
	Conn
	reply chan State
}

// Outbound event names.
const (
	EventParticipantsUpdate = "participantsUpdate"
	EventPollCreated        = "pollCreated"
	EventErrorCreatingPoll  = "errorCreatingPoll"
	EventPollResults        = "pollResults"
	EventPollOver           = "pollOver"
	EventKickedOut          = "kickedOut"
	EventChatMessage        = "chatMessage"
	EventLoginSuccess       = "loginSuccess"
)

// Message is the payload of kickedOut and loginSuccess.
type Message struct {
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
}
