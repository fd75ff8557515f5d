package event

import (
	"chat-relay/domain"
)

const (
	NewMessageName    = "newMessage"
	JoinedName        = "joined"
	LeftName          = "left"
	CommandFailedName = "error"
)

// DomainEvent is anything a live connection can receive.
type DomainEvent interface {
	RoomID() domain.RoomID
	Name() string
}

// NewMessage is published to a room once a message has been accepted.
type NewMessage struct {
	Message domain.Message
}

func (e NewMessage) RoomID() domain.RoomID { return e.Message.RoomID }
func (e NewMessage) Name() string          { return NewMessageName }

// Joined acknowledges a join command to the connection that sent it.
type Joined struct {
	Room domain.RoomID
}

func (e Joined) RoomID() domain.RoomID { return e.Room }
func (e Joined) Name() string          { return JoinedName }

type Left struct {
	Room domain.RoomID
}

func (e Left) RoomID() domain.RoomID { return e.Room }
func (e Left) Name() string          { return LeftName }

// CommandFailed reports a rejected connection command back to its sender.
type CommandFailed struct {
	Room    domain.RoomID
	Code    string
	Message string
}

func (e CommandFailed) RoomID() domain.RoomID { return e.Room }
func (e CommandFailed) Name() string          { return CommandFailedName }
