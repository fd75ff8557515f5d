//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink must never block: a sink that cannot take the event right now
// returns an error instead.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Connection is a live subscriber handle owned by a transport.
// Hooks registered with OnDisconnect run exactly once when the connection
// closes, immediately if it is already closed.
type Connection interface {
	EventSink
	ID() string
	OnDisconnect(hook func())
	Close()
}

// IRegistry is the room broadcast hub.
type IRegistry interface {
	IBroadcaster
	Join(conn Connection, roomID domain.RoomID)
	Leave(connID string)
	CurrentRoom(connID string) (domain.RoomID, bool)
}

// IBroadcaster publishes an event to every live subscriber of a room and
// returns how many subscribers took it.
type IBroadcaster interface {
	Publish(ctx context.Context, roomID domain.RoomID, e event.DomainEvent) int
}

// IMediaGateway wraps the external binary-object host.
type IMediaGateway interface {
	IsEnabled() bool
	UploadAudio(ctx context.Context, payload []byte, contentType string, sizeBytes int64, folderHint string) (domain.UploadedObject, error)
}
