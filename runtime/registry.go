package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
)

type Set map[string]struct{}

// connection is the hub's record of a live subscriber.
// currentRoom is only mutated by Join and Leave.
type connection struct {
	conn        contract.Connection
	currentRoom *domain.RoomID
}

// Registry is the room broadcast hub.
// Join, Leave and Publish all run under one mutex, so a publish never
// iterates a subscriber set that is being mutated and every subscriber
// observes the publishes of a room in invocation order.
type Registry struct {
	mu          sync.Mutex
	log         *slog.Logger
	connections map[string]*connection // map connection id -> record
	roomMembers map[domain.RoomID]Set  // map room -> connection ids
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:         log,
		connections: make(map[string]*connection),
		roomMembers: make(map[domain.RoomID]Set),
	}
}

// Join moves conn into roomID, leaving its previous room if any.
// The first join of a connection registers the disconnect hook that
// removes it from the hub.
func (r *Registry) Join(conn contract.Connection, roomID domain.RoomID) {
	id := conn.ID()

	r.mu.Lock()
	record, known := r.connections[id]
	if !known {
		record = &connection{conn: conn}
		r.connections[id] = record
	}
	if record.currentRoom != nil && *record.currentRoom != roomID {
		r.removeMember(*record.currentRoom, id)
	}
	room := roomID
	record.currentRoom = &room
	if _, ok := r.roomMembers[roomID]; !ok {
		r.roomMembers[roomID] = make(Set)
	}
	r.roomMembers[roomID][id] = struct{}{}
	r.mu.Unlock()

	if !known {
		// Outside the lock: the hook runs immediately on a closed connection
		conn.OnDisconnect(func() { r.disconnect(id) })
	}
	r.log.Debug("Connection joined room", "conn_id", id, "room_id", roomID)
}

// Leave removes the connection from its current room. No-op if absent.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.connections[connID]
	if !ok || record.currentRoom == nil {
		return
	}
	r.removeMember(*record.currentRoom, connID)
	record.currentRoom = nil
}

func (r *Registry) CurrentRoom(connID string) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.connections[connID]
	if !ok || record.currentRoom == nil {
		return "", false
	}
	return *record.currentRoom, true
}

// Publish hands e to every subscriber of roomID and returns how many took it.
// A subscriber that cannot take the event is removed and closed; it never
// delays delivery to the others.
func (r *Registry) Publish(ctx context.Context, roomID domain.RoomID, e event.DomainEvent) int {
	var dropped []contract.Connection
	delivered := 0

	r.mu.Lock()
	for id := range r.roomMembers[roomID] {
		record := r.connections[id]
		if err := record.conn.Consume(ctx, e); err != nil {
			reason := "closed"
			if stderrors.Is(err, errors.ErrSinkFull) {
				reason = "full"
			}
			observability.SubscribersDropped.WithLabelValues(reason).Inc()
			r.log.Warn("Dropping subscriber", "conn_id", id, "room_id", roomID, "error", err)
			r.removeMember(roomID, id)
			delete(r.connections, id)
			dropped = append(dropped, record.conn)
			continue
		}
		delivered++
	}
	r.mu.Unlock()

	for _, conn := range dropped {
		conn.Close()
	}
	observability.EventsDelivered.Add(float64(delivered))
	return delivered
}

// Stats returns the number of rooms with subscribers and the number of
// subscribed connections.
func (r *Registry) Stats() (rooms int, subscribers int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, members := range r.roomMembers {
		subscribers += len(members)
	}
	return len(r.roomMembers), subscribers
}

func (r *Registry) disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.connections[connID]
	if !ok {
		return
	}
	if record.currentRoom != nil {
		r.removeMember(*record.currentRoom, connID)
	}
	delete(r.connections, connID)
	r.log.Debug("Connection removed from hub", "conn_id", connID)
}

// removeMember must be called with mu held.
// Empty rooms are removed so the map does not grow with every room ever seen.
func (r *Registry) removeMember(roomID domain.RoomID, connID string) {
	members, ok := r.roomMembers[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.roomMembers, roomID)
	}
}
