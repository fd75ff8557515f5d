package server

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/domain/identity"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/services"
	"chat-relay/sink"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxCommandBytes = 64 * domain.KB
	maxDecodeErrors = 5
)

type WSOptions struct {
	BufferSize int
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
}

// WSServer is the persistent connection front end.
// Each connection may be subscribed to one room at a time through the hub.
type WSServer struct {
	log      *slog.Logger
	hub      contract.IRegistry
	ingress  services.IIngressService
	opts     WSOptions
	upgrader websocket.Upgrader

	mu    sync.Mutex
	sinks map[string]*sink.ConnectionSink
}

func NewWSServer(log *slog.Logger, hub contract.IRegistry, ingress services.IIngressService, opts WSOptions) *WSServer {
	return &WSServer{
		log:     log,
		hub:     hub,
		ingress: ingress,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Callers are authenticated by token, not by origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sinks: make(map[string]*sink.ConnectionSink),
	}
}

// command is what a client sends over the connection.
type command struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId"`
	Text       string `json:"text"`
	SenderKind string `json:"senderKind"`
	SenderID   string `json:"senderId"`
}

// frame is what the server pushes to a client.
type frame struct {
	Event   string `json:"event"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Connect upgrades the request and serves the connection until it closes.
// The read loop runs on the request goroutine so the request context, and
// the verified caller it carries, stay valid for the connection lifetime.
func (s *WSServer) Connect(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Upgrade failed", "error", err)
		return
	}

	connSink := sink.NewConnectionSink(s.opts.BufferSize)
	s.track(connSink)
	connSink.OnDisconnect(func() { s.untrack(connSink.ID()) })
	observability.OpenConnections.Inc()
	s.log.Debug("Connection opened", "conn_id", connSink.ID(), "remote_addr", r.RemoteAddr)

	go s.writePump(conn, connSink)
	s.readPump(r.Context(), conn, connSink)
}

// CloseAll closes every open connection, used on shutdown since hijacked
// connections are not tracked by http.Server.
func (s *WSServer) CloseAll() {
	s.mu.Lock()
	sinks := make([]*sink.ConnectionSink, 0, len(s.sinks))
	for _, connSink := range s.sinks {
		sinks = append(sinks, connSink)
	}
	s.mu.Unlock()

	for _, connSink := range sinks {
		connSink.Close()
	}
}

func (s *WSServer) readPump(ctx context.Context, conn *websocket.Conn, connSink *sink.ConnectionSink) {
	defer func() {
		connSink.Close()
		_ = conn.Close()
		observability.OpenConnections.Dec()
		s.log.Debug("Connection closed", "conn_id", connSink.ID())
	}()

	conn.SetReadLimit(maxCommandBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	decodeErrors := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("Connection read failed", "conn_id", connSink.ID(), "error", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			decodeErrors++
			s.reply(ctx, connSink, event.CommandFailed{Code: string(errors.ReasonInvalidBody), Message: "malformed command"})
			if decodeErrors >= maxDecodeErrors {
				s.log.Warn("Too many malformed commands, closing", "conn_id", connSink.ID())
				return
			}
			continue
		}
		s.handle(ctx, connSink, cmd)
	}
}

func (s *WSServer) handle(ctx context.Context, connSink *sink.ConnectionSink, cmd command) {
	switch cmd.Type {
	case "join":
		if err := identity.Validate(cmd.RoomID, "roomId"); err != nil {
			s.replyError(ctx, connSink, "", errors.Reject(errors.ReasonInvalidIdentifier, "roomId", err))
			return
		}
		roomID := domain.RoomID(cmd.RoomID)
		s.hub.Join(connSink, roomID)
		s.reply(ctx, connSink, event.Joined{Room: roomID})
	case "leave":
		roomID, joined := s.hub.CurrentRoom(connSink.ID())
		s.hub.Leave(connSink.ID())
		if joined {
			s.reply(ctx, connSink, event.Left{Room: roomID})
		}
	case "send":
		roomID, joined := s.hub.CurrentRoom(connSink.ID())
		if !joined {
			s.replyError(ctx, connSink, "", errors.Reject(errors.ReasonNotJoined, "", nil))
			return
		}
		// The sender gets its own message back through the room broadcast
		_, err := s.ingress.SendText(ctx, domain.SendTextCommand{
			RoomID:     string(roomID),
			SenderKind: cmd.SenderKind,
			SenderID:   cmd.SenderID,
			Text:       cmd.Text,
		})
		if err != nil {
			s.replyError(ctx, connSink, roomID, err)
		}
	default:
		s.reply(ctx, connSink, event.CommandFailed{Code: string(errors.ReasonInvalidBody), Message: "unknown command type"})
	}
}

func (s *WSServer) replyError(ctx context.Context, connSink *sink.ConnectionSink, roomID domain.RoomID, err error) {
	s.reply(ctx, connSink, event.CommandFailed{
		Room:    roomID,
		Code:    string(errors.ReasonCode(err)),
		Message: err.Error(),
	})
}

// reply pushes a direct answer to this connection only.
func (s *WSServer) reply(ctx context.Context, connSink *sink.ConnectionSink, e event.DomainEvent) {
	if err := connSink.Consume(ctx, e); err != nil {
		s.log.Warn("Unable to reply, closing connection", "conn_id", connSink.ID(), "error", err)
		connSink.Close()
	}
}

func (s *WSServer) writePump(conn *websocket.Conn, connSink *sink.ConnectionSink) {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case e := <-connSink.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := conn.WriteJSON(toFrame(e)); err != nil {
				s.log.Debug("Connection write failed", "conn_id", connSink.ID(), "error", err)
				connSink.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				connSink.Close()
				return
			}
		case <-connSink.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func toFrame(e event.DomainEvent) frame {
	f := frame{Event: e.Name()}
	if e.RoomID() != "" {
		f.Channel = e.RoomID().Channel()
	}
	switch evt := e.(type) {
	case event.NewMessage:
		f.Data = evt.Message
	case event.CommandFailed:
		f.Data = failure{Code: evt.Code, Message: evt.Message}
	}
	return f
}

func (s *WSServer) track(connSink *sink.ConnectionSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks[connSink.ID()] = connSink
}

func (s *WSServer) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sinks, id)
}
