package server

import (
	"bytes"
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/identity"
	"chat-relay/errors"
	"chat-relay/infrastructure/http/middleware"
	"chat-relay/mocks"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/services"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type stack struct {
	url     string
	token   string
	gateway *mocks.MockIMediaGateway
	hub     *runtime.Registry
}

type wireFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func newStack(t *testing.T) stack {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)

	gateway := mocks.NewMockIMediaGateway(gomock.NewController(t))
	hub := runtime.NewRegistry(log)
	ingress := services.NewIngressService(log, gateway,
		repositories.NewMessageRepository(db, log, nil, false), hub)
	verifier := auth.NewVerifier("test-secret")
	ws := NewWSServer(log, hub, ingress, WSOptions{
		BufferSize: 16,
		PongWait:   5 * time.Second,
		PingPeriod: 4 * time.Second,
		WriteWait:  time.Second,
	})
	router := NewRouter(log, verifier,
		middleware.NewRateLimiter(nil, log, 0, time.Minute),
		NewMessageServer(log, ingress, 1*domain.MB), ws)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		ws.CloseAll()
		server.Close()
		_ = db.Close()
	})

	token, err := verifier.Issue("user-1", []string{"member"}, time.Hour)
	require.NoError(t, err)
	return stack{url: server.URL, token: token, gateway: gateway, hub: hub}
}

func (s stack) post(t *testing.T, path, contentType string, body io.Reader) (*http.Response, []byte) {
	r, err := http.NewRequest(http.MethodPost, s.url+path, body)
	require.NoError(t, err)
	r.Header.Set("Content-Type", contentType)
	r.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (s stack) sendText(t *testing.T, roomID, senderID, text string) (*http.Response, []byte) {
	body, err := json.Marshal(map[string]string{"text": text, "senderKind": "Primary", "senderId": senderID})
	require.NoError(t, err)
	return s.post(t, "/rooms/"+roomID+"/messages/text", "application/json", bytes.NewReader(body))
}

func (s stack) sendAudio(t *testing.T, roomID, senderID string, payload []byte) (*http.Response, []byte) {
	return s.sendAudioWithDuration(t, roomID, senderID, payload, "2.5")
}

func (s stack) sendAudioWithDuration(t *testing.T, roomID, senderID string, payload []byte, duration string) (*http.Response, []byte) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("senderKind", "Dependent"))
	require.NoError(t, form.WriteField("senderId", senderID))
	require.NoError(t, form.WriteField("durationSec", duration))
	require.NoError(t, form.WriteField("mimeType", "audio/ogg"))
	part, err := form.CreateFormFile("file", "note.ogg")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, form.Close())
	return s.post(t, "/rooms/"+roomID+"/messages/audio", form.FormDataContentType(), &body)
}

func (s stack) dial(t *testing.T) *websocket.Conn {
	wsURL := "ws" + strings.TrimPrefix(s.url, "http") + "/ws?access_token=" + s.token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func join(t *testing.T, conn *websocket.Conn, roomID string) {
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "join", "roomId": roomID}))
	f := readFrame(t, conn)
	require.Equal(t, "joined", f.Event)
	require.Equal(t, "room:"+roomID, f.Channel)
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f wireFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func requireNoFrame(t *testing.T, conn *websocket.Conn) {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	var netErr net.Error
	require.True(t, stderrors.As(err, &netErr) && netErr.Timeout(), "expected no frame, got %v", err)
}

func TestSendText_Response_And_Broadcast_Match(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	roomID := identity.New()
	senderID := identity.New()

	// Given two subscribers of the room
	c1 := s.dial(t)
	c2 := s.dial(t)
	join(t, c1, roomID)
	join(t, c2, roomID)

	// When a text is sent over HTTP
	resp, body := s.sendText(t, roomID, senderID, "hi")

	// Then the created message is returned
	req.Equal(http.StatusCreated, resp.StatusCode)
	var message domain.Message
	req.NoError(json.Unmarshal(body, &message))
	req.NotEmpty(message.ID)
	req.False(message.CreatedAt.IsZero())
	req.Equal("hi", message.Text)
	req.Equal(domain.Text, message.Kind)
	req.Nil(message.Audio)

	// And each subscriber receives one identical newMessage event
	for _, conn := range []*websocket.Conn{c1, c2} {
		f := readFrame(t, conn)
		req.Equal("newMessage", f.Event)
		req.Equal("room:"+roomID, f.Channel)
		req.Equal(string(body), string(f.Data))
		requireNoFrame(t, conn)
	}
}

func TestSendText_Invalid_Room(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	subscriber := s.dial(t)
	roomID := identity.New()
	join(t, subscriber, roomID)

	resp, body := s.sendText(t, "not-an-id", identity.New(), "hi")

	req.Equal(http.StatusBadRequest, resp.StatusCode)
	req.Contains(string(body), `"error":"InvalidIdentifier"`)
	requireNoFrame(t, subscriber)
}

func TestSendText_Invalid_Body(t *testing.T) {
	req := require.New(t)
	s := newStack(t)

	resp, body := s.post(t, "/rooms/"+identity.New()+"/messages/text", "application/json", strings.NewReader("{"))

	req.Equal(http.StatusBadRequest, resp.StatusCode)
	req.Contains(string(body), `"error":"InvalidBody"`)
}

func TestSendText_Requires_Token(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	s.token = "forged"

	resp, _ := s.sendText(t, identity.New(), identity.New(), "hi")

	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestSendAudio_Fallback_Data_URI(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	roomID := identity.New()
	payload := []byte("OggS\x00\x02fake-opus-payload")
	s.gateway.EXPECT().IsEnabled().Return(false).AnyTimes()

	resp, body := s.sendAudio(t, roomID, identity.New(), payload)

	req.Equal(http.StatusCreated, resp.StatusCode, string(body))
	var message domain.Message
	req.NoError(json.Unmarshal(body, &message))
	req.Equal(domain.Audio, message.Kind)
	req.True(strings.HasPrefix(message.Audio.URL, "data:audio/ogg;base64,"))
	req.Equal(int64(len(payload)), message.Audio.SizeBytes)
	req.Equal(2.5, *message.Audio.DurationSec)
}

func TestSendAudio_Unparseable_Duration_Is_Null(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	s.gateway.EXPECT().IsEnabled().Return(false).AnyTimes()

	// When the client sends a duration that is not a number
	resp, body := s.sendAudioWithDuration(t, identity.New(), identity.New(), []byte("OggS\x00\x02payload"), "abc")

	// Then the message is still accepted without a duration
	req.Equal(http.StatusCreated, resp.StatusCode, string(body))
	req.Contains(string(body), `"durationSec":null`)
	var message domain.Message
	req.NoError(json.Unmarshal(body, &message))
	req.Nil(message.Audio.DurationSec)
}

func TestSendAudio_Upload_Failure(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	roomID := identity.New()
	subscriber := s.dial(t)
	join(t, subscriber, roomID)

	s.gateway.EXPECT().IsEnabled().Return(true).AnyTimes()
	s.gateway.EXPECT().UploadAudio(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.UploadedObject{}, &errors.UploadError{Cause: stderrors.New("bucket unreachable")}).Times(1)

	// When the upload throws
	resp, body := s.sendAudio(t, roomID, identity.New(), []byte("payload"))

	// Then the caller gets a 500 with the cause
	req.Equal(http.StatusInternalServerError, resp.StatusCode)
	req.Contains(string(body), `"error":"UploadFailed"`)
	req.Contains(string(body), "bucket unreachable")

	// And nothing was broadcast nor persisted
	requireNoFrame(t, subscriber)
	history := s.history(t, roomID)
	req.Empty(history.Messages)
}

func TestSendAudio_Missing_File(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	req.NoError(form.WriteField("senderKind", "Primary"))
	req.NoError(form.WriteField("senderId", identity.New()))
	req.NoError(form.Close())

	resp, raw := s.post(t, "/rooms/"+identity.New()+"/messages/audio", form.FormDataContentType(), &body)

	req.Equal(http.StatusBadRequest, resp.StatusCode)
	req.Contains(string(raw), `"error":"MissingFile"`)
}

func TestSendAudio_Too_Large(t *testing.T) {
	req := require.New(t)
	s := newStack(t)

	resp, raw := s.sendAudio(t, identity.New(), identity.New(), bytes.Repeat([]byte{1}, 3*domain.MB/2))

	req.Equal(http.StatusRequestEntityTooLarge, resp.StatusCode)
	req.Contains(string(raw), `"error":"PayloadTooLarge"`)
}

func (s stack) history(t *testing.T, roomID string) historyResponse {
	r, err := http.NewRequest(http.MethodGet, s.url+"/rooms/"+roomID+"/messages", nil)
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history historyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	return history
}

func TestGetMessages_Newest_First(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	roomID := identity.New()
	senderID := identity.New()

	for _, text := range []string{"first", "second"} {
		resp, _ := s.sendText(t, roomID, senderID, text)
		req.Equal(http.StatusCreated, resp.StatusCode)
	}

	history := s.history(t, roomID)
	req.Len(history.Messages, 2)
	req.Equal("second", history.Messages[0].Text)
	req.Equal("first", history.Messages[1].Text)
	req.Nil(history.NextCursor)
}

func TestWS_Send_Over_Connection(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	roomID := identity.New()
	conn := s.dial(t)

	// Sending before joining is refused
	req.NoError(conn.WriteJSON(map[string]string{"type": "send", "text": "hi", "senderKind": "Primary", "senderId": identity.New()}))
	f := readFrame(t, conn)
	req.Equal("error", f.Event)
	req.Contains(string(f.Data), "NotJoined")

	// Once joined, the sender receives its own message through the room
	join(t, conn, roomID)
	req.NoError(conn.WriteJSON(map[string]string{"type": "send", "text": "hello", "senderKind": "Primary", "senderId": identity.New()}))
	f = readFrame(t, conn)
	req.Equal("newMessage", f.Event)
	var message domain.Message
	req.NoError(json.Unmarshal(f.Data, &message))
	req.Equal("hello", message.Text)
	req.Equal(domain.RoomID(roomID), message.RoomID)
}

func TestWS_Join_Invalid_Room(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	conn := s.dial(t)

	req.NoError(conn.WriteJSON(map[string]string{"type": "join", "roomId": "r1"}))

	f := readFrame(t, conn)
	req.Equal("error", f.Event)
	req.Contains(string(f.Data), "InvalidIdentifier")
}

func TestWS_Leave_Stops_Delivery(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	roomID := identity.New()
	conn := s.dial(t)
	join(t, conn, roomID)

	req.NoError(conn.WriteJSON(map[string]string{"type": "leave"}))
	f := readFrame(t, conn)
	req.Equal("left", f.Event)

	resp, _ := s.sendText(t, roomID, identity.New(), "nobody listens")
	req.Equal(http.StatusCreated, resp.StatusCode)
	requireNoFrame(t, conn)
}

func TestWS_Disconnect_Without_Leave_Leaves_No_Ghost(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	roomID := identity.New()
	conn := s.dial(t)
	join(t, conn, roomID)

	rooms, subscribers := s.hub.Stats()
	req.Equal(1, rooms)
	req.Equal(1, subscribers)

	// When the client vanishes without a leave command
	req.NoError(conn.Close())

	// Then the hub forgets it
	req.Eventually(func() bool {
		rooms, subscribers := s.hub.Stats()
		return rooms == 0 && subscribers == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWS_Malformed_Commands_Close_Connection(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	conn := s.dial(t)

	for i := 0; i < maxDecodeErrors; i++ {
		req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	}

	// error frames, then a close
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	var netErr net.Error
	req.False(stderrors.As(err, &netErr) && netErr.Timeout(), "connection should be closed by the server")
}

func TestWS_Requires_Token(t *testing.T) {
	req := require.New(t)
	s := newStack(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/ws", nil)

	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestUp(t *testing.T) {
	req := require.New(t)
	s := newStack(t)

	resp, err := http.Get(s.url + "/up")
	req.NoError(err)
	defer func() { _ = resp.Body.Close() }()
	req.Equal(http.StatusOK, resp.StatusCode)
}
