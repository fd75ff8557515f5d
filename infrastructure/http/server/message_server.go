package server

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/services"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

const (
	maxTextBodyBytes = 64 * domain.KB
	// multipartOverhead leaves room for the form fields around the file.
	multipartOverhead = 1 * domain.MB
)

type MessageServer struct {
	log               *slog.Logger
	ingress           services.IIngressService
	maxAudioSizeBytes int64
}

func NewMessageServer(log *slog.Logger, ingress services.IIngressService, maxAudioSizeBytes int64) *MessageServer {
	return &MessageServer{log: log, ingress: ingress, maxAudioSizeBytes: maxAudioSizeBytes}
}

type sendTextRequest struct {
	Text       string `json:"text"`
	SenderKind string `json:"senderKind"`
	SenderID   string `json:"senderId"`
}

type historyResponse struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor *string          `json:"nextCursor"`
}

// SendText handles POST /rooms/{roomId}/messages/text.
// The accepted message is both returned here and broadcast to the room.
func (s *MessageServer) SendText(w http.ResponseWriter, r *http.Request) {
	var body sendTextRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBodyBytes)).Decode(&body); err != nil {
		writeError(w, s.log, decodeError(err))
		return
	}

	message, err := s.ingress.SendText(r.Context(), domain.SendTextCommand{
		RoomID:     chi.URLParam(r, "roomId"),
		SenderKind: body.SenderKind,
		SenderID:   body.SenderID,
		Text:       body.Text,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, message)
}

// SendAudio handles POST /rooms/{roomId}/messages/audio, a multipart form
// with a file part and senderKind, senderId, durationSec and mimeType fields.
func (s *MessageServer) SendAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxAudioSizeBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxAudioSizeBytes); err != nil {
		writeError(w, s.log, decodeError(err))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	payload, declared, err := s.readFile(r)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	message, err := s.ingress.SendAudio(r.Context(), domain.SendAudioCommand{
		RoomID:      chi.URLParam(r, "roomId"),
		SenderKind:  r.FormValue("senderKind"),
		SenderID:    r.FormValue("senderId"),
		Payload:     payload,
		ContentType: lo.CoalesceOrEmpty(r.FormValue("mimeType"), declared),
		DurationSec: r.FormValue("durationSec"),
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, message)
}

// GetMessages handles GET /rooms/{roomId}/messages?cursor=, newest first.
func (s *MessageServer) GetMessages(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	messages, next, err := s.ingress.GetMessages(r.Context(), domain.GetMessagesCommand{
		RoomID: chi.URLParam(r, "roomId"),
		Cursor: lo.EmptyableToPtr(cursor),
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Messages:   lo.Ternary(messages == nil, []domain.Message{}, messages),
		NextCursor: next,
	})
}

// readFile returns the uploaded bytes and the part's declared content type.
// A missing part is not an error here: the ingress service reports it once
// the room and sender have been checked.
func (s *MessageServer) readFile(r *http.Request) ([]byte, string, error) {
	file, header, err := r.FormFile("file")
	if stderrors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", errors.Reject(errors.ReasonInvalidBody, "file", err)
	}
	defer func() {
		_ = file.Close()
	}()

	if header.Size > s.maxAudioSizeBytes {
		return nil, "", errors.Reject(errors.ReasonPayloadTooLarge, "file", nil)
	}
	payload, err := io.ReadAll(io.LimitReader(file, s.maxAudioSizeBytes+1))
	if err != nil {
		return nil, "", errors.Reject(errors.ReasonInvalidBody, "file", err)
	}
	if int64(len(payload)) > s.maxAudioSizeBytes {
		return nil, "", errors.Reject(errors.ReasonPayloadTooLarge, "file", nil)
	}
	return payload, header.Header.Get("Content-Type"), nil
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.Reject(errors.ReasonPayloadTooLarge, "", nil)
	}
	return errors.Reject(errors.ReasonInvalidBody, "", err)
}
