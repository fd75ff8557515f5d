package services

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/domain/identity"
	"chat-relay/domain/mimetypes"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/repositories"
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type IIngressService interface {
	SendText(ctx context.Context, cmd domain.SendTextCommand) (domain.Message, error)
	SendAudio(ctx context.Context, cmd domain.SendAudioCommand) (domain.Message, error)
	GetMessages(ctx context.Context, cmd domain.GetMessagesCommand) ([]domain.Message, *string, error)
}

// IngressService validates a send, stores its attachment, persists it and
// hands the accepted message to the broadcaster.
// Each request runs strictly sequentially; the upload is the only step that
// waits on an external host.
type IngressService struct {
	log         *slog.Logger
	validate    *validator.Validate
	gateway     contract.IMediaGateway
	repository  repositories.IMessageRepository
	broadcaster contract.IBroadcaster
	tracer      trace.Tracer
}

func NewIngressService(
	log *slog.Logger,
	gateway contract.IMediaGateway,
	repository repositories.IMessageRepository,
	broadcaster contract.IBroadcaster,
) *IngressService {
	return &IngressService{
		log:         log,
		validate:    validator.New(),
		gateway:     gateway,
		repository:  repository,
		broadcaster: broadcaster,
		tracer:      otel.Tracer("chat-relay/services"),
	}
}

// SendText accepts a text message. Text made only of whitespace counts as
// missing; accepted text is stored exactly as sent.
func (s *IngressService) SendText(ctx context.Context, cmd domain.SendTextCommand) (domain.Message, error) {
	ctx, span := s.tracer.Start(ctx, "ingress.SendText")
	defer span.End()

	roomID, senderKind, err := s.validateTarget(ctx, cmd.RoomID, cmd.SenderKind, cmd.SenderID)
	if err != nil {
		return domain.Message{}, s.fail(span, err)
	}
	if err := s.validate.Var(strings.TrimSpace(cmd.Text), "required"); err != nil {
		return domain.Message{}, s.fail(span, errors.Reject(errors.ReasonMissingText, "text", nil))
	}

	return s.accept(ctx, span, domain.MessageDraft{
		RoomID:     roomID,
		SenderKind: senderKind,
		SenderID:   cmd.SenderID,
		Kind:       domain.Text,
		Text:       cmd.Text,
	})
}

func (s *IngressService) SendAudio(ctx context.Context, cmd domain.SendAudioCommand) (domain.Message, error) {
	ctx, span := s.tracer.Start(ctx, "ingress.SendAudio")
	defer span.End()

	roomID, senderKind, err := s.validateTarget(ctx, cmd.RoomID, cmd.SenderKind, cmd.SenderID)
	if err != nil {
		return domain.Message{}, s.fail(span, err)
	}
	if len(cmd.Payload) == 0 {
		return domain.Message{}, s.fail(span, errors.Reject(errors.ReasonMissingFile, "file", nil))
	}

	contentType := mimetypes.Resolve(cmd.ContentType, cmd.Payload)
	if !mimetypes.IsAudio(contentType) {
		s.log.Debug("Audio payload with a non audio content type", "room_id", roomID, "mime_type", contentType)
	}
	audio, err := s.storeAudio(ctx, roomID, cmd.Payload, contentType)
	if err != nil {
		return domain.Message{}, s.fail(span, err)
	}
	audio.DurationSec = domain.ParseDurationSec(cmd.DurationSec)
	span.SetAttributes(attribute.String("audio.mime_type", contentType), attribute.Int("audio.size_bytes", len(cmd.Payload)))

	return s.accept(ctx, span, domain.MessageDraft{
		RoomID:     roomID,
		SenderKind: senderKind,
		SenderID:   cmd.SenderID,
		Kind:       domain.Audio,
		Audio:      audio,
	})
}

func (s *IngressService) GetMessages(ctx context.Context, cmd domain.GetMessagesCommand) ([]domain.Message, *string, error) {
	if _, ok := auth.CallerFromContext(ctx); !ok {
		return nil, nil, errors.Reject(errors.ReasonUnauthenticated, "", nil)
	}
	if err := identity.Validate(cmd.RoomID, "roomId"); err != nil {
		return nil, nil, errors.Reject(errors.ReasonInvalidIdentifier, "roomId", err)
	}
	messages, next, err := s.repository.GetMessages(domain.RoomID(cmd.RoomID), cmd.Cursor)
	if err != nil {
		return nil, nil, errors.Reject(errors.ReasonPersistenceFailed, "", err)
	}
	return messages, next, nil
}

// validateTarget checks the room first, then the sender descriptor.
func (s *IngressService) validateTarget(ctx context.Context, roomID, senderKind, senderID string) (domain.RoomID, domain.SenderKind, error) {
	if _, ok := auth.CallerFromContext(ctx); !ok {
		return "", "", errors.Reject(errors.ReasonUnauthenticated, "", nil)
	}
	if err := identity.Validate(roomID, "roomId"); err != nil {
		return "", "", errors.Reject(errors.ReasonInvalidIdentifier, "roomId", err)
	}
	if err := s.validate.Var(senderKind, "required,oneof=Primary Dependent"); err != nil {
		return "", "", errors.Reject(errors.ReasonInvalidSender, "senderKind", nil)
	}
	if err := identity.Validate(senderID, "senderId"); err != nil {
		return "", "", errors.Reject(errors.ReasonInvalidSender, "senderId", err)
	}
	kind, _ := domain.ParseSenderKind(senderKind)
	return domain.RoomID(roomID), kind, nil
}

// storeAudio uploads the payload when a media host is configured and
// falls back to an inline data URI otherwise.
// A failed upload fails the whole request: nothing may reference a
// half-stored object.
func (s *IngressService) storeAudio(ctx context.Context, roomID domain.RoomID, payload []byte, contentType string) (*domain.AudioPayload, error) {
	sizeBytes := int64(len(payload))
	if !s.gateway.IsEnabled() {
		observability.AudioStorage.WithLabelValues("data_uri").Inc()
		return &domain.AudioPayload{
			URL:       domain.DataURI(contentType, payload),
			MimeType:  contentType,
			SizeBytes: sizeBytes,
		}, nil
	}

	start := time.Now()
	uploaded, err := s.gateway.UploadAudio(ctx, payload, contentType, sizeBytes, "rooms/"+string(roomID))
	observability.UploadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.log.Error("Audio upload failed", "room_id", roomID, "size_bytes", sizeBytes, "error", err)
		return nil, errors.Reject(errors.ReasonUploadFailed, "file", err)
	}
	observability.AudioStorage.WithLabelValues("upload").Inc()

	ref := uploaded.ExternalRef
	return &domain.AudioPayload{
		URL:         uploaded.URL,
		MimeType:    contentType,
		SizeBytes:   sizeBytes,
		ExternalRef: &ref,
	}, nil
}

// accept persists the draft and publishes the resulting message.
// Once persisted, the broadcast is attempted even if the caller went away.
func (s *IngressService) accept(ctx context.Context, span trace.Span, draft domain.MessageDraft) (domain.Message, error) {
	message, err := s.repository.Create(ctx, draft)
	if err != nil {
		if stderrors.Is(err, errors.ErrSenderNotFound) {
			return domain.Message{}, s.fail(span, errors.Reject(errors.ReasonInvalidSender, "senderId", err))
		}
		s.log.Error("Unable to persist message", "room_id", draft.RoomID, "error", err)
		return domain.Message{}, s.fail(span, errors.Reject(errors.ReasonPersistenceFailed, "", err))
	}

	delivered := s.broadcaster.Publish(context.WithoutCancel(ctx), message.RoomID, event.NewMessage{Message: message})
	observability.MessagesAccepted.WithLabelValues(string(message.Kind)).Inc()
	span.SetAttributes(
		attribute.String("message.id", message.ID),
		attribute.String("room.id", string(message.RoomID)),
		attribute.Int("broadcast.delivered", delivered),
	)
	s.log.Debug("Message accepted", "message_id", message.ID, "room_id", message.RoomID, "kind", message.Kind, "delivered", delivered)
	return message, nil
}

func (s *IngressService) fail(span trace.Span, err error) error {
	observability.MessagesRejected.WithLabelValues(string(errors.ReasonCode(err))).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, string(errors.ReasonCode(err)))
	return err
}
