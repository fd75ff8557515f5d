package services

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/domain/identity"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	"encoding/base64"
	stderrors "errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	service     *IngressService
	gateway     *mocks.MockIMediaGateway
	repository  *mocks.MockIMessageRepository
	broadcaster *mocks.MockIBroadcaster
}

func newFixture(t *testing.T) fixture {
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	gateway := mocks.NewMockIMediaGateway(ctrl)
	repository := mocks.NewMockIMessageRepository(ctrl)
	broadcaster := mocks.NewMockIBroadcaster(ctrl)
	return fixture{
		service:     NewIngressService(log, gateway, repository, broadcaster),
		gateway:     gateway,
		repository:  repository,
		broadcaster: broadcaster,
	}
}

func callerCtx() context.Context {
	return auth.WithCaller(context.Background(), auth.Caller{UserID: "user-1"})
}

// persisted mimics the storage collaborator: it assigns id and createdAt.
func persisted(_ context.Context, draft domain.MessageDraft) (domain.Message, error) {
	return domain.Message{
		ID:         identity.New(),
		RoomID:     draft.RoomID,
		SenderKind: draft.SenderKind,
		SenderID:   draft.SenderID,
		Kind:       draft.Kind,
		Text:       draft.Text,
		Audio:      draft.Audio,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func TestIngressService_SendText_Accepted(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	roomID := identity.New()
	senderID := identity.New()

	var published event.DomainEvent
	f.repository.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(persisted).Times(1)
	f.broadcaster.EXPECT().Publish(gomock.Any(), domain.RoomID(roomID), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ domain.RoomID, e event.DomainEvent) int {
			published = e
			return 2
		}).Times(1)

	// When a valid text is sent
	message, err := f.service.SendText(callerCtx(), domain.SendTextCommand{
		RoomID:     roomID,
		SenderKind: "Primary",
		SenderID:   senderID,
		Text:       "hi",
	})

	// Then the message carries the text and nothing else
	req.NoError(err)
	req.Equal("hi", message.Text)
	req.Equal(domain.Text, message.Kind)
	req.Nil(message.Audio)
	req.Equal(domain.PrimaryAccount, message.SenderKind)
	req.NotEmpty(message.ID)
	req.False(message.CreatedAt.IsZero())

	// And the broadcast carries the very same value
	req.Equal(event.NewMessage{Message: message}, published)
}

func TestIngressService_SendText_Rejected(t *testing.T) {
	roomID := identity.New()
	senderID := identity.New()

	tests := []struct {
		description string
		cmd         domain.SendTextCommand
		reason      errors.Reason
		sentinel    error
	}{
		{
			"Malformed room id",
			domain.SendTextCommand{RoomID: "not-an-id", SenderKind: "Primary", SenderID: senderID, Text: "hi"},
			errors.ReasonInvalidIdentifier, errors.ErrInvalidIdentifier,
		},
		{
			"Room is checked before the sender",
			domain.SendTextCommand{RoomID: "r1", SenderKind: "Nobody", SenderID: "x", Text: ""},
			errors.ReasonInvalidIdentifier, errors.ErrInvalidIdentifier,
		},
		{
			"Unknown sender kind",
			domain.SendTextCommand{RoomID: roomID, SenderKind: "PrimaryAccount", SenderID: senderID, Text: "hi"},
			errors.ReasonInvalidSender, errors.ErrInvalidSender,
		},
		{
			"Malformed sender id",
			domain.SendTextCommand{RoomID: roomID, SenderKind: "Dependent", SenderID: "123", Text: "hi"},
			errors.ReasonInvalidSender, errors.ErrInvalidSender,
		},
		{
			"Empty text",
			domain.SendTextCommand{RoomID: roomID, SenderKind: "Dependent", SenderID: senderID, Text: ""},
			errors.ReasonMissingText, errors.ErrMissingText,
		},
		{
			"Blank text",
			domain.SendTextCommand{RoomID: roomID, SenderKind: "Dependent", SenderID: senderID, Text: " \n\t"},
			errors.ReasonMissingText, errors.ErrMissingText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			req := require.New(t)
			// No Create nor Publish expectation: any call fails the test
			f := newFixture(t)

			_, err := f.service.SendText(callerCtx(), tt.cmd)

			req.ErrorIs(err, tt.sentinel)
			req.Equal(tt.reason, errors.ReasonCode(err))
			req.Equal(400, errors.MapToHTTPStatus(err))
		})
	}
}

func TestIngressService_SendText_Keeps_Surrounding_Whitespace(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.repository.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(persisted).Times(1)
	f.broadcaster.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(0).Times(1)

	message, err := f.service.SendText(callerCtx(), domain.SendTextCommand{
		RoomID: identity.New(), SenderKind: "Primary", SenderID: identity.New(), Text: "  hi\n",
	})

	req.NoError(err)
	req.Equal("  hi\n", message.Text)
}

func TestIngressService_Requires_Caller(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.service.SendText(context.Background(), domain.SendTextCommand{
		RoomID: identity.New(), SenderKind: "Primary", SenderID: identity.New(), Text: "hi",
	})

	req.ErrorIs(err, errors.ErrUnauthenticated)
	req.Equal(401, errors.MapToHTTPStatus(err))
}

func TestIngressService_SendText_Persistence_Failed(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	boom := stderrors.New("disk full")

	f.repository.EXPECT().Create(gomock.Any(), gomock.Any()).Return(domain.Message{}, boom).Times(1)
	f.broadcaster.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := f.service.SendText(callerCtx(), domain.SendTextCommand{
		RoomID: identity.New(), SenderKind: "Primary", SenderID: identity.New(), Text: "hi",
	})

	req.ErrorIs(err, errors.ErrPersistenceFailed)
	req.ErrorIs(err, boom)
	req.Equal(500, errors.MapToHTTPStatus(err))
}

func TestIngressService_Unknown_Sender_Is_Invalid_Sender(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.repository.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(domain.Message{}, errors.ErrSenderNotFound).Times(1)
	f.broadcaster.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := f.service.SendText(callerCtx(), domain.SendTextCommand{
		RoomID: identity.New(), SenderKind: "Dependent", SenderID: identity.New(), Text: "hi",
	})

	req.Equal(errors.ReasonInvalidSender, errors.ReasonCode(err))
	req.Equal(400, errors.MapToHTTPStatus(err))
}

func TestIngressService_SendAudio_Data_URI_Fallback(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	payload := []byte{0x01, 0x02, 0x03, 0xFF, 0x00, 0x7F}

	f.gateway.EXPECT().IsEnabled().Return(false).AnyTimes()
	f.gateway.EXPECT().UploadAudio(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	f.repository.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(persisted).Times(1)
	f.broadcaster.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(0).Times(1)

	message, err := f.service.SendAudio(callerCtx(), domain.SendAudioCommand{
		RoomID:      identity.New(),
		SenderKind:  "Primary",
		SenderID:    identity.New(),
		Payload:     payload,
		ContentType: "audio/ogg",
		DurationSec: "3.5",
	})
	req.NoError(err)
	req.Equal(domain.Audio, message.Kind)
	req.Empty(message.Text)
	req.NotNil(message.Audio)

	// The url is self-contained and decodes back to the original bytes
	prefix := "data:audio/ogg;base64,"
	req.True(strings.HasPrefix(message.Audio.URL, prefix))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(message.Audio.URL, prefix))
	req.NoError(err)
	req.Equal(payload, decoded)

	req.Equal("audio/ogg", message.Audio.MimeType)
	req.Equal(int64(len(payload)), message.Audio.SizeBytes)
	req.Nil(message.Audio.ExternalRef)
	req.NotNil(message.Audio.DurationSec)
	req.Equal(3.5, *message.Audio.DurationSec)
}

func TestIngressService_SendAudio_Upload_Succeeds(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	roomID := identity.New()
	payload := []byte("ID3-fake-mp3")

	f.gateway.EXPECT().IsEnabled().Return(true).AnyTimes()
	f.gateway.EXPECT().
		UploadAudio(gomock.Any(), payload, "audio/mpeg", int64(len(payload)), "rooms/"+roomID).
		Return(domain.UploadedObject{URL: "https://cdn.example.com/voice/a.mp3", ExternalRef: "voice/a.mp3"}, nil).
		Times(1)
	f.repository.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(persisted).Times(1)
	f.broadcaster.EXPECT().Publish(gomock.Any(), domain.RoomID(roomID), gomock.Any()).Return(1).Times(1)

	message, err := f.service.SendAudio(callerCtx(), domain.SendAudioCommand{
		RoomID:      roomID,
		SenderKind:  "Dependent",
		SenderID:    identity.New(),
		Payload:     payload,
		ContentType: "audio/mpeg",
		DurationSec: "NaN",
	})

	req.NoError(err)
	req.Equal("https://cdn.example.com/voice/a.mp3", message.Audio.URL)
	req.NotNil(message.Audio.ExternalRef)
	req.Equal("voice/a.mp3", *message.Audio.ExternalRef)
	req.Nil(message.Audio.DurationSec)
}

func TestIngressService_SendAudio_Upload_Fails(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	cause := &errors.UploadError{Cause: stderrors.New("connection reset")}

	f.gateway.EXPECT().IsEnabled().Return(true).AnyTimes()
	f.gateway.EXPECT().UploadAudio(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.UploadedObject{}, cause).Times(1)
	// No message is created and nothing is broadcast
	f.repository.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)
	f.broadcaster.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := f.service.SendAudio(callerCtx(), domain.SendAudioCommand{
		RoomID:     identity.New(),
		SenderKind: "Primary",
		SenderID:   identity.New(),
		Payload:    []byte("payload"),
	})

	req.ErrorIs(err, errors.ErrUploadFailed)
	req.Equal(errors.ReasonUploadFailed, errors.ReasonCode(err))
	req.Equal(500, errors.MapToHTTPStatus(err))
	req.ErrorIs(errors.Cause(err), errors.ErrUploadFailed)
}

func TestIngressService_SendAudio_Missing_File(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.service.SendAudio(callerCtx(), domain.SendAudioCommand{
		RoomID:     identity.New(),
		SenderKind: "Primary",
		SenderID:   identity.New(),
	})

	req.ErrorIs(err, errors.ErrMissingFile)
}

func TestIngressService_SendAudio_Sniffs_Content_Type(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	wav := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)

	f.gateway.EXPECT().IsEnabled().Return(false).AnyTimes()
	f.repository.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(persisted).Times(1)
	f.broadcaster.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(0).Times(1)

	message, err := f.service.SendAudio(callerCtx(), domain.SendAudioCommand{
		RoomID:      identity.New(),
		SenderKind:  "Primary",
		SenderID:    identity.New(),
		Payload:     wav,
		ContentType: "application/octet-stream",
	})

	req.NoError(err)
	req.Equal("audio/wav", message.Audio.MimeType)
	req.True(strings.HasPrefix(message.Audio.URL, "data:audio/wav;base64,"))
}

func TestIngressService_GetMessages(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	roomID := identity.New()
	cursor := "next"

	f.repository.EXPECT().GetMessages(domain.RoomID(roomID), gomock.Nil()).
		Return([]domain.Message{{ID: "1"}}, &cursor, nil).Times(1)

	messages, next, err := f.service.GetMessages(callerCtx(), domain.GetMessagesCommand{RoomID: roomID})
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal(&cursor, next)

	_, _, err = f.service.GetMessages(callerCtx(), domain.GetMessagesCommand{RoomID: "nope"})
	req.ErrorIs(err, errors.ErrInvalidIdentifier)
}
