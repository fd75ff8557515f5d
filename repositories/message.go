//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IMessageRepository is the storage collaborator of the ingress service.
type IMessageRepository interface {
	Create(ctx context.Context, draft domain.MessageDraft) (domain.Message, error)
	GetMessages(roomID domain.RoomID, cursor *string) ([]domain.Message, *string, error)
}

type MessageRepository struct {
	db             *badger.DB
	log            *slog.Logger
	limitMessages  *int
	enforceSenders bool
	now            func() time.Time

	mu     sync.Mutex
	lastAt map[domain.RoomID]time.Time
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int, enforceSenders bool) *MessageRepository {
	return &MessageRepository{
		db:             db,
		log:            log,
		limitMessages:  limitMessages,
		enforceSenders: enforceSenders,
		now:            time.Now,
		lastAt:         make(map[domain.RoomID]time.Time),
	}
}

type DiskMessage struct {
	ID         primitive.ObjectID `bson:"_id"`
	Room       string             `bson:"room"`
	SenderKind string             `bson:"sender_kind"`
	SenderID   string             `bson:"sender_id"`
	Kind       string             `bson:"kind"`
	Text       string             `bson:"text,omitempty"`
	Audio      *DiskAudio         `bson:"audio,omitempty"`
	At         int64              `bson:"at"`
}

type DiskAudio struct {
	URL         string   `bson:"url"`
	DurationSec *float64 `bson:"duration_sec"`
	MimeType    string   `bson:"mime_type"`
	SizeBytes   int64    `bson:"size_bytes"`
	ExternalRef *string  `bson:"external_ref"`
}

// Create assigns the id and createdAt of a draft and persists it.
// The key is formatted as "msg:{room_id}:{timestamp_padded}:{id}":
//  1. 19-digit zero padding keeps chronological order lexicographical.
//  2. The id disambiguates messages written at the same nanosecond.
//
// createdAt never goes backwards within a room, even if the wall clock does.
func (m *MessageRepository) Create(ctx context.Context, draft domain.MessageDraft) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	at, err := m.nextTimestamp(draft.RoomID)
	if err != nil {
		return domain.Message{}, err
	}

	id := primitive.NewObjectID()
	message := domain.Message{
		ID:         id.Hex(),
		RoomID:     draft.RoomID,
		SenderKind: draft.SenderKind,
		SenderID:   draft.SenderID,
		Kind:       draft.Kind,
		Text:       draft.Text,
		Audio:      draft.Audio,
		CreatedAt:  at,
	}

	bytes, err := bson.Marshal(fromMessage(id, message))
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshal failed: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if m.enforceSenders {
			_, err := txn.Get(participantKey(draft.SenderKind, draft.SenderID))
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				return errors.ErrSenderNotFound
			}
			if err != nil {
				return err
			}
		}
		return txn.Set(messageKey(message.RoomID, at, message.ID), bytes)
	})
	if err != nil {
		return domain.Message{}, err
	}

	m.lastAt[draft.RoomID] = at
	return message, nil
}

// GetMessages retrieves messages for a specific room using a reverse prefix scan.
// Thanks to the padded timestamp in the key, the newest message comes first.
// It stops collecting messages once the configured limitMessages is reached.
// The returned cursor is nil unless older messages remain.
func (m *MessageRepository) GetMessages(roomID domain.RoomID, cursor *string) ([]domain.Message, *string, error) {
	var diskMessages []DiskMessage
	var lastKey string
	var hasMore bool
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(roomID)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(diskMessages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				hasMore = true
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefix):])
			err := item.Value(func(value []byte) error {
				var diskMessage DiskMessage
				if err := bson.Unmarshal(value, &diskMessage); err != nil {
					return fmt.Errorf("%w: %v", errors.ErrCorruptedRecord, err)
				}
				diskMessages = append(diskMessages, diskMessage)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(diskMessages) == 0 {
		return nil, nil, nil
	}

	messages := lo.Map(diskMessages, func(item DiskMessage, _ int) domain.Message {
		return toMessage(item)
	})
	if !hasMore {
		return messages, nil, nil
	}
	return messages, &lastKey, nil
}

func (m *MessageRepository) nextTimestamp(roomID domain.RoomID) (time.Time, error) {
	at := m.now().UTC()
	last, ok := m.lastAt[roomID]
	if !ok {
		var err error
		if last, err = m.loadLastAt(roomID); err != nil {
			return time.Time{}, err
		}
	}
	if at.Before(last) {
		return last, nil
	}
	return at, nil
}

// loadLastAt reads the timestamp of the newest stored message of a room.
func (m *MessageRepository) loadLastAt(roomID domain.RoomID) (time.Time, error) {
	var last time.Time
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(roomID)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		it.Seek(append(prefix, []byte("9999999999999999999")...))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		rest := string(it.Item().Key()[len(prefix):])
		nanos, err := strconv.ParseInt(strings.SplitN(rest, ":", 2)[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrCorruptedRecord, err)
		}
		last = time.Unix(0, nanos).UTC()
		return nil
	})
	return last, err
}

func roomPrefix(roomID domain.RoomID) []byte {
	return []byte(fmt.Sprintf("msg:%s:", roomID))
}

func messageKey(roomID domain.RoomID, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", roomID, at.UnixNano(), id))
}

func fromMessage(id primitive.ObjectID, message domain.Message) DiskMessage {
	diskMessage := DiskMessage{
		ID:         id,
		Room:       string(message.RoomID),
		SenderKind: string(message.SenderKind),
		SenderID:   message.SenderID,
		Kind:       string(message.Kind),
		Text:       message.Text,
		At:         message.CreatedAt.UnixNano(),
	}
	if audio := message.Audio; audio != nil {
		diskMessage.Audio = &DiskAudio{
			URL:         audio.URL,
			DurationSec: audio.DurationSec,
			MimeType:    audio.MimeType,
			SizeBytes:   audio.SizeBytes,
			ExternalRef: audio.ExternalRef,
		}
	}
	return diskMessage
}

func toMessage(diskMessage DiskMessage) domain.Message {
	message := domain.Message{
		ID:         diskMessage.ID.Hex(),
		RoomID:     domain.RoomID(diskMessage.Room),
		SenderKind: domain.SenderKind(diskMessage.SenderKind),
		SenderID:   diskMessage.SenderID,
		Kind:       domain.MessageKind(diskMessage.Kind),
		Text:       diskMessage.Text,
		CreatedAt:  time.Unix(0, diskMessage.At).UTC(),
	}
	if audio := diskMessage.Audio; audio != nil {
		message.Audio = &domain.AudioPayload{
			URL:         audio.URL,
			DurationSec: audio.DurationSec,
			MimeType:    audio.MimeType,
			SizeBytes:   audio.SizeBytes,
			ExternalRef: audio.ExternalRef,
		}
	}
	return message
}
