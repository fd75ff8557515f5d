package repositories

import (
	"chat-relay/domain"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson"
)

type IParticipantRepository interface {
	Register(kind domain.SenderKind, id string) error
	Exists(kind domain.SenderKind, id string) (bool, error)
}

// ParticipantRepository is the participant directory a sender id is checked against.
// Each kind lives in its own key space, so the same id can be a primary
// account and unknown as a dependent one.
type ParticipantRepository struct {
	db *badger.DB
}

func NewParticipantRepository(db *badger.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

type DiskParticipant struct {
	ID           string `bson:"_id"`
	Kind         string `bson:"kind"`
	RegisteredAt int64  `bson:"registered_at"`
}

// Register is idempotent: registering a known participant keeps its original date.
func (p *ParticipantRepository) Register(kind domain.SenderKind, id string) error {
	data, err := bson.Marshal(DiskParticipant{
		ID:           id,
		Kind:         string(kind),
		RegisteredAt: time.Now().UTC().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	return p.db.Update(func(txn *badger.Txn) error {
		key := participantKey(kind, id)
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !stderrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

func (p *ParticipantRepository) Exists(kind domain.SenderKind, id string) (bool, error) {
	var found bool
	err := p.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(participantKey(kind, id))
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func participantKey(kind domain.SenderKind, id string) []byte {
	return []byte(fmt.Sprintf("participant:%s:%s", kind, id))
}
