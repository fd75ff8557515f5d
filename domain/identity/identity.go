// Package identity checks identifiers against the storage engine's format
// before any side effect happens.
package identity

import (
	"chat-relay/errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// InvalidIdentifierError names the field holding a malformed identifier.
type InvalidIdentifierError struct {
	Field string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("%s must be a 24 character hexadecimal identifier", e.Field)
}

func (e *InvalidIdentifierError) Unwrap() error {
	return errors.ErrInvalidIdentifier
}

// Validate accepts only canonical ObjectID hex strings.
func Validate(candidate, fieldName string) error {
	if !primitive.IsValidObjectID(candidate) {
		return &InvalidIdentifierError{Field: fieldName}
	}
	return nil
}

// New returns a fresh identifier in the same format Validate accepts.
func New() string {
	return primitive.NewObjectID().Hex()
}
