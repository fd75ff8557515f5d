// Package domain contains core concepts of the relay.
// This file defines Message records and the rules that keep them immutable.
package domain

import (
	"time"
)

type MessageKind string

const (
	Text  MessageKind = "Text"
	Audio MessageKind = "Audio"
)

// Message is the unit of delivery.
// Once built by the storage collaborator it is never mutated: the synchronous
// response and every broadcast recipient observe the same value.
type Message struct {
	ID         string        `json:"id"`
	RoomID     RoomID        `json:"roomId"`
	SenderKind SenderKind    `json:"senderKind"`
	SenderID   string        `json:"senderId"`
	Kind       MessageKind   `json:"kind"`
	Text       string        `json:"text,omitempty"`
	Audio      *AudioPayload `json:"audio,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// AudioPayload describes where an audio attachment can be resolved.
type AudioPayload struct {
	URL         string   `json:"url"`
	DurationSec *float64 `json:"durationSec"`
	MimeType    string   `json:"mimeType"`
	SizeBytes   int64    `json:"sizeBytes"`
	ExternalRef *string  `json:"externalRef"`
}

// MessageDraft is a validated message waiting for an id and a timestamp.
type MessageDraft struct {
	RoomID     RoomID
	SenderKind SenderKind
	SenderID   string
	Kind       MessageKind
	Text       string
	Audio      *AudioPayload
}

// UploadedObject is what the media host returns for a stored payload.
type UploadedObject struct {
	URL         string
	ExternalRef string
}
