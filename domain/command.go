package domain

// SendTextCommand is a raw, not yet validated text send request.
type SendTextCommand struct {
	RoomID     string
	SenderKind string
	SenderID   string
	Text       string
}

// SendAudioCommand is a raw, not yet validated audio send request.
// ContentType is the declared type; it is sniffed from Payload when empty.
type SendAudioCommand struct {
	RoomID      string
	SenderKind  string
	SenderID    string
	Payload     []byte
	ContentType string
	FileName    string
	DurationSec string
}

type GetMessagesCommand struct {
	RoomID string
	Cursor *string
}
