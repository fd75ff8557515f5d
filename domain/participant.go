// Package domain contains core concepts of the relay.
// This file defines the participant kinds allowed to send messages.
// No runtime, network, or UI logic should be added here.
package domain

// SenderKind tags which participant table a sender id resolves against.
type SenderKind string

const (
	PrimaryAccount   SenderKind = "Primary"
	DependentAccount SenderKind = "Dependent"
)

var senderKinds = map[string]SenderKind{
	string(PrimaryAccount):   PrimaryAccount,
	string(DependentAccount): DependentAccount,
}

func ParseSenderKind(raw string) (SenderKind, bool) {
	kind, ok := senderKinds[raw]
	return kind, ok
}
