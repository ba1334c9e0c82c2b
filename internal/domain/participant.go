// Package domain contains entities without logic, just meta-data.
package domain

type (
	// RoomID names one isolated namespace of participants.
	RoomID string
	// Identity is a participant identifier, unique within a room at a
	// point in time. Reconnecting clients may reuse a value.
	Identity string
)

const MaxDisplayNameLen = 36

// Participant is one member of a room as the roster sees it.
// The display name is user-supplied and not guaranteed unique.
type Participant struct {
	Identity    Identity `json:"identity"`
	DisplayName string   `json:"displayName"`
}

// NewParticipant avoids raw literals in adapters and clamps the
// user-supplied name. The clamp counts runes, not bytes, so a
// multi-byte name is never cut mid-character.
func NewParticipant(id Identity, displayName string) Participant {
	if r := []rune(displayName); len(r) > MaxDisplayNameLen {
		displayName = string(r[:MaxDisplayNameLen])
	}
	if displayName == "" {
		displayName = "guest"
	}
	return Participant{Identity: id, DisplayName: displayName}
}
