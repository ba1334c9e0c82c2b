package domain

import "errors"

var (
	// ErrDuplicateIdentity is returned by a join when the identity is
	// already present in the room. Policy is reject, not evict: replacing
	// the live channel would orphan the previous client's peer links.
	ErrDuplicateIdentity = errors.New("identity already present in room")

	// ErrUnknownTarget marks a relay addressed to an absent identity.
	// Benign: the target may have just left. Logged, never surfaced to
	// the sender.
	ErrUnknownTarget = errors.New("unknown relay target")

	// ErrRoomNotFound is returned by operations addressing a room that
	// was never created.
	ErrRoomNotFound = errors.New("room not found")
)
