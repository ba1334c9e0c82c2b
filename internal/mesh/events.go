package mesh

import (
	"github.com/pion/webrtc/v4"

	"github.com/Ameba1399/MES/internal/domain"
)

type EventKind int

const (
	// EventRosterAdded: a participant entered the local roster view.
	EventRosterAdded EventKind = iota
	// EventRosterRemoved: a participant left the local roster view.
	EventRosterRemoved
	// EventLinkState: a peer link changed state. At-least-once;
	// duplicate notifications are ignorable.
	EventLinkState
	// EventRemoteTrack: a remote media track arrived on a link.
	EventRemoteTrack
	// EventChat: a chat message arrived.
	EventChat
	// EventVideoSourceChanged: the outgoing video track was replaced.
	EventVideoSourceChanged
	// EventLocalMute: a local track's enabled flag flipped.
	EventLocalMute
	// EventPeerControl: a remote peer announced its media state
	// (muted microphone, camera off).
	EventPeerControl
	// EventError: a recovered fault the user-facing layer should see.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventRosterAdded:
		return "roster-added"
	case EventRosterRemoved:
		return "roster-removed"
	case EventLinkState:
		return "link-state"
	case EventRemoteTrack:
		return "remote-track"
	case EventChat:
		return "chat"
	case EventVideoSourceChanged:
		return "video-source-changed"
	case EventLocalMute:
		return "local-mute"
	case EventPeerControl:
		return "peer-control"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is an outbound notification to the user-facing layer. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind        EventKind
	Peer        domain.Identity
	DisplayName string
	State       LinkState
	Track       *webrtc.TrackRemote
	// LocalTrack is the outgoing track that became current
	// (EventVideoSourceChanged).
	LocalTrack webrtc.TrackLocal
	Text       string
	Media      MediaKind
	Enabled    bool
	Err        error
}
