// Package protocol defines the signaling wire format: a tagged union of
// JSON messages dispatched on a "type" field.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/Ameba1399/MES/internal/domain"
)

type Type string

const (
	TypeJoin           Type = "join"
	TypeLeave          Type = "leave"
	TypeRosterSnapshot Type = "roster-snapshot"
	TypePeerJoined     Type = "peer-joined"
	TypePeerLeft       Type = "peer-left"
	TypeOffer          Type = "offer"
	TypeAnswer         Type = "answer"
	TypeICECandidate   Type = "ice-candidate"
	TypeChat           Type = "chat"
	TypeControl        Type = "control"
	TypeRosterQuery    Type = "roster-query"
	TypeError          Type = "error"
)

// ErrUnknownType marks a message whose tag matches no known kind.
// Unknown tags are rejected, not silently ignored.
var ErrUnknownType = errors.New("unknown message type")

// Message is one signaling message. Concrete kinds carry their own tag;
// Marshal fills it in, Decode dispatches on it.
type Message interface {
	Kind() Type
}

// Join is the first message a client sends on a fresh channel. An empty
// identity asks the server to assign one.
type Join struct {
	Type        Type            `json:"type"`
	Identity    domain.Identity `json:"identity,omitempty"`
	DisplayName string          `json:"displayName"`
}

// Leave is a best-effort bye. Channel closure is the authoritative
// disconnect signal; this only speeds it up.
type Leave struct {
	Type Type `json:"type"`
}

// RosterSnapshot goes to the joining client only and lists everyone
// already present.
type RosterSnapshot struct {
	Type         Type                 `json:"type"`
	Self         domain.Identity      `json:"self"`
	Participants []domain.Participant `json:"participants"`
}

// PeerJoined announces a new member to the existing ones.
type PeerJoined struct {
	Type        Type            `json:"type"`
	Identity    domain.Identity `json:"identity"`
	DisplayName string          `json:"displayName"`
}

// PeerLeft announces a departure to the remaining members.
type PeerLeft struct {
	Type     Type            `json:"type"`
	Identity domain.Identity `json:"identity"`
}

// Offer carries an initiator's session description to one peer.
// The server stamps From; clients cannot spoof it.
type Offer struct {
	Type Type                      `json:"type"`
	From domain.Identity           `json:"from"`
	To   domain.Identity           `json:"to"`
	SDP  webrtc.SessionDescription `json:"sessionDescription"`
}

// Answer completes the handshake Offer started.
type Answer struct {
	Type Type                      `json:"type"`
	From domain.Identity           `json:"from"`
	To   domain.Identity           `json:"to"`
	SDP  webrtc.SessionDescription `json:"sessionDescription"`
}

// ICECandidate carries one trickled candidate between a pair.
type ICECandidate struct {
	Type      Type                    `json:"type"`
	From      domain.Identity         `json:"from"`
	To        domain.Identity         `json:"to"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// Chat is a text message; empty To means broadcast to the room.
type Chat struct {
	Type Type            `json:"type"`
	From domain.Identity `json:"from"`
	To   domain.Identity `json:"to,omitempty"`
	Text string          `json:"text"`
}

// Control broadcasts a sender's local media state (muted microphone,
// camera off) so peers can annotate their view. Always room-wide.
type Control struct {
	Type    Type            `json:"type"`
	From    domain.Identity `json:"from"`
	Media   string          `json:"media"`
	Enabled bool            `json:"enabled"`
}

// RosterQuery asks the server to resend the roster snapshot, letting a
// client resynchronize its roster view on demand.
type RosterQuery struct {
	Type Type `json:"type"`
}

// Error reports a server-side fault to one client (e.g. duplicate
// identity on join).
type Error struct {
	Type   Type   `json:"type"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (Join) Kind() Type           { return TypeJoin }
func (Leave) Kind() Type          { return TypeLeave }
func (RosterSnapshot) Kind() Type { return TypeRosterSnapshot }
func (PeerJoined) Kind() Type     { return TypePeerJoined }
func (PeerLeft) Kind() Type       { return TypePeerLeft }
func (Offer) Kind() Type          { return TypeOffer }
func (Answer) Kind() Type         { return TypeAnswer }
func (ICECandidate) Kind() Type   { return TypeICECandidate }
func (Chat) Kind() Type           { return TypeChat }
func (Control) Kind() Type        { return TypeControl }
func (RosterQuery) Kind() Type    { return TypeRosterQuery }
func (Error) Kind() Type          { return TypeError }

// Marshal encodes m for the wire, filling in the type tag so callers
// cannot send a mistagged message.
func Marshal(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Join:
		v.Type = TypeJoin
		return json.Marshal(v)
	case Leave:
		v.Type = TypeLeave
		return json.Marshal(v)
	case RosterSnapshot:
		v.Type = TypeRosterSnapshot
		if v.Participants == nil {
			v.Participants = []domain.Participant{}
		}
		return json.Marshal(v)
	case PeerJoined:
		v.Type = TypePeerJoined
		return json.Marshal(v)
	case PeerLeft:
		v.Type = TypePeerLeft
		return json.Marshal(v)
	case Offer:
		v.Type = TypeOffer
		return json.Marshal(v)
	case Answer:
		v.Type = TypeAnswer
		return json.Marshal(v)
	case ICECandidate:
		v.Type = TypeICECandidate
		return json.Marshal(v)
	case Chat:
		v.Type = TypeChat
		return json.Marshal(v)
	case Control:
		v.Type = TypeControl
		return json.Marshal(v)
	case RosterQuery:
		v.Type = TypeRosterQuery
		return json.Marshal(v)
	case Error:
		v.Type = TypeError
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
}

// Decode parses one wire frame into its concrete message kind.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bad envelope: %w", err)
	}

	var (
		m   Message
		err error
	)
	switch env.Type {
	case TypeJoin:
		m, err = decodeAs[Join](data)
	case TypeLeave:
		m, err = decodeAs[Leave](data)
	case TypeRosterSnapshot:
		m, err = decodeAs[RosterSnapshot](data)
	case TypePeerJoined:
		m, err = decodeAs[PeerJoined](data)
	case TypePeerLeft:
		m, err = decodeAs[PeerLeft](data)
	case TypeOffer:
		m, err = decodeAs[Offer](data)
	case TypeAnswer:
		m, err = decodeAs[Answer](data)
	case TypeICECandidate:
		m, err = decodeAs[ICECandidate](data)
	case TypeChat:
		m, err = decodeAs[Chat](data)
	case TypeControl:
		m, err = decodeAs[Control](data)
	case TypeRosterQuery:
		m, err = decodeAs[RosterQuery](data)
	case TypeError:
		m, err = decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return m, err
}

func decodeAs[T Message](data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("bad %T payload: %w", v, err)
	}
	return v, nil
}
