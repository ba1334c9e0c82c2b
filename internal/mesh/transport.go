// Package mesh orchestrates a full-mesh call: it reconciles the room
// roster against a set of point-to-point peer links, drives each link
// through its negotiation state machine, and keeps the outgoing media
// tracks bound consistently across links.
package mesh

import (
	"github.com/pion/webrtc/v4"

	"github.com/Ameba1399/MES/internal/domain"
)

// Transport is the opaque media capability: capture, encode, NAT
// traversal and actual delivery live behind it. The orchestrator only
// drives negotiation and track binding through this surface.
type Transport interface {
	NewConnection(remote domain.Identity) (Connection, error)
}

// Connection is one transport-level connection to a single remote peer.
// It is exclusively owned by its PeerLink and closed exactly once.
type Connection interface {
	AddTrack(track webrtc.TrackLocal) (Sender, error)
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddRemoteCandidate(webrtc.ICECandidateInit) error

	// OnCandidate sets a callback for newly gathered local candidates.
	OnCandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(*webrtc.TrackRemote))
	// OnStateChange sets a callback for connection-state reports.
	// Notifications are at-least-once; duplicates must be ignorable.
	OnStateChange(func(webrtc.PeerConnectionState))

	Close()
}

// Sender is the handle for one outbound track binding; ReplaceTrack
// swaps the media source without renegotiation.
type Sender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(webrtc.TrackLocal) error
}
