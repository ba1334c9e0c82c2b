package mesh

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Ameba1399/MES/internal/domain"
)

// LinkState is the negotiation state of one peer link.
type LinkState int

const (
	LinkNew LinkState = iota
	// LinkAwaitingAnswer: initiator sent its offer, answer pending.
	LinkAwaitingAnswer
	// LinkAnswering: responder is applying an offer. Transient; the
	// answer itself completes negotiation on this side.
	LinkAnswering
	LinkConnected
	LinkClosed
	LinkFailed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkAwaitingAnswer:
		return "awaiting-answer"
	case LinkAnswering:
		return "answering"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	case LinkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the link is done for roster purposes.
// LinkFailed and LinkClosed are treated identically by the reconciler.
func (s LinkState) Terminal() bool {
	return s == LinkClosed || s == LinkFailed
}

// ErrNegotiationConflict marks signaling that does not fit the link's
// current state (e.g. a second offer while connected). Ignored and
// logged, never a protocol error: the channel guarantees per-sender
// ordering, not exactly-once delivery across reconnects.
var ErrNegotiationConflict = errors.New("negotiation conflict")

// PeerLink is the local handle on the connection to one remote peer.
// All methods run under the engine lock; the link itself carries no
// locking. The transport connection is owned by the link and closed
// exactly once, on entry to a terminal state.
type PeerLink struct {
	remote domain.Identity
	conn   Connection
	state  LinkState

	audioSender Sender
	videoSender Sender

	// candidates arriving before the remote description are buffered
	// and flushed, in arrival order, once it is set
	pending        []webrtc.ICECandidateInit
	haveRemoteDesc bool
}

func newPeerLink(remote domain.Identity, conn Connection) *PeerLink {
	return &PeerLink{remote: remote, conn: conn, state: LinkNew}
}

func (l *PeerLink) Remote() domain.Identity { return l.remote }
func (l *PeerLink) State() LinkState        { return l.state }

// bindTracks attaches the current local tracks to the connection and
// remembers the senders by kind for later replacement.
func (l *PeerLink) bindTracks(tracks []webrtc.TrackLocal) error {
	for _, t := range tracks {
		sender, err := l.conn.AddTrack(t)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			l.audioSender = sender
		case webrtc.RTPCodecTypeVideo:
			l.videoSender = sender
		}
	}
	return nil
}

// initiate runs the initiator path: create and apply the local offer,
// then move to LinkAwaitingAnswer. The caller relays the offer.
func (l *PeerLink) initiate() (webrtc.SessionDescription, error) {
	if l.state != LinkNew {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: initiate in state %s", ErrNegotiationConflict, l.state)
	}
	offer, err := l.conn.CreateOffer()
	if err != nil {
		l.shutdown(LinkFailed)
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.conn.SetLocalDescription(offer); err != nil {
		l.shutdown(LinkFailed)
		return webrtc.SessionDescription{}, fmt.Errorf("apply local offer: %w", err)
	}
	l.state = LinkAwaitingAnswer
	return offer, nil
}

// acceptOffer runs the responder path: apply the remote offer, create
// and apply the local answer, and move straight to LinkConnected — the
// answer completes negotiation on this side. The caller relays the
// answer.
func (l *PeerLink) acceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if l.state != LinkNew {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: offer in state %s", ErrNegotiationConflict, l.state)
	}
	l.state = LinkAnswering
	if err := l.conn.SetRemoteDescription(offer); err != nil {
		l.shutdown(LinkFailed)
		return webrtc.SessionDescription{}, fmt.Errorf("apply remote offer: %w", err)
	}
	l.remoteDescSet()

	answer, err := l.conn.CreateAnswer()
	if err != nil {
		l.shutdown(LinkFailed)
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.conn.SetLocalDescription(answer); err != nil {
		l.shutdown(LinkFailed)
		return webrtc.SessionDescription{}, fmt.Errorf("apply local answer: %w", err)
	}
	l.state = LinkConnected
	return answer, nil
}

// acceptAnswer completes the initiator path.
func (l *PeerLink) acceptAnswer(answer webrtc.SessionDescription) error {
	if l.state != LinkAwaitingAnswer {
		return fmt.Errorf("%w: answer in state %s", ErrNegotiationConflict, l.state)
	}
	if err := l.conn.SetRemoteDescription(answer); err != nil {
		l.shutdown(LinkFailed)
		return fmt.Errorf("apply remote answer: %w", err)
	}
	l.remoteDescSet()
	l.state = LinkConnected
	return nil
}

// addCandidate applies a remote candidate immediately when the remote
// description exists, buffers it otherwise. Candidates never change the
// link state.
func (l *PeerLink) addCandidate(ci webrtc.ICECandidateInit) {
	if l.state.Terminal() {
		return
	}
	if !l.haveRemoteDesc {
		l.pending = append(l.pending, ci)
		return
	}
	if err := l.conn.AddRemoteCandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(l.remote)).Msg("add remote candidate")
	}
}

func (l *PeerLink) remoteDescSet() {
	l.haveRemoteDesc = true
	for _, ci := range l.pending {
		if err := l.conn.AddRemoteCandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(l.remote)).Msg("flush buffered candidate")
		}
	}
	l.pending = nil
}

// replaceVideo swaps the outbound video track without renegotiation.
// A link bound without video (receive-only join) has nothing to swap.
func (l *PeerLink) replaceVideo(t webrtc.TrackLocal) error {
	if l.videoSender == nil {
		return nil
	}
	return l.videoSender.ReplaceTrack(t)
}

// shutdown drives the link to a terminal state, releasing the transport
// connection. Idempotent; the first terminal state wins.
func (l *PeerLink) shutdown(final LinkState) {
	if l.state.Terminal() {
		return
	}
	l.state = final
	l.pending = nil
	l.audioSender = nil
	l.videoSender = nil
	l.conn.Close()
}
