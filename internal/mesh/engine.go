package mesh

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Ameba1399/MES/internal/domain"
	"github.com/Ameba1399/MES/internal/protocol"
)

// SignalSender delivers signaling messages to the relay. Implementations
// must be safe for concurrent use.
type SignalSender interface {
	Send(protocol.Message) error
}

var ErrEngineClosed = errors.New("engine closed")

type rosterEntry struct {
	displayName string
	// weInitiate is decided once per pair and never changes: true when
	// the peer was already present when we joined (we offer), false
	// when the peer joined after us (they offer). Exactly one side of
	// every pair offers, so glare cannot occur.
	weInitiate bool
}

// Engine reconciles the roster against the set of peer links and drives
// each link's negotiation. All entry points serialize on one mutex —
// the handlers form a cooperative sequence, never interleaving for the
// same client — while a link awaiting its answer holds state instead of
// blocking, so other peers keep progressing.
type Engine struct {
	transport Transport
	signal    SignalSender
	tracks    *TrackManager

	mu     sync.Mutex
	self   domain.Identity
	roster map[domain.Identity]*rosterEntry
	links  map[domain.Identity]*PeerLink
	closed bool

	// evMu guards events against emit-after-close from transport
	// callbacks, which run outside the engine lock
	evMu     sync.Mutex
	evClosed bool
	events   chan Event
}

func NewEngine(transport Transport, signal SignalSender, tracks *TrackManager) *Engine {
	if tracks == nil {
		tracks = NewTrackManager(nil, nil)
	}
	return &Engine{
		transport: transport,
		signal:    signal,
		tracks:    tracks,
		roster:    make(map[domain.Identity]*rosterEntry),
		links:     make(map[domain.Identity]*PeerLink),
		events:    make(chan Event, 64),
	}
}

// Events is the outbound notification stream for the user-facing layer.
// Closed by Close.
func (e *Engine) Events() <-chan Event { return e.events }

func (e *Engine) Self() domain.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self
}

// Roster returns the current roster view, self excluded.
func (e *Engine) Roster() []domain.Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Participant, 0, len(e.roster))
	for id, entry := range e.roster {
		out = append(out, domain.Participant{Identity: id, DisplayName: entry.displayName})
	}
	return out
}

// LinkState reports the state of the link to one peer, if any exists.
func (e *Engine) LinkState(peer domain.Identity) (LinkState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.links[peer]
	if !ok {
		return 0, false
	}
	return l.State(), true
}

// HandleMessage processes one inbound signaling message.
func (e *Engine) HandleMessage(m protocol.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	switch msg := m.(type) {
	case protocol.RosterSnapshot:
		e.handleSnapshot(msg)
	case protocol.PeerJoined:
		e.handlePeerJoined(msg)
	case protocol.PeerLeft:
		e.handlePeerLeft(msg)
	case protocol.Offer:
		e.handleOffer(msg)
	case protocol.Answer:
		e.handleAnswer(msg)
	case protocol.ICECandidate:
		e.handleCandidate(msg)
	case protocol.Chat:
		e.emit(Event{Kind: EventChat, Peer: msg.From, Text: msg.Text})
	case protocol.Control:
		e.emit(Event{Kind: EventPeerControl, Peer: msg.From, Media: MediaKind(msg.Media), Enabled: msg.Enabled})
	case protocol.Error:
		e.emit(Event{Kind: EventError, Err: fmt.Errorf("server: %s (%s)", msg.Reason, msg.Code)})
	default:
		log.Warn().Str("module", "mesh").Str("type", string(m.Kind())).Msg("unexpected message kind")
	}
}

func (e *Engine) handleSnapshot(msg protocol.RosterSnapshot) {
	e.self = msg.Self
	for _, p := range msg.Participants {
		if p.Identity == e.self {
			continue
		}
		if _, ok := e.roster[p.Identity]; !ok {
			// present before us: we initiate
			e.roster[p.Identity] = &rosterEntry{displayName: p.DisplayName, weInitiate: true}
			e.emit(Event{Kind: EventRosterAdded, Peer: p.Identity, DisplayName: p.DisplayName})
		}
	}
	e.reconcile()
}

func (e *Engine) handlePeerJoined(msg protocol.PeerJoined) {
	if msg.Identity == e.self {
		return
	}
	if l, ok := e.links[msg.Identity]; ok && l.State().Terminal() {
		// the peer is re-joining after a failure: allow a fresh link
		delete(e.links, msg.Identity)
	}
	if _, ok := e.roster[msg.Identity]; !ok {
		// joined after us: the newcomer initiates, never us
		e.roster[msg.Identity] = &rosterEntry{displayName: msg.DisplayName, weInitiate: false}
		e.emit(Event{Kind: EventRosterAdded, Peer: msg.Identity, DisplayName: msg.DisplayName})
	}
	e.reconcile()
}

func (e *Engine) handlePeerLeft(msg protocol.PeerLeft) {
	entry, ok := e.roster[msg.Identity]
	if !ok {
		return
	}
	delete(e.roster, msg.Identity)
	e.emit(Event{Kind: EventRosterRemoved, Peer: msg.Identity, DisplayName: entry.displayName})
	e.reconcile()
}

// reconcile diffs the roster against the live links: wanted links are
// created (and offered, when we are the initiator for the pair), links
// to departed peers are torn down. Idempotent: re-running with an
// unchanged roster produces no signaling and no state change.
func (e *Engine) reconcile() {
	// have \ wanted: tear down
	for id, l := range e.links {
		if _, wanted := e.roster[id]; wanted {
			continue
		}
		e.closeLink(l, LinkClosed)
		delete(e.links, id)
	}

	// wanted \ have: connect. A peer whose pair-initiator is the other
	// side gets its link on offer arrival. A link already negotiating
	// or connected is left alone; a failed link is not retried until a
	// roster event re-adds the peer.
	for id, entry := range e.roster {
		if _, ok := e.links[id]; ok {
			continue
		}
		if !entry.weInitiate {
			continue
		}
		e.offerTo(id)
	}
}

func (e *Engine) offerTo(id domain.Identity) {
	l := e.createLink(id)
	if l == nil {
		return
	}
	offer, err := l.initiate()
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("initiate")
		e.emitLinkState(l)
		return
	}
	e.emitLinkState(l)
	if err := e.signal.Send(protocol.Offer{To: id, SDP: offer}); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("send offer")
	}
}

func (e *Engine) handleOffer(msg protocol.Offer) {
	if l, ok := e.links[msg.From]; ok {
		if !l.State().Terminal() {
			log.Warn().Str("module", "mesh").Str("peer", string(msg.From)).Str("state", l.State().String()).Msg("offer ignored: negotiation conflict")
			return
		}
		// stale terminal link; the peer is renegotiating from scratch
		delete(e.links, msg.From)
	}
	if _, ok := e.roster[msg.From]; !ok {
		// roster message may still be in flight on another channel leg
		log.Warn().Str("module", "mesh").Str("peer", string(msg.From)).Msg("offer from peer outside roster view")
		e.roster[msg.From] = &rosterEntry{weInitiate: false}
		e.emit(Event{Kind: EventRosterAdded, Peer: msg.From})
	}

	l := e.createLink(msg.From)
	if l == nil {
		return
	}
	answer, err := l.acceptOffer(msg.SDP)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(msg.From)).Msg("accept offer")
		e.emitLinkState(l)
		return
	}
	e.emitLinkState(l)
	if err := e.signal.Send(protocol.Answer{To: msg.From, SDP: answer}); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(msg.From)).Msg("send answer")
	}
}

func (e *Engine) handleAnswer(msg protocol.Answer) {
	l, ok := e.links[msg.From]
	if !ok {
		log.Warn().Str("module", "mesh").Str("peer", string(msg.From)).Msg("answer for unknown link")
		return
	}
	if err := l.acceptAnswer(msg.SDP); err != nil {
		if errors.Is(err, ErrNegotiationConflict) {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(msg.From)).Msg("answer ignored")
			return
		}
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(msg.From)).Msg("accept answer")
	}
	e.emitLinkState(l)
}

func (e *Engine) handleCandidate(msg protocol.ICECandidate) {
	l, ok := e.links[msg.From]
	if !ok {
		log.Warn().Str("module", "mesh").Str("peer", string(msg.From)).Msg("candidate for unknown link")
		return
	}
	l.addCandidate(msg.Candidate)
}

// createLink builds the transport connection for one peer, binds the
// current local tracks and wires the transport callbacks. Returns nil
// (after emitting an error event) on transport failure.
func (e *Engine) createLink(id domain.Identity) *PeerLink {
	conn, err := e.transport.NewConnection(id)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("new transport connection")
		e.emit(Event{Kind: EventError, Peer: id, Err: err})
		return nil
	}

	l := newPeerLink(id, conn)

	conn.OnCandidate(func(ci webrtc.ICECandidateInit) {
		if err := e.signal.Send(protocol.ICECandidate{To: id, Candidate: ci}); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("send candidate")
		}
	})
	conn.OnTrack(func(t *webrtc.TrackRemote) {
		e.emit(Event{Kind: EventRemoteTrack, Peer: id, Track: t})
	})
	conn.OnStateChange(func(s webrtc.PeerConnectionState) {
		e.onTransportState(id, s)
	})

	if err := l.bindTracks(e.tracks.Outgoing()); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("bind tracks")
		l.shutdown(LinkFailed)
		e.emit(Event{Kind: EventError, Peer: id, Err: err})
		return nil
	}

	e.links[id] = l
	return l
}

// onTransportState handles connection-state reports from the transport.
// Unrecoverable states drive the link to LinkFailed; there is no
// automatic retry.
func (e *Engine) onTransportState(id domain.Identity, s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
	default:
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.links[id]
	if !ok || l.State().Terminal() {
		return
	}
	log.Warn().Str("module", "mesh").Str("peer", string(id)).Str("transport_state", s.String()).Msg("transport failure")
	e.closeLink(l, LinkFailed)
}

// ReplaceOutgoingVideo makes t the outgoing video track on every live
// link and the authoritative track for links still to come. Atomic with
// respect to new links: both run under the engine lock.
func (e *Engine) ReplaceOutgoingVideo(t webrtc.TrackLocal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.tracks.SetOutgoingVideo(t)
	e.rebindVideoLocked(t)
	return nil
}

// StartScreenShare swaps the screen track in for the camera on every
// live link. Stopping, explicit or via the capture source ending,
// funnels through StopScreenShare, the single revert path.
func (e *Engine) StartScreenShare(screen webrtc.TrackLocal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.rebindVideoLocked(e.tracks.StartScreenShare(screen))
	return nil
}

// StopScreenShare restores the camera track. Idempotent; also the
// landing point for the transport's "source ended" notification.
func (e *Engine) StopScreenShare() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.tracks.Sharing() {
		return
	}
	e.rebindVideoLocked(e.tracks.StopScreenShare())
}

// rebindVideoLocked swaps the outgoing video on every live link,
// including links still negotiating: a link that reaches connected
// after the swap must carry the new track, not the one it bound at
// creation time.
func (e *Engine) rebindVideoLocked(t webrtc.TrackLocal) {
	for _, l := range e.links {
		if l.State().Terminal() {
			continue
		}
		if err := l.replaceVideo(t); err != nil {
			log.Error().Err(err).Str("module", "mesh").Str("peer", string(l.Remote())).Msg("replace video track")
		}
	}
	e.emit(Event{Kind: EventVideoSourceChanged, LocalTrack: t})
}

// ToggleEnabled flips the local enabled flag for the given media kind.
// Local mute only: nothing is renegotiated or replaced. The new state is
// announced to the room so peers can annotate their view.
func (e *Engine) ToggleEnabled(kind MediaKind) bool {
	e.mu.Lock()
	enabled := e.tracks.Toggle(kind)
	e.emit(Event{Kind: EventLocalMute, Media: kind, Enabled: enabled})
	closed := e.closed
	e.mu.Unlock()

	if !closed {
		if err := e.signal.Send(protocol.Control{Media: string(kind), Enabled: enabled}); err != nil {
			log.Debug().Err(err).Str("module", "mesh").Msg("announce media state")
		}
	}
	return enabled
}

// Tracks exposes the track manager (preview composition, producers
// checking Enabled).
func (e *Engine) Tracks() *TrackManager { return e.tracks }

// SendChat sends a chat message; empty to broadcasts to the room.
func (e *Engine) SendChat(to domain.Identity, text string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.mu.Unlock()
	return e.signal.Send(protocol.Chat{To: to, Text: text})
}

// Close leaves the call: every in-flight negotiation is cancelled by
// driving its link straight to LinkClosed, a best-effort leave is sent,
// and the event stream is closed. Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for id, l := range e.links {
		e.closeLink(l, LinkClosed)
		delete(e.links, id)
	}
	e.roster = make(map[domain.Identity]*rosterEntry)
	if err := e.signal.Send(protocol.Leave{}); err != nil {
		log.Debug().Err(err).Str("module", "mesh").Msg("best-effort leave")
	}
	e.closed = true

	e.evMu.Lock()
	e.evClosed = true
	close(e.events)
	e.evMu.Unlock()
}

func (e *Engine) closeLink(l *PeerLink, final LinkState) {
	l.shutdown(final)
	e.emitLinkState(l)
}

func (e *Engine) emitLinkState(l *PeerLink) {
	e.emit(Event{Kind: EventLinkState, Peer: l.Remote(), State: l.State()})
}

// emit never blocks; a full event buffer drops the notification, which
// is acceptable for the at-least-once-ignorable contract.
func (e *Engine) emit(ev Event) {
	e.evMu.Lock()
	defer e.evMu.Unlock()
	if e.evClosed {
		return
	}
	select {
	case e.events <- ev:
	default:
		log.Warn().Str("module", "mesh").Str("event", ev.Kind.String()).Msg("event buffer full, dropping")
	}
}
