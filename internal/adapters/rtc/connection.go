// Package rtc implements the mesh transport capability over pion.
package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Ameba1399/MES/internal/domain"
	"github.com/Ameba1399/MES/internal/mesh"
)

func DefaultSTUNServers() []string {
	return []string{
		"stun:stun.l.google.com:19302",
		"stun:stun.cloudflare.com:3478",
	}
}

type Transport struct {
	cfg webrtc.Configuration
}

func NewTransport(stunServers []string) *Transport {
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers()
	}
	return &Transport{
		cfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
		},
	}
}

func (t *Transport) NewConnection(remote domain.Identity) (mesh.Connection, error) {
	pc, err := webrtc.NewPeerConnection(t.cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{pc: pc, remote: remote}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(c.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		if c.onTrack != nil {
			c.onTrack(track)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(c.remote)).Str("state", s.String()).Msg("peer connection state")
		if c.onState != nil {
			c.onState(s)
		}
	})

	return c, nil
}

// Connection wraps one pion PeerConnection for a single remote peer.
// Callbacks are set by the owning peer link before negotiation starts.
type Connection struct {
	pc     *webrtc.PeerConnection
	remote domain.Identity

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(*webrtc.TrackRemote)
	onState func(webrtc.PeerConnectionState)

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]bool
	once    sync.Once
}

func (c *Connection) OnCandidate(fn func(webrtc.ICECandidateInit))      { c.onICE = fn }
func (c *Connection) OnTrack(fn func(*webrtc.TrackRemote))              { c.onTrack = fn }
func (c *Connection) OnStateChange(fn func(webrtc.PeerConnectionState)) { c.onState = fn }

func (c *Connection) AddTrack(track webrtc.TrackLocal) (mesh.Sender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.senders == nil {
		c.senders = make(map[webrtc.RTPCodecType]bool)
	}
	c.senders[track.Kind()] = true
	c.mu.Unlock()
	return &rtpSender{s: sender}, nil
}

// CreateOffer adds recvonly transceivers for kinds with no local track
// first, so a receive-only join still negotiates media sections.
func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if c.senders[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			c.mu.Unlock()
			return webrtc.SessionDescription{}, err
		}
	}
	c.mu.Unlock()
	return c.pc.CreateOffer(nil)
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sd)
}

func (c *Connection) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

func (c *Connection) AddRemoteCandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) Close() {
	c.once.Do(func() {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.remote)).Msg("close error")
			return
		}
		log.Info().Str("module", "rtc").Str("peer", string(c.remote)).Msg("closed")
	})
}

type rtpSender struct {
	s *webrtc.RTPSender
}

func (r *rtpSender) Track() webrtc.TrackLocal { return r.s.Track() }

func (r *rtpSender) ReplaceTrack(t webrtc.TrackLocal) error {
	return r.s.ReplaceTrack(t)
}
