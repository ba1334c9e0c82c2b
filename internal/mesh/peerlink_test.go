package mesh

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubConn records the negotiation calls the link makes and fails them
// on demand.
type stubConn struct {
	offerErr, answerErr, localErr, remoteErr, candidateErr error

	localDescs  []webrtc.SessionDescription
	remoteDescs []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	senders     []*stubSender
	closed      int
}

type stubSender struct {
	track    webrtc.TrackLocal
	replaced []webrtc.TrackLocal
}

func (s *stubSender) Track() webrtc.TrackLocal { return s.track }
func (s *stubSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.replaced = append(s.replaced, t)
	s.track = t
	return nil
}

func (c *stubConn) AddTrack(t webrtc.TrackLocal) (Sender, error) {
	s := &stubSender{track: t}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *stubConn) CreateOffer() (webrtc.SessionDescription, error) {
	if c.offerErr != nil {
		return webrtc.SessionDescription{}, c.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "local-offer"}, nil
}

func (c *stubConn) CreateAnswer() (webrtc.SessionDescription, error) {
	if c.answerErr != nil {
		return webrtc.SessionDescription{}, c.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "local-answer"}, nil
}

func (c *stubConn) SetLocalDescription(sd webrtc.SessionDescription) error {
	if c.localErr != nil {
		return c.localErr
	}
	c.localDescs = append(c.localDescs, sd)
	return nil
}

func (c *stubConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	if c.remoteErr != nil {
		return c.remoteErr
	}
	c.remoteDescs = append(c.remoteDescs, sd)
	return nil
}

func (c *stubConn) AddRemoteCandidate(ci webrtc.ICECandidateInit) error {
	if c.candidateErr != nil {
		return c.candidateErr
	}
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *stubConn) OnCandidate(func(webrtc.ICECandidateInit))      {}
func (c *stubConn) OnTrack(func(*webrtc.TrackRemote))              {}
func (c *stubConn) OnStateChange(func(webrtc.PeerConnectionState)) {}
func (c *stubConn) Close()                                         { c.closed++ }

func remoteOffer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}
}

func remoteAnswer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"}
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestInitiatorPath(t *testing.T) {
	conn := &stubConn{}
	l := newPeerLink("bob", conn)
	assert.Equal(t, LinkNew, l.State())

	offer, err := l.initiate()
	require.NoError(t, err)
	assert.Equal(t, LinkAwaitingAnswer, l.State())
	assert.Equal(t, []webrtc.SessionDescription{offer}, conn.localDescs)

	require.NoError(t, l.acceptAnswer(remoteAnswer()))
	assert.Equal(t, LinkConnected, l.State())
	assert.Equal(t, []webrtc.SessionDescription{remoteAnswer()}, conn.remoteDescs)
}

func TestResponderPath(t *testing.T) {
	conn := &stubConn{}
	l := newPeerLink("alice", conn)

	answer, err := l.acceptOffer(remoteOffer())
	require.NoError(t, err)
	assert.Equal(t, LinkConnected, l.State())
	assert.Equal(t, []webrtc.SessionDescription{remoteOffer()}, conn.remoteDescs)
	assert.Equal(t, []webrtc.SessionDescription{answer}, conn.localDescs)
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	conn := &stubConn{}
	l := newPeerLink("alice", conn)

	l.addCandidate(candidate("first"))
	l.addCandidate(candidate("second"))
	assert.Empty(t, conn.candidates, "no remote description yet")

	_, err := l.acceptOffer(remoteOffer())
	require.NoError(t, err)

	// flushed in arrival order once the remote description lands
	require.Len(t, conn.candidates, 2)
	assert.Equal(t, "first", conn.candidates[0].Candidate)
	assert.Equal(t, "second", conn.candidates[1].Candidate)

	// later candidates apply directly
	l.addCandidate(candidate("third"))
	require.Len(t, conn.candidates, 3)
	assert.Equal(t, "third", conn.candidates[2].Candidate)
}

func TestInitiatorBuffersUntilAnswer(t *testing.T) {
	conn := &stubConn{}
	l := newPeerLink("bob", conn)
	_, err := l.initiate()
	require.NoError(t, err)

	l.addCandidate(candidate("early"))
	assert.Empty(t, conn.candidates)

	require.NoError(t, l.acceptAnswer(remoteAnswer()))
	require.Len(t, conn.candidates, 1)
	assert.Equal(t, "early", conn.candidates[0].Candidate)
}

func TestCandidateAfterTerminalStateDropped(t *testing.T) {
	conn := &stubConn{}
	l := newPeerLink("bob", conn)
	l.shutdown(LinkClosed)

	l.addCandidate(candidate("late"))
	assert.Empty(t, conn.candidates)
	assert.Empty(t, l.pending)
}

func TestNegotiationConflicts(t *testing.T) {
	t.Run("answer before offer", func(t *testing.T) {
		l := newPeerLink("bob", &stubConn{})
		err := l.acceptAnswer(remoteAnswer())
		assert.ErrorIs(t, err, ErrNegotiationConflict)
		assert.Equal(t, LinkNew, l.State())
	})

	t.Run("offer while connected", func(t *testing.T) {
		conn := &stubConn{}
		l := newPeerLink("alice", conn)
		_, err := l.acceptOffer(remoteOffer())
		require.NoError(t, err)

		_, err = l.acceptOffer(remoteOffer())
		assert.ErrorIs(t, err, ErrNegotiationConflict)
		assert.Equal(t, LinkConnected, l.State())
		assert.Zero(t, conn.closed, "conflicts never tear the link down")
	})

	t.Run("duplicate answer", func(t *testing.T) {
		conn := &stubConn{}
		l := newPeerLink("bob", conn)
		_, err := l.initiate()
		require.NoError(t, err)
		require.NoError(t, l.acceptAnswer(remoteAnswer()))

		err = l.acceptAnswer(remoteAnswer())
		assert.ErrorIs(t, err, ErrNegotiationConflict)
		assert.Equal(t, LinkConnected, l.State())
	})
}

func TestTransportFailureDuringNegotiation(t *testing.T) {
	t.Run("create offer fails", func(t *testing.T) {
		conn := &stubConn{offerErr: errors.New("no codecs")}
		l := newPeerLink("bob", conn)
		_, err := l.initiate()
		assert.Error(t, err)
		assert.Equal(t, LinkFailed, l.State())
		assert.Equal(t, 1, conn.closed)
	})

	t.Run("apply remote offer fails", func(t *testing.T) {
		conn := &stubConn{remoteErr: errors.New("bad sdp")}
		l := newPeerLink("alice", conn)
		_, err := l.acceptOffer(remoteOffer())
		assert.Error(t, err)
		assert.Equal(t, LinkFailed, l.State())
		assert.Equal(t, 1, conn.closed)
	})

	t.Run("apply remote answer fails", func(t *testing.T) {
		conn := &stubConn{remoteErr: errors.New("bad sdp")}
		l := newPeerLink("bob", conn)
		_, err := l.initiate()
		require.NoError(t, err)
		assert.Error(t, l.acceptAnswer(remoteAnswer()))
		assert.Equal(t, LinkFailed, l.State())
		assert.Equal(t, 1, conn.closed)
	})
}

func TestShutdownIdempotent(t *testing.T) {
	conn := &stubConn{}
	l := newPeerLink("bob", conn)
	_, err := l.initiate()
	require.NoError(t, err)

	l.shutdown(LinkClosed)
	assert.Equal(t, LinkClosed, l.State())
	assert.Equal(t, 1, conn.closed)

	// the first terminal state wins
	l.shutdown(LinkFailed)
	assert.Equal(t, LinkClosed, l.State())
	assert.Equal(t, 1, conn.closed)
}

func TestBindTracksRemembersSendersByKind(t *testing.T) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "local")
	require.NoError(t, err)
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", "local")
	require.NoError(t, err)

	conn := &stubConn{}
	l := newPeerLink("bob", conn)
	require.NoError(t, l.bindTracks([]webrtc.TrackLocal{audio, video}))

	require.NotNil(t, l.audioSender)
	require.NotNil(t, l.videoSender)
	assert.Equal(t, webrtc.TrackLocal(audio), l.audioSender.Track())
	assert.Equal(t, webrtc.TrackLocal(video), l.videoSender.Track())
}

func TestReplaceVideo(t *testing.T) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", "local")
	require.NoError(t, err)
	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "screen", "local")
	require.NoError(t, err)

	conn := &stubConn{}
	l := newPeerLink("bob", conn)
	require.NoError(t, l.bindTracks([]webrtc.TrackLocal{video}))

	require.NoError(t, l.replaceVideo(screen))
	assert.Equal(t, webrtc.TrackLocal(screen), l.videoSender.Track())
}

func TestReplaceVideoWithoutSenderIsNoop(t *testing.T) {
	// receive-only link: nothing was bound, nothing to swap
	l := newPeerLink("bob", &stubConn{})
	assert.NoError(t, l.replaceVideo(nil))
}
