package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ameba1399/MES/internal/domain"
	"github.com/Ameba1399/MES/internal/protocol"
)

func TestMarshalFillsTypeTag(t *testing.T) {
	cases := []struct {
		msg  protocol.Message
		want string
	}{
		{protocol.Join{DisplayName: "alice"}, "join"},
		{protocol.Leave{}, "leave"},
		{protocol.RosterSnapshot{Self: "a"}, "roster-snapshot"},
		{protocol.PeerJoined{Identity: "b"}, "peer-joined"},
		{protocol.PeerLeft{Identity: "b"}, "peer-left"},
		{protocol.Offer{From: "a", To: "b"}, "offer"},
		{protocol.Answer{From: "b", To: "a"}, "answer"},
		{protocol.ICECandidate{From: "a", To: "b"}, "ice-candidate"},
		{protocol.Chat{From: "a", Text: "hi"}, "chat"},
		{protocol.Control{From: "a", Media: "audio"}, "control"},
		{protocol.RosterQuery{}, "roster-query"},
		{protocol.Error{Code: "duplicate_identity"}, "error"},
	}

	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			data, err := protocol.Marshal(tc.msg)
			require.NoError(t, err)

			var env map[string]any
			require.NoError(t, json.Unmarshal(data, &env))
			assert.Equal(t, tc.want, env["type"])
		})
	}
}

func TestDecodeDispatchesOnTag(t *testing.T) {
	data, err := protocol.Marshal(protocol.Join{Identity: "alice", DisplayName: "Alice"})
	require.NoError(t, err)

	m, err := protocol.Decode(data)
	require.NoError(t, err)

	join, ok := m.(protocol.Join)
	require.True(t, ok, "expected Join, got %T", m)
	assert.Equal(t, domain.Identity("alice"), join.Identity)
	assert.Equal(t, "Alice", join.DisplayName)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := protocol.Decode([]byte(`{"type":"teleport"}`))
	assert.ErrorIs(t, err, protocol.ErrUnknownType)
}

func TestDecodeRejectsBadEnvelope(t *testing.T) {
	_, err := protocol.Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestMarshalRejectsForeignMessage(t *testing.T) {
	_, err := protocol.Marshal(nil)
	assert.ErrorIs(t, err, protocol.ErrUnknownType)
}

func TestOfferRoundTrip(t *testing.T) {
	in := protocol.Offer{
		From: "alice",
		To:   "bob",
		SDP: webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\n",
		},
	}

	data, err := protocol.Marshal(in)
	require.NoError(t, err)

	m, err := protocol.Decode(data)
	require.NoError(t, err)

	out, ok := m.(protocol.Offer)
	require.True(t, ok)
	assert.Equal(t, in.From, out.From)
	assert.Equal(t, in.To, out.To)
	assert.Equal(t, in.SDP, out.SDP)
}

func TestICECandidateRoundTrip(t *testing.T) {
	mid := "0"
	var mline uint16 = 0
	in := protocol.ICECandidate{
		From: "bob",
		To:   "alice",
		Candidate: webrtc.ICECandidateInit{
			Candidate:     "candidate:1 1 udp 2130706431 10.0.0.1 54321 typ host",
			SDPMid:        &mid,
			SDPMLineIndex: &mline,
		},
	}

	data, err := protocol.Marshal(in)
	require.NoError(t, err)

	m, err := protocol.Decode(data)
	require.NoError(t, err)

	out, ok := m.(protocol.ICECandidate)
	require.True(t, ok)
	assert.Equal(t, in.Candidate.Candidate, out.Candidate.Candidate)
	require.NotNil(t, out.Candidate.SDPMid)
	assert.Equal(t, mid, *out.Candidate.SDPMid)
}

func TestControlRoundTrip(t *testing.T) {
	data, err := protocol.Marshal(protocol.Control{From: "bob", Media: "video", Enabled: false})
	require.NoError(t, err)

	m, err := protocol.Decode(data)
	require.NoError(t, err)

	control, ok := m.(protocol.Control)
	require.True(t, ok)
	assert.Equal(t, domain.Identity("bob"), control.From)
	assert.Equal(t, "video", control.Media)
	assert.False(t, control.Enabled)
}

func TestChatBroadcastOmitsTarget(t *testing.T) {
	data, err := protocol.Marshal(protocol.Chat{From: "alice", Text: "hi all"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"to"`)

	data, err = protocol.Marshal(protocol.Chat{From: "alice", To: "bob", Text: "hi bob"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"to":"bob"`)
}

func TestSnapshotEncodesEmptyRosterAsArray(t *testing.T) {
	data, err := protocol.Marshal(protocol.RosterSnapshot{Self: "alice"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"participants":[]`)
}
