package mesh

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// TrackManager is the single source of truth for the locally outgoing
// tracks. Exactly one video track is the outgoing one at a time; links
// read it at bind time, so whoever holds the engine lock during a
// replacement decides what every later link binds.
//
// Either track may be nil: local capture failure (MediaUnavailable)
// still allows a receive-only join.
type TrackManager struct {
	mu      sync.Mutex
	audio   webrtc.TrackLocal
	video   webrtc.TrackLocal // current outgoing video
	camera  webrtc.TrackLocal // saved camera track while screen sharing
	sharing bool
	enabled map[MediaKind]bool
}

func NewTrackManager(audio, video webrtc.TrackLocal) *TrackManager {
	return &TrackManager{
		audio:   audio,
		video:   video,
		enabled: map[MediaKind]bool{MediaAudio: true, MediaVideo: true},
	}
}

// Outgoing lists the tracks a new peer link must bind, in audio, video
// order. Nil tracks are skipped.
func (tm *TrackManager) Outgoing() []webrtc.TrackLocal {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	out := make([]webrtc.TrackLocal, 0, 2)
	if tm.audio != nil {
		out = append(out, tm.audio)
	}
	if tm.video != nil {
		out = append(out, tm.video)
	}
	return out
}

// OutgoingVideo returns the current authoritative outgoing video track.
func (tm *TrackManager) OutgoingVideo() webrtc.TrackLocal {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.video
}

// SetOutgoingVideo makes t the authoritative outgoing video track
// (e.g. a camera device switch).
func (tm *TrackManager) SetOutgoingVideo(t webrtc.TrackLocal) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.video = t
	if tm.sharing {
		// the replaced source supersedes the saved camera too
		tm.camera = nil
		tm.sharing = false
	}
}

// StartScreenShare substitutes screen for the camera track, remembering
// the camera so StopScreenShare can restore it. Returns the new
// outgoing video track.
func (tm *TrackManager) StartScreenShare(screen webrtc.TrackLocal) webrtc.TrackLocal {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if !tm.sharing {
		tm.camera = tm.video
		tm.sharing = true
	}
	tm.video = screen
	return tm.video
}

// StopScreenShare restores the saved camera track. No-op when not
// sharing. Returns the outgoing video track after the stop.
func (tm *TrackManager) StopScreenShare() webrtc.TrackLocal {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.sharing {
		tm.video = tm.camera
		tm.camera = nil
		tm.sharing = false
	}
	return tm.video
}

func (tm *TrackManager) Sharing() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.sharing
}

// Toggle flips the enabled flag of the given kind and reports the new
// value. This is a local mute: no renegotiation, no track replacement;
// media producers consult Enabled before writing samples.
func (tm *TrackManager) Toggle(kind MediaKind) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.enabled[kind] = !tm.enabled[kind]
	return tm.enabled[kind]
}

func (tm *TrackManager) Enabled(kind MediaKind) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.enabled[kind]
}
