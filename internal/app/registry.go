// Package app owns the process-wide room table and the relay semantics
// on top of core room membership.
package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Ameba1399/MES/internal/core"
	"github.com/Ameba1399/MES/internal/domain"
	"github.com/Ameba1399/MES/internal/protocol"
)

// Registry is the process-wide table of rooms. Room-level operations
// serialize inside core.Room; independent rooms proceed in parallel.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*core.Room
	policy Policy
}

func NewRegistry(policy Policy) *Registry {
	return &Registry{
		rooms:  make(map[domain.RoomID]*core.Room),
		policy: policy,
	}
}

func (g *Registry) getOrCreate(id domain.RoomID) *core.Room {
	g.mu.RLock()
	room, ok := g.rooms[id]
	g.mu.RUnlock()
	if ok {
		return room
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok = g.rooms[id]; ok {
		return room
	}
	room = core.NewRoom(id)
	g.rooms[id] = room
	log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("room created")
	return room
}

func (g *Registry) room(id domain.RoomID) (*core.Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[id]
	return room, ok
}

// Join registers p in the room (created on first join), announces the
// newcomer to everyone else and returns the prior roster for the
// snapshot. Duplicate identities are rejected, not evicted.
func (g *Registry) Join(roomID domain.RoomID, p domain.Participant, conn core.SignalConnection) ([]domain.Participant, error) {
	room := g.getOrCreate(roomID)

	announce, err := protocol.Marshal(protocol.PeerJoined{
		Identity:    p.Identity,
		DisplayName: p.DisplayName,
	})
	if err != nil {
		return nil, err
	}

	others, res, err := room.Join(p, conn, announce)
	if err != nil {
		return nil, err
	}
	g.applyPolicy(room, res)
	return others, nil
}

// Leave removes the identity and announces the departure. Idempotent;
// unknown rooms and absent identities are a no-op. Empty rooms stay in
// the table, logically empty.
func (g *Registry) Leave(roomID domain.RoomID, id domain.Identity) {
	room, ok := g.room(roomID)
	if !ok {
		return
	}
	announce, err := protocol.Marshal(protocol.PeerLeft{Identity: id})
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("encode peer-left")
		return
	}
	res, removed := room.Leave(id, announce)
	if removed {
		g.applyPolicy(room, res)
	}
}

// Relay forwards an already-encoded frame unchanged. Empty target means
// broadcast to the room. An absent target is a benign race (it may have
// just left): logged, dropped, never surfaced to the sender.
func (g *Registry) Relay(roomID domain.RoomID, from, to domain.Identity, f core.Frame) {
	room, ok := g.room(roomID)
	if !ok {
		log.Warn().Str("module", "app.registry").Str("room", string(roomID)).Msg("relay into unknown room")
		return
	}
	if to == "" {
		res := room.Broadcast(from, f)
		g.applyPolicy(room, res)
		return
	}
	if err := room.Send(to, f); err != nil {
		log.Warn().Err(err).
			Str("module", "app.registry").
			Str("room", string(roomID)).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("relay dropped")
	}
}

// Evict force-disconnects every member of a room. Closing the channels
// makes each read pump run its normal leave path.
func (g *Registry) Evict(roomID domain.RoomID) error {
	room, ok := g.room(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	for _, p := range room.Members() {
		if conn, ok := room.Conn(p.Identity); ok {
			conn.Close()
		}
	}
	log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room evicted")
	return nil
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
}

func (g *Registry) Rooms() []RoomInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]RoomInfo, 0, len(g.rooms))
	for id, r := range g.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: r.MemberCount()})
	}
	return out
}

// Members exposes a roster snapshot for the REST surface.
func (g *Registry) Members(roomID domain.RoomID) ([]domain.Participant, error) {
	room, ok := g.room(roomID)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room.Members(), nil
}

func (g *Registry) applyPolicy(room *core.Room, res core.PublishResult) {
	if g.policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch g.policy.OnBackpressure(room.ID(), slow) {
		case KickMember:
			log.Warn().Str("module", "app.registry").Str("room", string(room.ID())).Str("identity", string(slow)).Msg("kicking slow member")
			if conn, ok := room.Conn(slow); ok {
				conn.Close()
			}
			g.Leave(room.ID(), slow)
		case DropFrame, NoAction:
		}
	}
}
