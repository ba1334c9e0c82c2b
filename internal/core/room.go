// Package core owns room membership. A Room never touches adapter
// resources beyond enqueueing frames; connections stay adapter-owned.
package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Ameba1399/MES/internal/domain"
)

type member struct {
	meta domain.Participant
	conn SignalConnection
}

// Room is a threadsafe in-memory member table. Compound operations
// (join, leave, relay) run under one room-level lock: that is the
// single-writer-per-room rule, so every member observes membership
// changes in the same order, and frames from one sender reach a given
// receiver in the order sent.
type Room struct {
	id      domain.RoomID
	mu      sync.Mutex
	members map[domain.Identity]*member
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{
		id:      id,
		members: make(map[domain.Identity]*member),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Members returns a read-only roster snapshot.
func (r *Room) Members() []domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterLocked("")
}

// Conn returns the live channel of one member, if present.
func (r *Room) Conn(id domain.Identity) (SignalConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return nil, false
	}
	return m.conn, true
}

// Join registers p and fans announce out to every prior member. It
// returns the prior roster (everyone but p) for the joining client.
// Fails with domain.ErrDuplicateIdentity if the identity is taken.
func (r *Room) Join(p domain.Participant, conn SignalConnection, announce Frame) ([]domain.Participant, PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[p.Identity]; ok {
		return nil, PublishResult{}, domain.ErrDuplicateIdentity
	}
	others := r.rosterLocked(p.Identity)
	res := r.broadcastLocked(p.Identity, announce)
	r.members[p.Identity] = &member{meta: p, conn: conn}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("identity", string(p.Identity)).Msg("member added")
	return others, res, nil
}

// Leave removes id and fans announce out to the remaining members.
// Idempotent: absent identities are a no-op.
func (r *Room) Leave(id domain.Identity, announce Frame) (PublishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return PublishResult{}, false
	}
	delete(r.members, id)
	res := r.broadcastLocked(id, announce)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("identity", string(id)).Msg("member removed")
	return res, true
}

// Send delivers one frame to a single member.
func (r *Room) Send(to domain.Identity, f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[to]
	if !ok {
		return domain.ErrUnknownTarget
	}
	return m.conn.TrySend(f)
}

// Broadcast delivers one frame to every member except from.
func (r *Room) Broadcast(from domain.Identity, f Frame) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(from, f)
}

func (r *Room) broadcastLocked(from domain.Identity, f Frame) PublishResult {
	res := PublishResult{}
	if f == nil {
		return res
	}
	for id, m := range r.members {
		if id == from {
			continue
		}
		if err := m.conn.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *Room) rosterLocked(except domain.Identity) []domain.Participant {
	out := make([]domain.Participant, 0, len(r.members))
	for id, m := range r.members {
		if id == except {
			continue
		}
		out = append(out, m.meta)
	}
	return out
}
