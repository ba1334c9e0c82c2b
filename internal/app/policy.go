package app

import "github.com/Ameba1399/MES/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a member whose send buffer overflowed
// during a room broadcast.
type Policy interface {
	OnBackpressure(room domain.RoomID, id domain.Identity) BackpressureAction
}

// KickSlowPolicy evicts the slow member. A signaling channel that cannot
// drain a small buffer is indistinguishable from a dead client, and a
// member with stale presence state would hold phantom peer links open.
type KickSlowPolicy struct{}

func (KickSlowPolicy) OnBackpressure(domain.RoomID, domain.Identity) BackpressureAction {
	return KickMember
}
