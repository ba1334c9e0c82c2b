package core

import "github.com/Ameba1399/MES/internal/domain"

// Frame is one encoded signaling message.
type Frame []byte

// SignalConnection abstracts a system messaging transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues a frame without blocking. Frames enqueued for a
	// given connection are delivered in enqueue order.
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the registry.
type PublishResult struct {
	SentTo  int
	Dropped []domain.Identity
}
