package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/efreitasn/fractionex/internal/domain"
)

// Subscription receives encoded trade events. C is closed when the
// subscription ends, either by Unsubscribe or because the subscriber fell
// too far behind.
type Subscription struct {
	C       <-chan []byte
	ch      chan []byte
	classID uint64 // 0 means every class
}

// Broadcaster fans trades out to in-process subscribers such as WebSocket
// connections.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	codec  Codec
	logger *slog.Logger
}

// NewBroadcaster creates a Broadcaster whose subscribers buffer up to buffer
// events each.
func NewBroadcaster(buffer int, codec Codec, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		codec:  codec,
		logger: logger,
	}
}

// Subscribe registers a subscriber for one share class, or for every class
// when classID is 0.
func (b *Broadcaster) Subscribe(classID uint64) *Subscription {
	ch := make(chan []byte, b.buffer)
	s := &Subscription{C: ch, ch: ch, classID: classID}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel. It is safe to
// call more than once.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(s)
}

func (b *Broadcaster) remove(s *Subscription) {
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Name implements Sink.
func (b *Broadcaster) Name() string {
	return "websocket"
}

// Write implements Sink. A subscriber whose buffer is full is dropped rather
// than allowed to block the others.
func (b *Broadcaster) Write(_ context.Context, trades []domain.Trade) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range trades {
		msg, err := b.codec.Encode(t)
		if err != nil {
			return err
		}
		for s := range b.subs {
			if s.classID != 0 && s.classID != t.ShareClassID {
				continue
			}
			select {
			case s.ch <- msg:
			default:
				b.logger.Warn("trade subscriber too slow, dropping")
				b.remove(s)
			}
		}
	}
	return nil
}
