package events

import (
	"sync"

	"github.com/vadiminshakov/spotsim/internal/domain"
)

// MarketBroadcaster fans out market snapshots to all subscribers via buffered channels.
type MarketBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan domain.MarketSnapshot]struct{}
	buffer int
}

// NewMarketBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewMarketBroadcaster(buffer int) *MarketBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &MarketBroadcaster{
		subs:   make(map[chan domain.MarketSnapshot]struct{}),
		buffer: buffer,
	}
}

// Publish sends the snapshot to all subscribers, dropping it for a reader whose buffer is full.
func (b *MarketBroadcaster) Publish(s domain.MarketSnapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- s:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives snapshots until Unsubscribe is called.
func (b *MarketBroadcaster) Subscribe() chan domain.MarketSnapshot {
	ch := make(chan domain.MarketSnapshot, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *MarketBroadcaster) Unsubscribe(ch chan domain.MarketSnapshot) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of active subscriptions.
func (b *MarketBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
