// ABOUTME: In-process Bus backed by buffered channels
// ABOUTME: Default bus for a single gateway process

package bus

import (
	"context"
	"sync"
)

// MemoryBus is a Bus backed by two buffered channels.
type MemoryBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemory creates a MemoryBus whose queues hold up to buffer messages each.
func NewMemory(buffer int) *MemoryBus {
	if buffer < 0 {
		buffer = 0
	}
	return &MemoryBus{
		inbound:  make(chan InboundMessage, buffer),
		outbound: make(chan OutboundMessage, buffer),
		done:     make(chan struct{}),
	}
}

func (b *MemoryBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	return publish(ctx, b.done, b.inbound, msg)
}

func (b *MemoryBus) ConsumeInbound(ctx context.Context) (InboundMessage, error) {
	return consume(ctx, b.done, b.inbound)
}

func (b *MemoryBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	return publish(ctx, b.done, b.outbound, msg)
}

func (b *MemoryBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, error) {
	return consume(ctx, b.done, b.outbound)
}

// Close unblocks all pending and future operations with ErrClosed.
func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

func publish[T any](ctx context.Context, done <-chan struct{}, ch chan<- T, msg T) error {
	select {
	case <-done:
		return ErrClosed
	default:
	}

	select {
	case ch <- msg:
		return nil
	case <-done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func consume[T any](ctx context.Context, done <-chan struct{}, ch <-chan T) (T, error) {
	var zero T
	select {
	case msg := <-ch:
		return msg, nil
	case <-done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
