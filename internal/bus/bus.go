package bus

import (
	"context"
	"log"
	"sync"
)

// MessageBus decouples channels from the message processor. Channels push
// to Inbound; the processor pushes replies to Outbound, which
// DispatchOutbound routes to the subscribed channel by name.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu       sync.RWMutex
	handlers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		handlers: make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers the delivery handler for a channel name.
// A second registration for the same name replaces the first.
func (b *MessageBus) SubscribeOutbound(name string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = fn
}

// DispatchOutbound routes outbound messages to their channel handlers
// until the context is cancelled.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn, ok := b.handlers[msg.Channel]
			b.mu.RUnlock()
			if !ok {
				log.Printf("[bus] no handler for channel %q", msg.Channel)
				continue
			}
			fn(msg)
		}
	}
}
