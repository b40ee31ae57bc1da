package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Subscription is a handle to a live Outbound subscription returned by
// MessageBus.SubscribeOutbound. Callers must call Unsubscribe when done to
// release the underlying channel.
type Subscription struct {
	ID      string
	Channel <-chan *OutboundMessage

	bus *MessageBus
	ch  chan *OutboundMessage
}

// Unsubscribe removes the subscription from the bus and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.removeOutboundSubscriber(s.ID)
}

// MessageBus is an in-process pub/sub hub connecting channel adapters
// (producers of InboundMessage, consumers of OutboundMessage) to the agent
// manager (consumer of InboundMessage, producer of OutboundMessage and
// AgentEventPayload).
type MessageBus struct {
	inbound chan *InboundMessage

	mu                 sync.RWMutex
	outboundSubs       map[string]chan *OutboundMessage
	agentEventSubs     map[string]chan *AgentEventPayload
	nextSubID          int64

	closed int32
}

// NewMessageBus creates a bus whose inbound queue buffers up to bufferSize
// messages before PublishInbound starts blocking.
func NewMessageBus(bufferSize int) *MessageBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &MessageBus{
		inbound:        make(chan *InboundMessage, bufferSize),
		outboundSubs:   make(map[string]chan *OutboundMessage),
		agentEventSubs: make(map[string]chan *AgentEventPayload),
	}
}

func (b *MessageBus) isClosed() bool {
	return atomic.LoadInt32(&b.closed) == 1
}

// PublishInbound enqueues an inbound message for whoever calls ConsumeInbound.
func (b *MessageBus) PublishInbound(ctx context.Context, msg *InboundMessage) error {
	if b.isClosed() {
		return fmt.Errorf("message bus: closed")
	}
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound blocks until an inbound message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg, ok := <-b.inbound:
		if !ok {
			return nil, fmt.Errorf("message bus: inbound channel closed")
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound fans an outbound message out to every live subscription.
// Slow/full subscribers are skipped rather than blocking the publisher.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg *OutboundMessage) error {
	if b.isClosed() {
		return fmt.Errorf("message bus: closed")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.outboundSubs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// subscriber is backed up; drop rather than stall delivery for others
		}
	}
	return nil
}

// SubscribeOutbound registers a new outbound subscriber and returns a handle
// to its channel. Callers must Unsubscribe when finished.
func (b *MessageBus) SubscribeOutbound() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := fmt.Sprintf("outbound-%d", atomic.AddInt64(&b.nextSubID, 1))
	ch := make(chan *OutboundMessage, 256)
	b.outboundSubs[id] = ch
	return &Subscription{ID: id, Channel: ch, bus: b, ch: ch}
}

func (b *MessageBus) removeOutboundSubscriber(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.outboundSubs[id]; ok {
		delete(b.outboundSubs, id)
		close(ch)
	}
}

// AgentEventSubscription is a handle to a live agent-event subscription.
type AgentEventSubscription struct {
	ID      string
	Channel <-chan *AgentEventPayload

	bus *MessageBus
}

// Unsubscribe removes the subscription and closes its channel.
func (s *AgentEventSubscription) Unsubscribe() {
	s.bus.removeAgentEventSubscriber(s.ID)
}

// PublishAgentEvent fans an agent lifecycle/tool/assistant/error event out to
// every live agent-event subscriber (e.g. the Control UI websocket bridge).
func (b *MessageBus) PublishAgentEvent(ctx context.Context, payload *AgentEventPayload) error {
	if b.isClosed() {
		return fmt.Errorf("message bus: closed")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.agentEventSubs {
		select {
		case ch <- payload:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// SubscribeAgentEvents registers a new agent-event subscriber.
func (b *MessageBus) SubscribeAgentEvents() *AgentEventSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := fmt.Sprintf("agent-event-%d", atomic.AddInt64(&b.nextSubID, 1))
	ch := make(chan *AgentEventPayload, 256)
	b.agentEventSubs[id] = ch
	return &AgentEventSubscription{ID: id, Channel: ch, bus: b}
}

func (b *MessageBus) removeAgentEventSubscriber(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.agentEventSubs[id]; ok {
		delete(b.agentEventSubs, id)
		close(ch)
	}
}

// Close marks the bus closed and releases all subscriber channels. Further
// Publish/Consume calls return an error.
func (b *MessageBus) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.outboundSubs {
		delete(b.outboundSubs, id)
		close(ch)
	}
	for id, ch := range b.agentEventSubs {
		delete(b.agentEventSubs, id)
		close(ch)
	}
	close(b.inbound)
	return nil
}
