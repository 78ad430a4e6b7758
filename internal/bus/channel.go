package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// ChannelBus delivers events in process through buffered Go channels.
// A subscriber whose buffer is full loses the event; Dropped counts them.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	topics     map[string]map[string]*channelSubscription // key -> id -> sub
	closed     bool
	dropped    atomic.Int64
}

type channelSubscription struct {
	bus     *ChannelBus
	id      string
	key     string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewChannelBus creates a channel bus with bufferSize pending events per
// subscriber (1000 when not positive).
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string]map[string]*channelSubscription),
	}
}

// Publish hands the event to the subscribers of tenantID and to the
// AllTenants subscribers of topic. It never blocks.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkTenant(tenantID, false); err != nil {
		return err
	}
	msg := envelope(ctx, tenantID, topic, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	for _, key := range []string{b.makeKey(tenantID, topic), b.makeKey(domain.AllTenants, topic)} {
		for _, sub := range b.topics[key] {
			select {
			case sub.msgCh <- msg:
			default:
				b.dropped.Add(1)
				slog.Warn("event dropped, subscriber buffer full",
					"tenant_id", tenantID,
					"topic", topic,
					"message_id", msg.ID,
				)
			}
		}
	}
	return nil
}

// Subscribe runs handler for every event of topic published for tenantID,
// or for every tenant when tenantID is domain.AllTenants.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := checkTenant(tenantID, true); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:     b,
		id:      uuid.New().String(),
		key:     b.makeKey(tenantID, topic),
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}

	if b.topics[sub.key] == nil {
		b.topics[sub.key] = make(map[string]*channelSubscription)
	}
	b.topics[sub.key][sub.id] = sub

	go sub.run()
	return sub, nil
}

// Dropped returns how many deliveries were lost to full buffers.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping reports whether the bus is still open.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription. Pending events are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.topics = make(map[string]map[string]*channelSubscription)
	return nil
}

func (b *ChannelBus) makeKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := s.handler(handlerContext(s.ctx, msg), msg); err != nil {
				slog.Error("event handler failed",
					"tenant_id", msg.TenantID,
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Unsubscribe stops delivery and forgets the subscription.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if subs := s.bus.topics[s.key]; subs != nil {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(s.bus.topics, s.key)
			}
		}
	})
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
