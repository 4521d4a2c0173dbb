package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/thejerf/suture/v4"

	"github.com/noah-isme/croptalk-api/internal/dto"
	"github.com/noah-isme/croptalk-api/internal/observability"
)

const (
	// GlobalTopic is the single community feed topic.
	GlobalTopic = "community"

	defaultBroadcastBuffer = 32
	relayFailureThreshold  = 3
	relayOpenTimeout       = 30 * time.Second
)

// BroadcastOptions configures the feed broadcaster.
type BroadcastOptions struct {
	Buffer int
	Relays []FeedRelay
}

// BroadcastService fans newly posted messages out to live subscribers.
type BroadcastService interface {
	Publish(ctx context.Context, topic string, event dto.FeedEvent) error
	Subscribe(topic string) (<-chan dto.FeedEvent, func())
	SubscriberCount(topic string) int
	Start(ctx context.Context)
}

type broadcastService struct {
	broker   *feedBroker
	relays   []FeedRelay
	breakers map[string]*gobreaker.CircuitBreaker[any]
	logger   zerolog.Logger
	nodeID   string
}

type feedEnvelope struct {
	Source string        `json:"source"`
	Topic  string        `json:"topic"`
	Event  dto.FeedEvent `json:"event"`
	SentAt time.Time     `json:"sent_at"`
}

type feedSubscriber struct {
	topic string
	ch    chan dto.FeedEvent
}

// feedBroker holds the subscribers of every topic. Sends happen under the
// read lock and closes under the write lock, so a channel is never closed
// while a publisher may still send on it.
type feedBroker struct {
	mu     sync.RWMutex
	topics map[string]map[*feedSubscriber]struct{}
	buffer int
	log    zerolog.Logger
}

// NewBroadcastService constructs the broadcaster and its optional cross-instance relays.
func NewBroadcastService(opts BroadcastOptions, logger zerolog.Logger) BroadcastService {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBroadcastBuffer
	}

	log := logger.With().Str("component", "broadcast_service").Logger()

	breakers := make(map[string]*gobreaker.CircuitBreaker[any], len(opts.Relays))
	for _, relay := range opts.Relays {
		breakers[relay.Name()] = newRelayBreaker(relay.Name(), log)
	}

	return &broadcastService{
		broker: &feedBroker{
			topics: make(map[string]map[*feedSubscriber]struct{}),
			buffer: opts.Buffer,
			log:    logger.With().Str("component", "feed_broker").Logger(),
		},
		relays:   opts.Relays,
		breakers: breakers,
		logger:   log,
		nodeID:   uuid.NewString(),
	}
}

// Start runs the relay consumers under a supervisor until ctx is cancelled.
func (s *broadcastService) Start(ctx context.Context) {
	if len(s.relays) == 0 {
		return
	}

	supervisor := suture.New("feed-relays", suture.Spec{
		EventHook: func(event suture.Event) {
			s.logger.Warn().Str("event", event.String()).Msg("feed relay supervisor event")
		},
	})
	for _, relay := range s.relays {
		supervisor.Add(&relayConsumer{relay: relay, deliver: s.handleEnvelope})
	}

	errs := supervisor.ServeBackground(ctx)
	go func() {
		if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("feed relay supervisor stopped")
		}
	}()
}

// Publish delivers to local subscribers first and then forwards the event to
// the relays. Local delivery never blocks; a relay failure is reported as
// ErrUnavailable after local subscribers already have the event.
func (s *broadcastService) Publish(ctx context.Context, topic string, event dto.FeedEvent) error {
	topic = normalizeTopic(topic)
	s.deliver(topic, event, "local")

	if len(s.relays) == 0 {
		return nil
	}

	payload, err := json.Marshal(feedEnvelope{
		Source: s.nodeID,
		Topic:  topic,
		Event:  event,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode feed envelope: %w", err)
	}

	var errs []error
	for _, relay := range s.relays {
		_, err := s.breakers[relay.Name()].Execute(func() (any, error) {
			return nil, relay.Publish(ctx, payload)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s relay: %w", relay.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
	}
	return nil
}

func (s *broadcastService) Subscribe(topic string) (<-chan dto.FeedEvent, func()) {
	sub := s.broker.subscribe(normalizeTopic(topic))
	return sub.ch, func() { s.broker.unsubscribe(sub) }
}

func (s *broadcastService) SubscriberCount(topic string) int {
	return s.broker.count(normalizeTopic(topic))
}

func (s *broadcastService) deliver(topic string, event dto.FeedEvent, source string) {
	delivered, dropped := s.broker.broadcast(topic, event)
	observability.BroadcastEvents().WithLabelValues(source).Inc()
	if dropped > 0 {
		observability.BroadcastDropped().Add(float64(dropped))
	}
	s.logger.Debug().
		Str("topic", topic).
		Str("source", source).
		Int("delivered", delivered).
		Int("dropped", dropped).
		Msg("feed event delivered")
}

func (s *broadcastService) handleEnvelope(data []byte) {
	var envelope feedEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid feed relay envelope")
		return
	}

	if envelope.Source == s.nodeID {
		return
	}

	s.deliver(normalizeTopic(envelope.Topic), envelope.Event, "relay")
}

func (b *feedBroker) subscribe(topic string) *feedSubscriber {
	sub := &feedSubscriber{topic: topic, ch: make(chan dto.FeedEvent, b.buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.topics[topic]; !exists {
		b.topics[topic] = make(map[*feedSubscriber]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	observability.BroadcastSubscribers().Inc()
	b.log.Debug().Str("topic", topic).Int("subscribers", len(b.topics[topic])).Msg("feed subscriber registered")

	return sub
}

func (b *feedBroker) unsubscribe(sub *feedSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := subscribers[sub]; !ok {
		return
	}

	delete(subscribers, sub)
	close(sub.ch)
	if len(subscribers) == 0 {
		delete(b.topics, sub.topic)
	}
	observability.BroadcastSubscribers().Dec()
}

func (b *feedBroker) broadcast(topic string, event dto.FeedEvent) (int, int) {
	var slow []*feedSubscriber

	b.mu.RLock()
	delivered := 0
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- event:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		b.log.Warn().Str("topic", topic).Msg("evicting slow feed subscriber")
		b.unsubscribe(sub)
	}

	return delivered, len(slow)
}

func (b *feedBroker) count(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func normalizeTopic(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return GlobalTopic
	}
	return topic
}

func newRelayBreaker(name string, logger zerolog.Logger) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "feed-relay-" + name,
		MaxRequests: 1,
		Timeout:     relayOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= relayFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("feed relay breaker changed state")
		},
	})
}
