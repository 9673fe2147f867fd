// Package bus is the in-process event bus between the session manager, the
// broadcast dispatcher and their observers (SSE streams, notifiers, relays).
//
// Each topic has its own replay policy. Publishing never blocks: every
// subscriber owns a bounded buffer and events that do not fit are dropped for
// that subscriber only.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Topic names an independent event sequence.
type Topic string

const (
	// TopicSession carries handshake and connection events. Replays the latest.
	TopicSession Topic = "session"
	// TopicBroadcast carries campaign progress. No replay.
	TopicBroadcast Topic = "broadcast"
)

// DefaultBufferSize is the per-subscriber buffer used when New gets zero.
const DefaultBufferSize = 64

var (
	ErrClosed       = errors.New("bus: closed")
	ErrUnknownTopic = errors.New("bus: unknown topic")
)

// Event is a tagged variant published on a topic.
type Event interface {
	Kind() string
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

type topicState struct {
	replay    bool
	last      Event
	completed bool
	subs      map[uint64]*subscriber
}

// Bus fans events out to topic subscribers.
type Bus struct {
	log     *slog.Logger
	bufSize int

	mu     sync.Mutex
	nextID uint64
	closed bool
	topics map[Topic]*topicState
}

// New creates a Bus with the session (replay-latest) and broadcast topics.
func New(bufSize int, log *slog.Logger) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:     log,
		bufSize: bufSize,
		topics: map[Topic]*topicState{
			TopicSession:   {replay: true, subs: map[uint64]*subscriber{}},
			TopicBroadcast: {subs: map[uint64]*subscriber{}},
		},
	}
}

// Publish delivers e to every current subscriber of t, in publish order.
// It never blocks. Events published after Complete or Close are discarded.
func (b *Bus) Publish(t Topic, e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.topics[t]
	if !ok || b.closed || ts.completed {
		b.log.Debug("bus: publish discarded", "topic", t, "type", e.Kind())
		return
	}
	if ts.replay {
		ts.last = e
	}
	for id, s := range ts.subs {
		select {
		case s.ch <- e:
		default:
			b.log.Warn("bus: subscriber buffer full, event dropped",
				"topic", t, "type", e.Kind(), "subscriber", id)
		}
	}
}

// Subscribe returns a channel of events published on t from now on. On a
// replay topic the latest event is delivered first. The channel is closed
// when ctx is done, the topic is completed or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, t Topic) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	ts, ok := b.topics[t]
	if !ok {
		return nil, ErrUnknownTopic
	}

	s := &subscriber{
		ch:   make(chan Event, b.bufSize),
		done: make(chan struct{}),
	}
	if ts.replay && ts.last != nil {
		s.ch <- ts.last
	}
	if ts.completed {
		s.close()
		return s.ch, nil
	}

	b.nextID++
	id := b.nextID
	ts.subs[id] = s

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(t, id)
		case <-s.done:
		}
	}()
	return s.ch, nil
}

func (b *Bus) unsubscribe(t Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.topics[t]
	if s, ok := ts.subs[id]; ok {
		delete(ts.subs, id)
		s.close()
	}
}

// Subscribers reports the number of live subscribers on t.
func (b *Bus) Subscribers(t Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ts, ok := b.topics[t]; ok {
		return len(ts.subs)
	}
	return 0
}

// Complete ends the sequence on t. Current subscribers see their channel
// closed; later subscribers get the replayed event (if any) and a closed channel.
func (b *Bus) Complete(t Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.topics[t]
	if !ok || ts.completed {
		return
	}
	ts.completed = true
	for id, s := range ts.subs {
		delete(ts.subs, id)
		s.close()
	}
}

// Close completes every topic and rejects further subscriptions. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := make([]Topic, 0, len(b.topics))
	for t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		b.Complete(t)
	}
}
