package events

import (
	"context"
	"sync"

	"fixedterm/core/types"
)

const (
	defaultStreamHistory = 1024
	subscriberBuffer     = 64
)

// StreamUpdate is one streamed event. Sequence starts at 1 and is the cursor
// clients resume from.
type StreamUpdate struct {
	Sequence uint64
	Event    types.Event
}

// Stream is an Emitter that keeps a bounded history of envelope events and
// fans them out to live subscribers. Slow subscribers miss updates instead of
// blocking the emitter.
type Stream struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	history []StreamUpdate
	subs    map[uint64]chan StreamUpdate
	nextID  uint64
}

// NewStream keeps up to history past events for resuming subscribers.
func NewStream(history int) *Stream {
	if history <= 0 {
		history = defaultStreamHistory
	}
	return &Stream{limit: history, subs: make(map[uint64]chan StreamUpdate)}
}

func cloneEvent(evt *types.Event) types.Event {
	out := types.Event{Type: evt.Type, Attributes: make(map[string]string, len(evt.Attributes))}
	for k, v := range evt.Attributes {
		out.Attributes[k] = v
	}
	return out
}

// Emit implements Emitter. Events without an attribute payload are ignored.
func (s *Stream) Emit(e Event) {
	env, ok := e.(Envelope)
	if !ok || env.Event() == nil {
		return
	}
	evt := cloneEvent(env.Event())

	s.mu.Lock()
	s.seq++
	update := StreamUpdate{Sequence: s.seq, Event: evt}
	s.history = append(s.history, update)
	if len(s.history) > s.limit {
		trimmed := make([]StreamUpdate, s.limit)
		copy(trimmed, s.history[len(s.history)-s.limit:])
		s.history = trimmed
	}
	// Sends happen under the lock so cancel cannot close a channel mid-send.
	for _, ch := range s.subs {
		select {
		case ch <- StreamUpdate{Sequence: update.Sequence, Event: cloneEvent(&evt)}:
		default:
		}
	}
	s.mu.Unlock()
}

// Subscribe registers a subscriber and returns the retained updates after
// the since cursor. The channel is closed by cancel or when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, since uint64) (<-chan StreamUpdate, func(), []StreamUpdate) {
	updates := make(chan StreamUpdate, subscriberBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]StreamUpdate, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > since {
			backlog = append(backlog, StreamUpdate{Sequence: entry.Sequence, Event: cloneEvent(&entry.Event)})
		}
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
