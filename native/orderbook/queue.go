package orderbook

import (
	"fixedterm/native/fixedterm/fp32"
	"fixedterm/native/orderbook/critbit"
)

// EventKind distinguishes queued maker-side effects.
type EventKind uint8

const (
	// EventFill reports that a resting order traded.
	EventFill EventKind = iota + 1
	// EventOut reports that a resting remainder left the book without
	// trading, e.g. because it fell below the minimum order size.
	EventOut
)

func (k EventKind) String() string {
	switch k {
	case EventFill:
		return "fill"
	case EventOut:
		return "out"
	default:
		return "unknown"
	}
}

// Event is a maker-side effect awaiting consumption. Side is the maker's side.
type Event struct {
	Kind         EventKind
	Seq          uint64
	Side         Side
	OrderID      critbit.Key
	Price        fp32.Fp32
	BaseSize     uint64
	QuoteSize    uint64
	MakerQuote   uint64
	MakerRemoved bool
	Maker        CallbackInfo
	Taker        CallbackInfo
	Timestamp    uint64
}

// EventQueue is a fixed-capacity FIFO ring. Head and Tail are absolute
// positions; the slot of position i is i&mask. Capacity is rounded up to a
// power of two.
type EventQueue struct {
	Head   uint64
	Tail   uint64
	Buffer []Event
}

// NewEventQueue allocates a queue holding at least capacity events.
func NewEventQueue(capacity uint32) (*EventQueue, error) {
	if capacity == 0 || capacity > 1<<30 {
		return nil, ErrInvalidParams
	}
	size := uint32(1)
	for size < capacity {
		size <<= 1
	}
	return &EventQueue{Buffer: make([]Event, size)}, nil
}

func (q *EventQueue) mask() uint64 { return uint64(len(q.Buffer)) - 1 }

// Len returns the number of queued events.
func (q *EventQueue) Len() int { return int(q.Tail - q.Head) }

// Cap returns the queue capacity.
func (q *EventQueue) Cap() int { return len(q.Buffer) }

// Free returns how many events can still be pushed.
func (q *EventQueue) Free() int { return q.Cap() - q.Len() }

// SeqNum returns the sequence number the next pushed event will carry.
func (q *EventQueue) SeqNum() uint64 { return q.Tail }

// Push appends ev, stamping its sequence number.
func (q *EventQueue) Push(ev Event) error {
	if q.Free() <= 0 {
		return ErrQueueFull
	}
	ev.Seq = q.Tail
	q.Buffer[q.Tail&q.mask()] = ev
	q.Tail++
	return nil
}

// Peek copies up to n events from the head without removing them.
func (q *EventQueue) Peek(n int) []Event {
	if n > q.Len() || n < 0 {
		n = q.Len()
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = q.Buffer[(q.Head+uint64(i))&q.mask()]
	}
	return out
}

// Pop discards up to n events from the head and returns how many went.
func (q *EventQueue) Pop(n int) int {
	if n > q.Len() || n < 0 {
		n = q.Len()
	}
	for i := 0; i < n; i++ {
		q.Buffer[(q.Head+uint64(i))&q.mask()] = Event{}
	}
	q.Head += uint64(n)
	return n
}
